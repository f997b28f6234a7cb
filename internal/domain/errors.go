package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrNoRoute           = errors.New("no swap route")
	ErrSwapBuildFailed   = errors.New("swap transaction build failed")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateOrder    = errors.New("order already in book")
	ErrNotImplemented    = errors.New("not implemented")
)

// ErrorKind classifies a TradeError for transport mapping.
type ErrorKind int

const (
	// KindInternal is an unexpected failure (500).
	KindInternal ErrorKind = iota
	// KindValidation is a malformed request: bad address, amount or missing field.
	KindValidation
	// KindNotFound covers unknown tokens, orders and transaction hashes.
	KindNotFound
	// KindExpired is a pending-order cache miss.
	KindExpired
	// KindRejected is an upstream or chain refusal attributable to the input.
	KindRejected
	// KindUpstream is a transient aggregator or RPC failure.
	KindUpstream
	// KindForbidden is an ownership mismatch.
	KindForbidden
	// KindConflict is a state transition that is no longer allowed.
	KindConflict
)

// Stable error codes returned to clients.
const (
	CodeMissingFields               = "missing_fields"
	CodeInvalidRequest              = "invalid_request"
	CodeInvalidWallet               = "invalid_wallet_address"
	CodeTokenNotFound               = "token_not_found"
	CodeInsufficientBalance         = "insufficient_balance"
	CodeNoRoute                     = "NO_ROUTE"
	CodeSwapBuildFailed             = "SWAP_BUILD_FAILED"
	CodeExpiredOrNotFound           = "expired_or_not_found"
	CodeInvalidSignature            = "invalid_signature"
	CodeInvalidFormat               = "invalid_format"
	CodeInvalidSignatureOrStructure = "invalid_signature_or_structure"
	CodeSubmissionFailed            = "submission_failed"
	CodeOrderNotFound               = "order_not_found"
	CodeForbidden                   = "forbidden"
	CodeAlreadyExecuted             = "already_executed"
	CodeNotCancellable              = "not_cancellable"
	CodeOrderNotPending             = "order_not_pending"
	CodeUpstreamUnavailable         = "upstream_unavailable"
	CodeOrderBookNotFound           = "order_book_not_found"
	CodeInternal                    = "internal_error"
)

// TradeError is the typed error surfaced by the order lifecycle. Code and
// Message are safe to return to clients; Err keeps the underlying cause for
// logs and errors.Is.
type TradeError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// NewTradeError builds a TradeError.
func NewTradeError(kind ErrorKind, code, message string, err error) *TradeError {
	return &TradeError{Kind: kind, Code: code, Message: message, Err: err}
}

func (e *TradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TradeError) Unwrap() error { return e.Err }

// AsTradeError extracts a TradeError from err's chain.
func AsTradeError(err error) (*TradeError, bool) {
	var te *TradeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
