package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists the trading order ledger. Rows are never deleted.
type OrderStore interface {
	Create(ctx context.Context, order TradingOrder) error
	GetByID(ctx context.Context, orderID string) (TradingOrder, error)
	GetByTxHash(ctx context.Context, txHash string) (TradingOrder, error)
	// SetTxHash claims a pending order for submission by recording its
	// transaction signature. It returns ErrInvalidTransition when the order is
	// no longer pending or already carries a hash.
	SetTxHash(ctx context.Context, orderID, txHash string) error
	MarkExecuted(ctx context.Context, orderID string, at time.Time) error
	MarkFailed(ctx context.Context, orderID, reason string) error
	// ExpireUnsigned fails a pending order that never received a tx hash.
	ExpireUnsigned(ctx context.Context, orderID, reason string) error
	// MarkCancelled transitions a pending order to cancelled provided its tx
	// hash still equals txHash ("" for an unsigned order). Otherwise it
	// returns ErrInvalidTransition.
	MarkCancelled(ctx context.Context, orderID, txHash string) error
	MarkVerified(ctx context.Context, orderID string, at time.Time) error
	// ListByWallet returns submitted orders for wallet, newest first, plus
	// the total count ignoring pagination.
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]TradingOrder, int64, error)
	ListPendingLimit(ctx context.Context) ([]TradingOrder, error)
	// ListStaleUnsigned returns pending orders without a tx hash created
	// before the cutoff.
	ListStaleUnsigned(ctx context.Context, before time.Time, limit int) ([]TradingOrder, error)
	// ListUnverified returns orders with a tx hash that the reconciler has
	// not confirmed yet and that were last updated before the cutoff.
	ListUnverified(ctx context.Context, before time.Time, limit int) ([]TradingOrder, error)
	// ListTerminalBefore pages through terminal orders updated before the
	// cutoff that MarkArchived has not stamped.
	ListTerminalBefore(ctx context.Context, before time.Time, opts ListOpts) ([]TradingOrder, error)
	MarkArchived(ctx context.Context, orderIDs []string, at time.Time) (int64, error)
}

// TokenStore is the token repository keyed by mint address.
type TokenStore interface {
	GetByAddress(ctx context.Context, address string) (Token, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
