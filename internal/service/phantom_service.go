package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/phantomtrade/internal/crypto"
	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/metrics"
	"github.com/alanyoungcy/phantomtrade/internal/txbuilder"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100

	reasonExpired = "expired before signature"
)

// PhantomConfig tunes the external-wallet order flow.
type PhantomConfig struct {
	PendingTTL           time.Duration
	DefaultTokenDecimals int
	// RequireMessageMatch pins a submission to the exact message issued at
	// creation time.
	RequireMessageMatch bool
	DefaultFee          decimal.Decimal
}

// CreateTransactionRequest is the validated input of CreateTransaction.
type CreateTransactionRequest struct {
	TradeType     domain.TradeType
	OrderType     domain.OrderType
	TokenAddress  string
	TokenName     string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	WalletAddress string
}

// TransactionData summarizes the unsigned transaction for the wallet UI.
type TransactionData struct {
	Instructions    []txbuilder.InstructionSummary `json:"instructions"`
	RecentBlockhash string                         `json:"recentBlockhash"`
	FeePayer        string                         `json:"feePayer"`
	Signers         []string                       `json:"signers"`
}

// CreatedTransaction is returned to the client to sign.
type CreatedTransaction struct {
	OrderID               string              `json:"order_id"`
	TransactionData       TransactionData     `json:"transaction_data"`
	SerializedTransaction string              `json:"serialized_transaction"`
	OrderDetails          domain.OrderDetails `json:"order_details"`
	EstimatedFee          decimal.Decimal     `json:"estimated_fee"`
	TimeoutSeconds        int                 `json:"timeout_seconds"`
}

func (c CreatedTransaction) MarshalJSON() ([]byte, error) {
	type plain CreatedTransaction
	return json.Marshal(struct {
		plain
		EstimatedFee json.Number `json:"estimated_fee"`
	}{plain(c), domain.Number(c.EstimatedFee)})
}

// SubmitRequest carries the wallet's signature for a pending order.
type SubmitRequest struct {
	OrderID           string
	Signature         string
	SignedTransaction string
}

// SubmitResult is returned once the network accepted the transaction.
type SubmitResult struct {
	OrderID         string `json:"order_id"`
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
}

// OrderPage is one page of a wallet's submitted orders.
type OrderPage struct {
	Orders []domain.TradingOrder
	Total  int64
	Limit  int
	Offset int
}

// PhantomService runs the external-wallet order lifecycle: it issues
// unsigned swap transactions, accepts the signed result exactly once and
// forwards it to the chain.
type PhantomService struct {
	cfg      PhantomConfig
	quotes   QuoteProvider
	builder  TransactionBuilder
	chain    ChainSubmitter
	balances BalanceReader
	pending  domain.PendingOrderCache
	orders   domain.OrderStore
	tokens   domain.TokenStore
	tokenTTL domain.TokenCache
	books    *OrderBookService
	metrics  *metrics.Metrics
	emit     emitter
	logger   *slog.Logger

	tokenGroup singleflight.Group
	now        func() time.Time
}

// PhantomDeps groups PhantomService collaborators.
type PhantomDeps struct {
	Quotes     QuoteProvider
	Builder    TransactionBuilder
	Chain      ChainSubmitter
	Balances   BalanceReader
	Pending    domain.PendingOrderCache
	Orders     domain.OrderStore
	Tokens     domain.TokenStore
	TokenCache domain.TokenCache
	Books      *OrderBookService
	Bus        domain.SignalBus
	Audit      domain.AuditStore
	Notifier   OrderNotifier
	Metrics    *metrics.Metrics
}

// NewPhantomService creates a PhantomService.
func NewPhantomService(cfg PhantomConfig, deps PhantomDeps, logger *slog.Logger) *PhantomService {
	if cfg.DefaultTokenDecimals <= 0 {
		cfg.DefaultTokenDecimals = 6
	}
	logger = logger.With(slog.String("component", "phantom_service"))
	return &PhantomService{
		cfg:      cfg,
		quotes:   deps.Quotes,
		builder:  deps.Builder,
		chain:    deps.Chain,
		balances: deps.Balances,
		pending:  deps.Pending,
		orders:   deps.Orders,
		tokens:   deps.Tokens,
		tokenTTL: deps.TokenCache,
		books:    deps.Books,
		metrics:  deps.Metrics,
		emit:     emitter{bus: deps.Bus, audit: deps.Audit, notifier: deps.Notifier, logger: logger},
		logger:   logger,
		now:      time.Now,
	}
}

// CreateTransaction prices the swap, builds the unsigned transaction and
// records the order as pending. Nothing is persisted unless the quote, the
// swap payload and the build all succeed.
func (s *PhantomService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (CreatedTransaction, error) {
	if err := validateCreate(req); err != nil {
		return CreatedTransaction{}, err
	}
	wallet, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.WalletAddress))
	if err != nil {
		return CreatedTransaction{}, domain.NewTradeError(domain.KindValidation, domain.CodeInvalidWallet,
			"Invalid wallet address", err)
	}

	token, err := s.lookupToken(ctx, req.TokenAddress)
	if err != nil {
		return CreatedTransaction{}, err
	}

	if req.TradeType == domain.TradeTypeSell && s.balances != nil {
		balance, err := s.balances.TokenBalance(ctx, wallet.String(), token.Address)
		if err != nil {
			return CreatedTransaction{}, domain.NewTradeError(domain.KindUpstream, domain.CodeUpstreamUnavailable,
				"Failed to read token balance", err)
		}
		if balance.LessThan(req.Quantity) {
			return CreatedTransaction{}, domain.NewTradeError(domain.KindValidation, domain.CodeInsufficientBalance,
				fmt.Sprintf("Insufficient token balance: required %s, available %s", req.Quantity, balance), nil)
		}
	}

	decimals := token.Decimals
	if decimals <= 0 {
		decimals = s.cfg.DefaultTokenDecimals
	}
	quote, err := s.quotes.GetQuote(ctx, domain.QuoteRequest{
		TradeType:     req.TradeType,
		TokenAddress:  token.Address,
		TokenDecimals: decimals,
		Price:         req.Price,
		Quantity:      req.Quantity,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoRoute) {
			return CreatedTransaction{}, domain.NewTradeError(domain.KindRejected, domain.CodeNoRoute,
				"Failed to get swap quote", err)
		}
		return CreatedTransaction{}, domain.NewTradeError(domain.KindUpstream, domain.CodeUpstreamUnavailable,
			"Failed to get swap quote", err)
	}

	payload, err := s.quotes.GetSwapPayload(ctx, quote, wallet.String())
	if err != nil {
		if errors.Is(err, domain.ErrSwapBuildFailed) {
			return CreatedTransaction{}, domain.NewTradeError(domain.KindRejected, domain.CodeSwapBuildFailed,
				"Failed to create swap transaction", err)
		}
		return CreatedTransaction{}, domain.NewTradeError(domain.KindUpstream, domain.CodeUpstreamUnavailable,
			"Failed to create swap transaction", err)
	}

	built, err := s.builder.Build(ctx, payload, wallet)
	if err != nil {
		if errors.Is(err, txbuilder.ErrBlockhashUnavailable) {
			return CreatedTransaction{}, domain.NewTradeError(domain.KindUpstream, domain.CodeUpstreamUnavailable,
				"Failed to prepare transaction", err)
		}
		return CreatedTransaction{}, domain.NewTradeError(domain.KindRejected, domain.CodeSwapBuildFailed,
			"Failed to prepare transaction", err)
	}

	now := s.now().UTC()
	name := token.Name
	if name == "" {
		name = req.TokenName
	}
	order := domain.TradingOrder{
		OrderID:       domain.NewOrderID(),
		WalletAddress: wallet.String(),
		TradeType:     req.TradeType,
		OrderType:     req.OrderType,
		TokenName:     name,
		TokenAddress:  token.Address,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TotalValue:    req.Price.Mul(req.Quantity),
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return CreatedTransaction{}, fmt.Errorf("phantom_service: create order: %w", err)
	}

	ttl := s.cfg.PendingTTL
	pending := domain.PendingOrder{
		OrderID:             order.OrderID,
		WalletAddress:       order.WalletAddress,
		UnsignedTransaction: built.Serialized,
		Message:             built.Message,
		Quote:               quote.Raw,
		OrderDetails:        order.Details(),
		CreatedAt:           now,
		TTLSeconds:          int(ttl / time.Second),
	}
	if err := s.pending.Put(ctx, pending, ttl); err != nil {
		// The client cannot sign an order that is not cached, so the row must
		// not stay pending.
		if ferr := s.orders.MarkFailed(ctx, order.OrderID, "pending cache unavailable"); ferr != nil {
			s.logger.ErrorContext(ctx, "mark failed after cache error",
				slog.String("order_id", order.OrderID),
				slog.String("error", ferr.Error()),
			)
		}
		return CreatedTransaction{}, fmt.Errorf("phantom_service: cache pending order: %w", err)
	}

	s.metrics.OrderCreated(string(order.TradeType), string(order.OrderType))
	s.emit.record(ctx, "order_created", map[string]any{
		"order_id":    order.OrderID,
		"wallet":      order.WalletAddress,
		"trade_type":  string(order.TradeType),
		"order_type":  string(order.OrderType),
		"token":       order.TokenAddress,
		"quantity":    order.Quantity.String(),
		"price":       order.Price.String(),
		"in_amount":   quote.InAmount,
		"out_amount":  quote.OutAmount,
		"versioned":   built.Versioned,
		"ttl_seconds": pending.TTLSeconds,
	})
	s.logger.InfoContext(ctx, "transaction created",
		slog.String("order_id", order.OrderID),
		slog.String("wallet", order.WalletAddress),
		slog.String("trade_type", string(order.TradeType)),
		slog.String("order_type", string(order.OrderType)),
		slog.String("token", order.TokenAddress),
	)

	signers := make([]string, 0, len(built.Signers))
	for _, pk := range built.Signers {
		signers = append(signers, pk.String())
	}
	instructions := built.Instructions
	if instructions == nil {
		instructions = []txbuilder.InstructionSummary{}
	}
	return CreatedTransaction{
		OrderID: order.OrderID,
		TransactionData: TransactionData{
			Instructions:    instructions,
			RecentBlockhash: built.RecentBlockhash,
			FeePayer:        wallet.String(),
			Signers:         signers,
		},
		SerializedTransaction: built.Serialized,
		OrderDetails:          order.Details(),
		EstimatedFee:          s.estimatedFee(quote),
		TimeoutSeconds:        pending.TTLSeconds,
	}, nil
}

func validateCreate(req CreateTransactionRequest) error {
	if req.TradeType == "" || req.OrderType == "" || strings.TrimSpace(req.TokenAddress) == "" ||
		strings.TrimSpace(req.WalletAddress) == "" || req.Quantity.IsZero() || req.Price.IsZero() {
		return domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Trade type, order type, token address, price, quantity and wallet address are required", nil)
	}
	if !req.TradeType.Valid() {
		return domain.NewTradeError(domain.KindValidation, domain.CodeInvalidRequest,
			fmt.Sprintf("Unknown trade type %q", req.TradeType), nil)
	}
	if !req.OrderType.Valid() {
		return domain.NewTradeError(domain.KindValidation, domain.CodeInvalidRequest,
			fmt.Sprintf("Unknown order type %q", req.OrderType), nil)
	}
	if req.Price.IsNegative() || req.Quantity.IsNegative() {
		return domain.NewTradeError(domain.KindValidation, domain.CodeInvalidRequest,
			"Price and quantity must be positive", nil)
	}
	return nil
}

func (s *PhantomService) estimatedFee(q domain.Quote) decimal.Decimal {
	if q.FeeLamports > 0 {
		return decimal.NewFromInt(int64(q.FeeLamports)).Shift(-9)
	}
	return s.cfg.DefaultFee
}

// lookupToken resolves token metadata through the cache, falling back to
// the repository. Concurrent lookups of the same mint share one load.
func (s *PhantomService) lookupToken(ctx context.Context, address string) (domain.Token, error) {
	address = strings.TrimSpace(address)
	if s.tokenTTL != nil {
		if t, err := s.tokenTTL.Get(ctx, address); err == nil {
			return t, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "token cache read failed",
				slog.String("token", address),
				slog.String("error", err.Error()),
			)
		}
	}

	v, err, _ := s.tokenGroup.Do(address, func() (any, error) {
		t, err := s.tokens.GetByAddress(ctx, address)
		if err != nil {
			return domain.Token{}, err
		}
		if s.tokenTTL != nil {
			if err := s.tokenTTL.Set(ctx, t); err != nil {
				s.logger.WarnContext(ctx, "token cache write failed",
					slog.String("token", address),
					slog.String("error", err.Error()),
				)
			}
		}
		return t, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Token{}, domain.NewTradeError(domain.KindNotFound, domain.CodeTokenNotFound,
				"Token not found", err)
		}
		return domain.Token{}, fmt.Errorf("phantom_service: lookup token: %w", err)
	}
	return v.(domain.Token), nil
}

// SubmitSignedTransaction claims the pending order, verifies the wallet's
// signature and forwards the transaction. A pending order is claimed at most
// once; every outcome after the claim is terminal.
func (s *PhantomService) SubmitSignedTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.Signature) == "" ||
		strings.TrimSpace(req.SignedTransaction) == "" {
		s.metrics.Submission(domain.CodeMissingFields)
		return SubmitResult{}, domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Order ID, signature and signed transaction are required", nil)
	}

	pending, err := s.pending.Take(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.expireIfUnsigned(ctx, req.OrderID)
			s.metrics.Submission(domain.CodeExpiredOrNotFound)
			return SubmitResult{}, domain.NewTradeError(domain.KindExpired, domain.CodeExpiredOrNotFound,
				"Transaction expired or not found", err)
		}
		return SubmitResult{}, fmt.Errorf("phantom_service: claim pending order: %w", err)
	}

	raw, claim, err := s.validateSigned(pending, req)
	if err != nil {
		return SubmitResult{}, s.reject(ctx, pending, err)
	}

	// The ledger row must still be pending and unclaimed; a cancel or an
	// expiry sweep may have closed it after the cache entry was written.
	if err := s.orders.SetTxHash(ctx, pending.OrderID, claim); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			s.metrics.Submission(domain.CodeOrderNotPending)
			return SubmitResult{}, domain.NewTradeError(domain.KindConflict, domain.CodeOrderNotPending,
				"Order is no longer pending", err)
		case errors.Is(err, domain.ErrNotFound):
			s.metrics.Submission(domain.CodeOrderNotFound)
			return SubmitResult{}, domain.NewTradeError(domain.KindNotFound, domain.CodeOrderNotFound,
				"Order not found", err)
		default:
			return SubmitResult{}, fmt.Errorf("phantom_service: claim order %s: %w", pending.OrderID, err)
		}
	}

	txHash, err := s.chain.SendRaw(ctx, raw)
	if err != nil {
		s.logger.ErrorContext(ctx, "transaction submission failed",
			slog.String("order_id", pending.OrderID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrChainSignatureRejected) {
			return SubmitResult{}, s.reject(ctx, pending, domain.NewTradeError(domain.KindRejected,
				domain.CodeInvalidSignatureOrStructure, "Transaction signature verification failed", err))
		}
		return SubmitResult{}, s.reject(ctx, pending, domain.NewTradeError(domain.KindUpstream,
			domain.CodeSubmissionFailed, "Transaction submission failed", err))
	}

	if txHash != claim {
		s.logger.WarnContext(ctx, "node returned unexpected transaction id",
			slog.String("order_id", pending.OrderID),
			slog.String("claimed", claim),
			slog.String("returned", txHash),
		)
	}
	s.accept(ctx, pending, claim)
	s.metrics.Submission("submitted")
	return SubmitResult{OrderID: pending.OrderID, TransactionHash: claim, Status: "submitted"}, nil
}

// validateSigned runs the structural then cryptographic checks and returns
// the wire bytes to forward with the transaction id (its first signature).
func (s *PhantomService) validateSigned(pending domain.PendingOrder, req SubmitRequest) ([]byte, string, error) {
	sig, err := crypto.DecodeSignature(req.Signature)
	if err != nil {
		return nil, "", domain.NewTradeError(domain.KindValidation, domain.CodeInvalidSignature,
			"Invalid signature", err)
	}
	wallet, err := solana.PublicKeyFromBase58(pending.WalletAddress)
	if err != nil {
		return nil, "", domain.NewTradeError(domain.KindValidation, domain.CodeInvalidFormat,
			"Invalid wallet address", err)
	}
	tx, raw, err := crypto.DecodeTransaction(req.SignedTransaction)
	if err != nil {
		return nil, "", domain.NewTradeError(domain.KindValidation, domain.CodeInvalidFormat,
			"Invalid signed transaction format", err)
	}

	var issued []byte
	if s.cfg.RequireMessageMatch {
		issued = pending.Message
	}
	if err := crypto.VerifyWalletSignature(tx, wallet, sig, issued); err != nil {
		return nil, "", domain.NewTradeError(domain.KindValidation, domain.CodeInvalidSignature,
			"Signature verification failed", err)
	}
	return raw, tx.Signatures[0].String(), nil
}

// reject marks the claimed order failed and returns cause.
func (s *PhantomService) reject(ctx context.Context, pending domain.PendingOrder, cause error) error {
	reason := cause.Error()
	code := domain.CodeInternal
	if te, ok := domain.AsTradeError(cause); ok {
		reason, code = te.Message, te.Code
	}
	if err := s.orders.MarkFailed(ctx, pending.OrderID, reason); err != nil {
		s.logger.ErrorContext(ctx, "mark order failed",
			slog.String("order_id", pending.OrderID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Submission(code)
	s.emit.record(ctx, "order_rejected", map[string]any{
		"order_id": pending.OrderID,
		"wallet":   pending.WalletAddress,
		"code":     code,
		"reason":   reason,
	})
	s.emit.orderEvent(ctx, domain.OrderEvent{
		Event:         domain.EventOrderFailed,
		OrderID:       pending.OrderID,
		WalletAddress: pending.WalletAddress,
		Status:        string(domain.OrderStatusFailed),
		Reason:        reason,
	})
	s.logger.WarnContext(ctx, "submission rejected",
		slog.String("order_id", pending.OrderID),
		slog.String("code", code),
	)
	return cause
}

// accept applies the ledger transition for a transaction the network took.
// The chain state is authoritative from here on, so ledger errors are logged
// rather than returned; the reconciler repairs the row later.
func (s *PhantomService) accept(ctx context.Context, pending domain.PendingOrder, txHash string) {
	logFail := func(op string, err error) {
		s.logger.ErrorContext(ctx, "ledger update after submission failed",
			slog.String("op", op),
			slog.String("order_id", pending.OrderID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}

	switch pending.OrderDetails.OrderType {
	case domain.OrderTypeLimit:
		if s.books != nil {
			order, err := s.orders.GetByID(ctx, pending.OrderID)
			if err != nil {
				logFail("load_limit_order", err)
				break
			}
			if err := s.books.Admit(ctx, order); err != nil {
				logFail("admit_limit_order", err)
			}
		}
	default:
		if err := s.orders.MarkExecuted(ctx, pending.OrderID, s.now().UTC()); err != nil {
			logFail("mark_executed", err)
		}
	}

	s.emit.record(ctx, "transaction_submitted", map[string]any{
		"order_id":   pending.OrderID,
		"wallet":     pending.WalletAddress,
		"tx_hash":    txHash,
		"order_type": string(pending.OrderDetails.OrderType),
	})
	s.emit.orderEvent(ctx, domain.OrderEvent{
		Event:           domain.EventTransactionSubmitted,
		OrderID:         pending.OrderID,
		TransactionHash: txHash,
		WalletAddress:   pending.WalletAddress,
	})
	s.logger.InfoContext(ctx, "transaction submitted",
		slog.String("order_id", pending.OrderID),
		slog.String("tx_hash", txHash),
		slog.String("order_type", string(pending.OrderDetails.OrderType)),
	)
}

// expireIfUnsigned fails a ledger row whose cache entry is gone before any
// signature arrived, so it is never left pending without a way to sign it.
// A miss inside twice the pending TTL may be a duplicate request racing the
// one that took the entry, so those rows are left to Reconciler.Sweep.
func (s *PhantomService) expireIfUnsigned(ctx context.Context, orderID string) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "expire lookup failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if order.Status != domain.OrderStatusPending || order.TxHash != "" {
		return
	}
	if s.now().Before(order.CreatedAt.Add(2 * s.cfg.PendingTTL)) {
		return
	}
	if err := s.orders.ExpireUnsigned(ctx, orderID, reasonExpired); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return
		}
		s.logger.WarnContext(ctx, "expire order failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.Expired()
}

// ListOrders returns a wallet's submitted orders, newest first.
func (s *PhantomService) ListOrders(ctx context.Context, wallet string, limit, offset int) (OrderPage, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return OrderPage{}, domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Phantom wallet address is required", nil)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, total, err := s.orders.ListByWallet(ctx, wallet, domain.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		return OrderPage{}, fmt.Errorf("phantom_service: list orders: %w", err)
	}
	if orders == nil {
		orders = []domain.TradingOrder{}
	}
	return OrderPage{Orders: orders, Total: total, Limit: limit, Offset: offset}, nil
}
