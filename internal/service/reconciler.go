package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/metrics"
)

const (
	reasonNotOnChain    = "Transaction not found on blockchain"
	reasonFailedOnChain = "Transaction failed on blockchain"

	defaultSweepBatch = 100
)

// VerifyResult is the reconciled state of an order.
type VerifyResult struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Message string             `json:"message"`
}

// SweepReport summarizes one Sweep pass.
type SweepReport struct {
	Expired  int
	Verified int
	Errors   int
}

// Reconciler confirms submitted orders against the chain and expires
// orders that were never signed.
type Reconciler struct {
	orders     domain.OrderStore
	chain      ChainInspector
	books      *OrderBookService
	pendingTTL time.Duration
	batch      int
	metrics    *metrics.Metrics
	emit       emitter
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a Reconciler. books may be nil when no order book
// runs in this process.
func NewReconciler(
	orders domain.OrderStore,
	chain ChainInspector,
	books *OrderBookService,
	pendingTTL time.Duration,
	bus domain.SignalBus,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	logger = logger.With(slog.String("component", "reconciler"))
	return &Reconciler{
		orders:     orders,
		chain:      chain,
		books:      books,
		pendingTTL: pendingTTL,
		batch:      defaultSweepBatch,
		metrics:    m,
		emit:       emitter{bus: bus, logger: logger},
		logger:     logger,
		now:        time.Now,
	}
}

// Verify reconciles the order submitted under txHash with the chain. Failed
// and cancelled orders are returned unchanged, so repeated calls are safe.
func (r *Reconciler) Verify(ctx context.Context, txHash string) (VerifyResult, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return VerifyResult{}, domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Transaction hash is required", nil)
	}
	order, err := r.orders.GetByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return VerifyResult{}, domain.NewTradeError(domain.KindNotFound, domain.CodeOrderNotFound,
				"Order not found", err)
		}
		return VerifyResult{}, fmt.Errorf("reconciler: verify: %w", err)
	}
	return r.reconcile(ctx, order)
}

func (r *Reconciler) reconcile(ctx context.Context, order domain.TradingOrder) (VerifyResult, error) {
	if order.Status.Sticky() {
		return resultFor(order), nil
	}

	status, err := r.chain.TransactionStatus(ctx, order.TxHash)
	if err != nil {
		return VerifyResult{}, domain.NewTradeError(domain.KindUpstream, domain.CodeUpstreamUnavailable,
			"Failed to query transaction", err)
	}

	now := r.now().UTC()
	switch status.State {
	case domain.ChainTxSucceeded:
		if err := r.orders.MarkExecuted(ctx, order.OrderID, now); err != nil {
			return VerifyResult{}, fmt.Errorf("reconciler: mark executed: %w", err)
		}
		if order.Status == domain.OrderStatusPending && r.books != nil {
			r.books.Remove(order.OrderID)
		}
		if err := r.orders.MarkVerified(ctx, order.OrderID, now); err != nil {
			r.logger.WarnContext(ctx, "mark verified failed",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
		if order.Status == domain.OrderStatusPending {
			r.emit.orderEvent(ctx, domain.OrderEvent{
				Event:           domain.EventOrderExecuted,
				OrderID:         order.OrderID,
				TransactionHash: order.TxHash,
				WalletAddress:   order.WalletAddress,
				Status:          string(domain.OrderStatusExecuted),
			})
		}
		order.Status = domain.OrderStatusExecuted
		r.metrics.Reconciled("executed")
		return resultFor(order), nil

	default:
		reason := reasonNotOnChain
		if status.State == domain.ChainTxFailed {
			reason = reasonFailedOnChain
		}
		if err := r.orders.MarkFailed(ctx, order.OrderID, reason); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Cancelled concurrently.
				return r.reload(ctx, order.OrderID)
			}
			return VerifyResult{}, fmt.Errorf("reconciler: mark failed: %w", err)
		}
		if r.books != nil {
			r.books.Remove(order.OrderID)
		}
		if err := r.orders.MarkVerified(ctx, order.OrderID, now); err != nil {
			r.logger.WarnContext(ctx, "mark verified failed",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
		r.emit.orderEvent(ctx, domain.OrderEvent{
			Event:           domain.EventOrderFailed,
			OrderID:         order.OrderID,
			TransactionHash: order.TxHash,
			WalletAddress:   order.WalletAddress,
			Status:          string(domain.OrderStatusFailed),
			Reason:          reason,
		})
		r.logger.WarnContext(ctx, "order failed on chain",
			slog.String("order_id", order.OrderID),
			slog.String("tx_hash", order.TxHash),
			slog.String("reason", reason),
			slog.String("chain_error", status.Err),
		)
		order.Status = domain.OrderStatusFailed
		order.ErrorMessage = reason
		r.metrics.Reconciled("failed")
		return resultFor(order), nil
	}
}

func (r *Reconciler) reload(ctx context.Context, orderID string) (VerifyResult, error) {
	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reconciler: reload: %w", err)
	}
	return resultFor(order), nil
}

func resultFor(o domain.TradingOrder) VerifyResult {
	res := VerifyResult{OrderID: o.OrderID, Status: o.Status}
	switch o.Status {
	case domain.OrderStatusExecuted:
		res.Message = "Transaction confirmed"
	case domain.OrderStatusCancelled:
		res.Message = "Order cancelled"
	case domain.OrderStatusFailed:
		res.Message = o.ErrorMessage
		if res.Message == "" {
			res.Message = "Transaction failed"
		}
	default:
		res.Message = "Transaction pending"
	}
	return res
}

// Sweep fails unsigned orders older than twice the pending TTL and verifies
// submitted orders the reconciler has not confirmed yet. The extra TTL of
// grace leaves room for a submission that claimed its cache entry just
// before it expired.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport

	cutoff := r.now().UTC().Add(-2 * r.pendingTTL)
	stale, err := r.orders.ListStaleUnsigned(ctx, cutoff, r.batch)
	if err != nil {
		return rep, fmt.Errorf("reconciler: list stale: %w", err)
	}
	for _, o := range stale {
		if err := r.orders.ExpireUnsigned(ctx, o.OrderID, reasonExpired); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Claimed by a submission since the listing.
				continue
			}
			rep.Errors++
			r.logger.WarnContext(ctx, "expire stale order failed",
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Expired++
		r.metrics.Expired()
	}

	// Give the network one TTL to land a fresh submission before a missing
	// transaction counts as a failure.
	settled := r.now().UTC().Add(-r.pendingTTL)
	unverified, err := r.orders.ListUnverified(ctx, settled, r.batch)
	if err != nil {
		return rep, fmt.Errorf("reconciler: list unverified: %w", err)
	}
	for _, o := range unverified {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if _, err := r.reconcile(ctx, o); err != nil {
			rep.Errors++
			r.logger.WarnContext(ctx, "verify order failed",
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Verified++
	}

	r.logger.InfoContext(ctx, "reconcile sweep done",
		slog.Int("expired", rep.Expired),
		slog.Int("verified", rep.Verified),
		slog.Int("errors", rep.Errors),
	)
	return rep, nil
}
