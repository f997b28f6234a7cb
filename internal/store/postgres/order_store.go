package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// rowExecer is the subset of *pgxpool.Pool used by guarded transitions.
type rowExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderStore implements domain.OrderStore on the trading_orders table.
type OrderStore struct {
	pool *pgxpool.Pool
	db   rowExecer
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool, db: pool}
}

const orderSelectCols = `order_id, wallet_id, wallet_address, trade_type, order_type,
	token_name, token_address, quantity, price, total_value, status,
	COALESCE(tx_hash, ''), executed_at, verified_at, error_message, created_at, updated_at`

// Create inserts a new ledger row. A duplicate order_id yields
// domain.ErrAlreadyExists.
func (s *OrderStore) Create(ctx context.Context, o domain.TradingOrder) error {
	const query = `
		INSERT INTO trading_orders (
			order_id, wallet_id, wallet_address, trade_type, order_type,
			token_name, token_address, quantity, price, total_value,
			status, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := o.Status
	if status == "" {
		status = domain.OrderStatusPending
	}

	_, err := s.pool.Exec(ctx, query,
		o.OrderID, o.WalletID, o.WalletAddress, string(o.TradeType), string(o.OrderType),
		o.TokenName, o.TokenAddress, o.Quantity, o.Price, o.TotalValue,
		string(status), o.ErrorMessage, created,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create order %s: %w", o.OrderID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound when no row matches.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (domain.TradingOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM trading_orders WHERE order_id = $1`, orderID)
	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingOrder{}, domain.ErrNotFound
		}
		return domain.TradingOrder{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return o, nil
}

// GetByTxHash returns domain.ErrNotFound when no row carries txHash.
func (s *OrderStore) GetByTxHash(ctx context.Context, txHash string) (domain.TradingOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM trading_orders WHERE tx_hash = $1`, txHash)
	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingOrder{}, domain.ErrNotFound
		}
		return domain.TradingOrder{}, fmt.Errorf("postgres: get order by tx %s: %w", txHash, err)
	}
	return o, nil
}

// SetTxHash claims a pending order for submission. An order carries at most
// one hash.
func (s *OrderStore) SetTxHash(ctx context.Context, orderID, txHash string) error {
	return s.transition(ctx, "set tx hash", orderID, setTxHashSQL, txHash)
}

// MarkExecuted moves a pending order to executed. Calling it on an order that
// is already executed is a no-op.
func (s *OrderStore) MarkExecuted(ctx context.Context, orderID string, at time.Time) error {
	return s.transition(ctx, "mark executed", orderID, markExecutedSQL, at)
}

// MarkFailed records a failure. Cancelled orders stay cancelled.
func (s *OrderStore) MarkFailed(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, "mark failed", orderID, markFailedSQL, reason)
}

// ExpireUnsigned fails a pending order that was never claimed for
// submission.
func (s *OrderStore) ExpireUnsigned(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, "expire unsigned", orderID, expireUnsignedSQL, reason)
}

// MarkCancelled moves a pending order to cancelled unless a submission
// claimed it since the caller read txHash.
func (s *OrderStore) MarkCancelled(ctx context.Context, orderID, txHash string) error {
	return s.transition(ctx, "mark cancelled", orderID, markCancelledSQL, txHash)
}

// MarkVerified stamps the reconciler's confirmation time.
func (s *OrderStore) MarkVerified(ctx context.Context, orderID string, at time.Time) error {
	return s.transition(ctx, "mark verified", orderID, markVerifiedSQL, at)
}

// Guarded transitions. $1 is always the order id.
const (
	setTxHashSQL = `UPDATE trading_orders SET tx_hash = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending' AND tx_hash IS NULL`
	markExecutedSQL = `UPDATE trading_orders
		SET status = 'executed', executed_at = COALESCE(executed_at, $2), updated_at = NOW()
		WHERE order_id = $1 AND status IN ('pending', 'executed')`
	markFailedSQL = `UPDATE trading_orders
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE order_id = $1 AND status <> 'cancelled'`
	expireUnsignedSQL = `UPDATE trading_orders
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending' AND tx_hash IS NULL`
	markCancelledSQL = `UPDATE trading_orders SET status = 'cancelled', updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending' AND COALESCE(tx_hash, '') = $2`
	markVerifiedSQL = `UPDATE trading_orders SET verified_at = $2, updated_at = NOW() WHERE order_id = $1`
	orderExistsSQL  = `SELECT EXISTS(SELECT 1 FROM trading_orders WHERE order_id = $1)`
)

// transition runs a guarded UPDATE. When nothing changed it distinguishes a
// missing row (ErrNotFound) from a guard miss (ErrInvalidTransition).
func (s *OrderStore) transition(ctx context.Context, op, orderID, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, append([]any{orderID}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, orderID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, orderExistsSQL, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, orderID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

// ListByWallet returns orders that reached submission (tx_hash set) for a
// wallet, newest first, with the unpaginated total.
func (s *OrderStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.TradingOrder, int64, error) {
	var w whereBuilder
	w.add("wallet_address = $%d", wallet)
	w.clauses = append(w.clauses, "tx_hash IS NOT NULL")
	w.addRange("created_at", opts)
	where := w.sql()

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trading_orders`+where, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count orders for %s: %w", wallet, err)
	}

	query := `SELECT ` + orderSelectCols + ` FROM trading_orders` + where +
		` ORDER BY created_at DESC` + w.page(opts)
	orders, err := s.queryOrders(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list orders for %s: %w", wallet, err)
	}
	return orders, total, nil
}

// ListPendingLimit returns submitted limit orders still resting, oldest first.
func (s *OrderStore) ListPendingLimit(ctx context.Context) ([]domain.TradingOrder, error) {
	orders, err := s.queryOrders(ctx, `SELECT `+orderSelectCols+` FROM trading_orders
		WHERE status = 'pending' AND order_type = 'limit' AND tx_hash IS NOT NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending limit orders: %w", err)
	}
	return orders, nil
}

// ListStaleUnsigned returns pending orders never submitted, created before
// the cutoff.
func (s *OrderStore) ListStaleUnsigned(ctx context.Context, before time.Time, limit int) ([]domain.TradingOrder, error) {
	orders, err := s.queryOrders(ctx, `SELECT `+orderSelectCols+` FROM trading_orders
		WHERE status = 'pending' AND tx_hash IS NULL AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale unsigned orders: %w", err)
	}
	return orders, nil
}

// ListUnverified returns submitted, non-sticky orders without verified_at
// last updated before the cutoff.
func (s *OrderStore) ListUnverified(ctx context.Context, before time.Time, limit int) ([]domain.TradingOrder, error) {
	orders, err := s.queryOrders(ctx, `SELECT `+orderSelectCols+` FROM trading_orders
		WHERE tx_hash IS NOT NULL AND verified_at IS NULL AND status IN ('pending', 'executed')
			AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unverified orders: %w", err)
	}
	return orders, nil
}

// ListTerminalBefore pages through executed, failed and cancelled orders last
// updated before the cutoff that have not been archived yet.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.TradingOrder, error) {
	var w whereBuilder
	w.clauses = append(w.clauses, "status IN ('executed', 'failed', 'cancelled')", "archived_at IS NULL")
	w.add("updated_at < $%d", before)
	query := `SELECT ` + orderSelectCols + ` FROM trading_orders` + w.sql() +
		` ORDER BY updated_at ASC, order_id ASC` + w.page(opts)
	orders, err := s.queryOrders(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	return orders, nil
}

// MarkArchived stamps archived_at on terminal orders so later archive runs
// skip them. It returns the number of rows stamped.
func (s *OrderStore) MarkArchived(ctx context.Context, orderIDs []string, at time.Time) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `UPDATE trading_orders SET archived_at = $2
		WHERE order_id = ANY($1) AND archived_at IS NULL AND status <> 'pending'`, orderIDs, at)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark archived: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *OrderStore) queryOrders(ctx context.Context, query string, args ...any) ([]domain.TradingOrder, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrderFromRow(row pgx.Row) (domain.TradingOrder, error) {
	var (
		o                           domain.TradingOrder
		tradeType, orderType, state string
	)
	err := row.Scan(
		&o.OrderID, &o.WalletID, &o.WalletAddress, &tradeType, &orderType,
		&o.TokenName, &o.TokenAddress, &o.Quantity, &o.Price, &o.TotalValue, &state,
		&o.TxHash, &o.ExecutedAt, &o.VerifiedAt, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.TradingOrder{}, err
	}
	o.TradeType = domain.TradeType(tradeType)
	o.OrderType = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(state)
	return o, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
