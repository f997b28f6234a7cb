package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/metrics"
	"github.com/alanyoungcy/phantomtrade/internal/orderbook"
)

// MatchEvent is published on the orderbook channel for every fill.
type MatchEvent struct {
	Event        string          `json:"event"`
	TokenAddress string          `json:"token_address"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	At           time.Time       `json:"at"`
}

func (e MatchEvent) MarshalJSON() ([]byte, error) {
	type plain MatchEvent
	return json.Marshal(struct {
		plain
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
	}{plain(e), domain.Number(e.Price), domain.Number(e.Quantity)})
}

// OrderBookService keeps submitted limit orders in the in-memory book and
// mirrors matches and cancellations into the ledger.
type OrderBookService struct {
	book    *orderbook.Book
	orders  domain.OrderStore
	pending domain.PendingOrderCache
	metrics *metrics.Metrics
	emit    emitter
	logger  *slog.Logger
}

// NewOrderBookService creates an OrderBookService.
func NewOrderBookService(
	book *orderbook.Book,
	orders domain.OrderStore,
	pending domain.PendingOrderCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier OrderNotifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OrderBookService {
	logger = logger.With(slog.String("component", "orderbook_service"))
	return &OrderBookService{
		book:    book,
		orders:  orders,
		pending: pending,
		metrics: m,
		emit:    emitter{bus: bus, audit: audit, notifier: notifier, logger: logger},
		logger:  logger,
	}
}

// Admit places a pending limit order in the book. An order is admitted at
// most once; a second call returns domain.ErrDuplicateOrder.
func (s *OrderBookService) Admit(ctx context.Context, order domain.TradingOrder) error {
	if order.OrderType != domain.OrderTypeLimit || order.Status != domain.OrderStatusPending {
		return fmt.Errorf("orderbook_service: admit %s: %w", order.OrderID, domain.ErrInvalidTransition)
	}
	fills, err := s.book.Add(orderbook.Order{
		OrderID:       order.OrderID,
		WalletAddress: order.WalletAddress,
		TokenAddress:  order.TokenAddress,
		Side:          order.TradeType,
		Price:         order.Price,
		Quantity:      order.Quantity,
		Time:          order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("orderbook_service: admit: %w", err)
	}
	s.applyFills(ctx, fills)
	return nil
}

func (s *OrderBookService) applyFills(ctx context.Context, fills []domain.Fill) {
	if len(fills) == 0 {
		return
	}
	s.metrics.BookFills(len(fills))
	for _, f := range fills {
		for _, done := range []struct {
			id     string
			filled bool
		}{{f.BuyOrderID, f.BuyFilled}, {f.SellOrderID, f.SellFilled}} {
			if !done.filled {
				continue
			}
			if err := s.orders.MarkExecuted(ctx, done.id, f.MatchedAt); err != nil {
				s.logger.ErrorContext(ctx, "mark matched order executed",
					slog.String("order_id", done.id),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.emit.notify(ctx, domain.OrderEvent{
				Event:   domain.EventOrderMatched,
				OrderID: done.id,
				Status:  string(domain.OrderStatusExecuted),
				At:      f.MatchedAt,
			})
		}

		s.emit.publish(ctx, domain.ChannelOrderBook, MatchEvent{
			Event:        domain.EventOrderMatched,
			TokenAddress: f.TokenAddress,
			BuyOrderID:   f.BuyOrderID,
			SellOrderID:  f.SellOrderID,
			Price:        f.Price,
			Quantity:     f.Quantity,
			At:           f.MatchedAt,
		})
		s.emit.record(ctx, "order_matched", map[string]any{
			"token":    f.TokenAddress,
			"buy":      f.BuyOrderID,
			"sell":     f.SellOrderID,
			"price":    f.Price.String(),
			"quantity": f.Quantity.String(),
		})
		s.logger.InfoContext(ctx, "limit orders matched",
			slog.String("token", f.TokenAddress),
			slog.String("buy_order_id", f.BuyOrderID),
			slog.String("sell_order_id", f.SellOrderID),
			slog.String("quantity", f.Quantity.String()),
		)
	}
}

// Cancel moves a wallet's pending limit order to cancelled, drops its
// unsigned transaction from the pending cache and takes it out of the book.
func (s *OrderBookService) Cancel(ctx context.Context, orderID, wallet string) (domain.TradingOrder, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(wallet) == "" {
		return domain.TradingOrder{}, domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Order ID and wallet address are required", nil)
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TradingOrder{}, domain.NewTradeError(domain.KindNotFound, domain.CodeOrderNotFound,
				"Order not found", err)
		}
		return domain.TradingOrder{}, fmt.Errorf("orderbook_service: cancel: %w", err)
	}
	if order.WalletAddress != strings.TrimSpace(wallet) {
		return domain.TradingOrder{}, domain.NewTradeError(domain.KindForbidden, domain.CodeForbidden,
			"Order belongs to another wallet", nil)
	}
	if order.OrderType != domain.OrderTypeLimit {
		return domain.TradingOrder{}, domain.NewTradeError(domain.KindConflict, domain.CodeNotCancellable,
			"Only limit orders can be cancelled", nil)
	}
	if err := cancellable(order.Status); err != nil {
		return domain.TradingOrder{}, err
	}
	if _, resting := s.book.Remaining(orderID); order.TxHash != "" && !resting {
		// Claimed by a submission that has not reached the book yet.
		return domain.TradingOrder{}, domain.NewTradeError(domain.KindConflict, domain.CodeNotCancellable,
			"Order submission in progress", nil)
	}

	if err := s.orders.MarkCancelled(ctx, orderID, order.TxHash); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Lost a race with a match or the reconciler; report what won.
			current, gerr := s.orders.GetByID(ctx, orderID)
			if gerr == nil {
				if cerr := cancellable(current.Status); cerr != nil {
					return domain.TradingOrder{}, cerr
				}
			}
			return domain.TradingOrder{}, domain.NewTradeError(domain.KindConflict, domain.CodeNotCancellable,
				"Order can no longer be cancelled", err)
		}
		return domain.TradingOrder{}, fmt.Errorf("orderbook_service: cancel: %w", err)
	}
	s.book.Remove(orderID)
	if s.pending != nil {
		if err := s.pending.Delete(ctx, orderID); err != nil {
			s.logger.WarnContext(ctx, "drop pending transaction failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	s.emit.record(ctx, "order_cancelled", map[string]any{"order_id": orderID, "wallet": order.WalletAddress})
	s.emit.orderEvent(ctx, domain.OrderEvent{
		Event:         domain.EventOrderCancelled,
		OrderID:       orderID,
		WalletAddress: order.WalletAddress,
		Status:        string(domain.OrderStatusCancelled),
	})
	s.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", orderID))
	return order, nil
}

func cancellable(status domain.OrderStatus) error {
	switch status {
	case domain.OrderStatusPending:
		return nil
	case domain.OrderStatusExecuted:
		return domain.NewTradeError(domain.KindConflict, domain.CodeAlreadyExecuted,
			"Order already executed", nil)
	default:
		return domain.NewTradeError(domain.KindConflict, domain.CodeNotCancellable,
			fmt.Sprintf("Order is %s", status), nil)
	}
}

// Remove drops an order from the book without touching the ledger.
func (s *OrderBookService) Remove(orderID string) bool {
	return s.book.Remove(orderID)
}

// Restore re-admits submitted pending limit orders after a restart, in
// creation order so time priority is preserved.
func (s *OrderBookService) Restore(ctx context.Context) (int, error) {
	orders, err := s.orders.ListPendingLimit(ctx)
	if err != nil {
		return 0, fmt.Errorf("orderbook_service: restore: %w", err)
	}
	restored := 0
	for _, o := range orders {
		if err := s.Admit(ctx, o); err != nil {
			if !errors.Is(err, domain.ErrDuplicateOrder) {
				s.logger.WarnContext(ctx, "restore order skipped",
					slog.String("order_id", o.OrderID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		restored++
	}
	s.logger.InfoContext(ctx, "order book restored", slog.Int("orders", restored))
	return restored, nil
}

// Depth returns the aggregated book for a token.
func (s *OrderBookService) Depth(tokenAddress string, levels int) (domain.BookDepth, error) {
	tokenAddress = strings.TrimSpace(tokenAddress)
	if tokenAddress == "" {
		return domain.BookDepth{}, domain.NewTradeError(domain.KindValidation, domain.CodeMissingFields,
			"Token address is required", nil)
	}
	depth, ok := s.book.Depth(tokenAddress, levels)
	if !ok {
		return domain.BookDepth{}, domain.NewTradeError(domain.KindNotFound, domain.CodeOrderBookNotFound,
			"No order book data available for this token", nil)
	}
	return depth, nil
}
