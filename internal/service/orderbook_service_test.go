package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/orderbook"
)

func limitOrder(id, wallet string, side domain.TradeType, price, qty string, at time.Time) domain.TradingOrder {
	return domain.TradingOrder{
		OrderID:       id,
		WalletAddress: wallet,
		TradeType:     side,
		OrderType:     domain.OrderTypeLimit,
		TokenAddress:  testMint,
		Price:         decimal.RequireFromString(price),
		Quantity:      decimal.RequireFromString(qty),
		Status:        domain.OrderStatusPending,
		TxHash:        "tx-" + id,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func newBookService(orders *memOrders, bus *memBus) *OrderBookService {
	return NewOrderBookService(orderbook.New(), orders, nil, bus, &memAudit{}, nil, nil, discardLogger())
}

func TestAdmitMatchesAndExecutesFilledOrders(t *testing.T) {
	orders, bus := newMemOrders(), newMemBus()
	svc := newBookService(orders, bus)
	now := time.Now().UTC()

	ask := limitOrder("ask", "seller", domain.TradeTypeSell, "1.0", "5", now)
	bid := limitOrder("bid", "buyer", domain.TradeTypeBuy, "1.2", "2", now.Add(time.Second))
	orders.put(ask)
	orders.put(bid)

	if err := svc.Admit(context.Background(), ask); err != nil {
		t.Fatal(err)
	}
	if err := svc.Admit(context.Background(), bid); err != nil {
		t.Fatal(err)
	}

	if got := orders.get(t, "bid"); got.Status != domain.OrderStatusExecuted || got.ExecutedAt == nil {
		t.Fatalf("bid = %+v", got)
	}
	if got := orders.get(t, "ask"); got.Status != domain.OrderStatusPending {
		t.Fatalf("partially filled ask = %s", got.Status)
	}
	if bus.count(domain.ChannelOrderBook) != 1 {
		t.Fatalf("matched events = %d", bus.count(domain.ChannelOrderBook))
	}

	depth, err := svc.Depth(testMint, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(depth.Asks) != 1 || !depth.Asks[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("asks = %+v", depth.Asks)
	}
}

func TestAdmitRefusesMarketOrders(t *testing.T) {
	svc := newBookService(newMemOrders(), newMemBus())
	o := limitOrder("m", "w", domain.TradeTypeBuy, "1", "1", time.Now())
	o.OrderType = domain.OrderTypeMarket
	if err := svc.Admit(context.Background(), o); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("market admit: %v", err)
	}
}

func TestCancel(t *testing.T) {
	orders := newMemOrders()
	svc := newBookService(orders, newMemBus())
	now := time.Now().UTC()

	resting := limitOrder("rest", "owner", domain.TradeTypeBuy, "1", "1", now)
	orders.put(resting)
	if err := svc.Admit(context.Background(), resting); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Cancel(context.Background(), "rest", "intruder")
	if te := wantCode(t, err, domain.CodeForbidden); te.Kind != domain.KindForbidden {
		t.Fatalf("kind = %d", te.Kind)
	}

	got, err := svc.Cancel(context.Background(), "rest", "owner")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusCancelled || orders.get(t, "rest").Status != domain.OrderStatusCancelled {
		t.Fatalf("cancel result = %+v", got)
	}
	if _, err := svc.Depth(testMint, 0); err == nil {
		t.Fatal("cancelled order still in book")
	}

	_, err = svc.Cancel(context.Background(), "rest", "owner")
	wantCode(t, err, domain.CodeNotCancellable)

	done := limitOrder("done", "owner", domain.TradeTypeBuy, "1", "1", now)
	done.Status = domain.OrderStatusExecuted
	orders.put(done)
	_, err = svc.Cancel(context.Background(), "done", "owner")
	wantCode(t, err, domain.CodeAlreadyExecuted)

	_, err = svc.Cancel(context.Background(), "ghost", "owner")
	wantCode(t, err, domain.CodeOrderNotFound)
}

func TestRestoreReadmitsSubmittedLimitOrders(t *testing.T) {
	orders := newMemOrders()
	now := time.Now().UTC()
	orders.put(limitOrder("a", "w", domain.TradeTypeBuy, "1", "1", now))
	orders.put(limitOrder("b", "w", domain.TradeTypeBuy, "0.9", "1", now.Add(time.Second)))
	unsigned := limitOrder("c", "w", domain.TradeTypeBuy, "0.8", "1", now)
	unsigned.TxHash = ""
	orders.put(unsigned)

	svc := newBookService(orders, newMemBus())
	n, err := svc.Restore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("restored %d, want 2", n)
	}
	// Restoring again is a no-op.
	if n, _ := svc.Restore(context.Background()); n != 0 {
		t.Fatalf("second restore admitted %d", n)
	}
}

func TestDepthErrors(t *testing.T) {
	svc := newBookService(newMemOrders(), newMemBus())
	_, err := svc.Depth("", 5)
	wantCode(t, err, domain.CodeMissingFields)
	_, err = svc.Depth(testMint, 5)
	wantCode(t, err, domain.CodeOrderBookNotFound)
}

func TestCancelOnlyLimitOrders(t *testing.T) {
	orders := newMemOrders()
	svc := newBookService(orders, newMemBus())

	market := limitOrder("mkt", "owner", domain.TradeTypeBuy, "1", "1", time.Now())
	market.OrderType = domain.OrderTypeMarket
	market.TxHash = ""
	orders.put(market)

	_, err := svc.Cancel(context.Background(), "mkt", "owner")
	wantCode(t, err, domain.CodeNotCancellable)
	if orders.get(t, "mkt").Status != domain.OrderStatusPending {
		t.Fatal("market order cancelled")
	}
}

func TestCancelUnsignedLimitDropsPendingTransaction(t *testing.T) {
	orders, pending := newMemOrders(), newMemPending()
	svc := NewOrderBookService(orderbook.New(), orders, pending, newMemBus(), &memAudit{}, nil, nil, discardLogger())

	o := limitOrder("unsigned", "owner", domain.TradeTypeBuy, "1", "1", time.Now())
	o.TxHash = ""
	orders.put(o)
	if err := pending.Put(context.Background(), domain.PendingOrder{OrderID: "unsigned", WalletAddress: "owner"}, time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Cancel(context.Background(), "unsigned", "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := pending.Get(context.Background(), "unsigned"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("pending entry survived cancel: %v", err)
	}
}

func TestCancelRefusesClaimedOrderNotYetInBook(t *testing.T) {
	orders := newMemOrders()
	svc := newBookService(orders, newMemBus())

	// tx hash set by a submission that has not been admitted yet.
	orders.put(limitOrder("inflight", "owner", domain.TradeTypeBuy, "1", "1", time.Now()))

	_, err := svc.Cancel(context.Background(), "inflight", "owner")
	wantCode(t, err, domain.CodeNotCancellable)
	if orders.get(t, "inflight").Status != domain.OrderStatusPending {
		t.Fatal("in-flight order cancelled")
	}
}
