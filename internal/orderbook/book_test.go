package orderbook

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const mint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(id string, side domain.TradeType, price, qty string, at int) Order {
	return Order{
		OrderID:      id,
		TokenAddress: mint,
		Side:         side,
		Price:        d(price),
		Quantity:     d(qty),
		Time:         time.Unix(int64(1_700_000_000+at), 0),
	}
}

func TestAddRestsNonCrossingOrders(t *testing.T) {
	b := New()
	for _, o := range []Order{
		order("b1", domain.TradeTypeBuy, "0.95", "10", 1),
		order("b2", domain.TradeTypeBuy, "0.97", "5", 2),
		order("a1", domain.TradeTypeSell, "1.05", "3", 3),
	} {
		fills, err := b.Add(o)
		if err != nil || len(fills) != 0 {
			t.Fatalf("Add(%s) = %v, %v", o.OrderID, fills, err)
		}
	}

	depth, ok := b.Depth(mint, 0)
	if !ok {
		t.Fatal("expected depth")
	}
	if len(depth.Bids) != 2 || !depth.Bids[0].Price.Equal(d("0.97")) {
		t.Fatalf("bids = %+v", depth.Bids)
	}
	if len(depth.Asks) != 1 || !depth.Asks[0].Quantity.Equal(d("3")) {
		t.Fatalf("asks = %+v", depth.Asks)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	b := New()
	o := order("x", domain.TradeTypeBuy, "1", "1", 0)
	if _, err := b.Add(o); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(o); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("second add: %v", err)
	}

	// Still refused after the order left the book.
	b.Remove("x")
	if _, err := b.Add(o); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("re-add after remove: %v", err)
	}
}

func TestMatchPriceTimePriority(t *testing.T) {
	b := New()
	mustAdd(t, b, order("a-late", domain.TradeTypeSell, "1.00", "4", 2))
	mustAdd(t, b, order("a-early", domain.TradeTypeSell, "1.00", "4", 1))
	mustAdd(t, b, order("a-cheap", domain.TradeTypeSell, "0.90", "2", 3))

	fills := mustAdd(t, b, order("buy", domain.TradeTypeBuy, "1.00", "7", 4))
	if len(fills) != 3 {
		t.Fatalf("fills = %+v", fills)
	}
	want := []struct {
		sell, qty, price string
		sellFilled       bool
	}{
		{"a-cheap", "2", "0.90", true},
		{"a-early", "4", "1.00", true},
		{"a-late", "1", "1.00", false},
	}
	for i, w := range want {
		f := fills[i]
		if f.SellOrderID != w.sell || !f.Quantity.Equal(d(w.qty)) || !f.Price.Equal(d(w.price)) || f.SellFilled != w.sellFilled {
			t.Errorf("fill %d = %+v, want %+v", i, f, w)
		}
	}
	if !fills[2].BuyFilled {
		t.Error("buy order should be complete on last fill")
	}

	rem, ok := b.Remaining("a-late")
	if !ok || !rem.Equal(d("3")) {
		t.Fatalf("a-late remaining = %s, %v", rem, ok)
	}
	if _, ok := b.Remaining("buy"); ok {
		t.Fatal("filled order must not rest")
	}
}

func TestPartialFillRestsRemainder(t *testing.T) {
	b := New()
	mustAdd(t, b, order("bid", domain.TradeTypeBuy, "2", "1", 0))
	fills := mustAdd(t, b, order("ask", domain.TradeTypeSell, "1.5", "3", 1))
	if len(fills) != 1 || fills[0].BuyOrderID != "bid" || !fills[0].Price.Equal(d("2")) {
		t.Fatalf("fills = %+v", fills)
	}
	if fills[0].SellFilled || !fills[0].BuyFilled {
		t.Fatalf("fill flags = %+v", fills[0])
	}
	rem, ok := b.Remaining("ask")
	if !ok || !rem.Equal(d("2")) {
		t.Fatalf("ask remaining = %s", rem)
	}
}

func TestRemoveAndEmptyDepth(t *testing.T) {
	b := New()
	mustAdd(t, b, order("only", domain.TradeTypeBuy, "1", "1", 0))
	if !b.Remove("only") {
		t.Fatal("Remove should report a resting order")
	}
	if b.Remove("only") {
		t.Fatal("second Remove should report false")
	}
	if _, ok := b.Depth(mint, 5); ok {
		t.Fatal("empty book should have no depth")
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d", b.Len())
	}
}

func TestDepthAggregatesLevels(t *testing.T) {
	b := New()
	mustAdd(t, b, order("1", domain.TradeTypeBuy, "1", "1", 0))
	mustAdd(t, b, order("2", domain.TradeTypeBuy, "1", "2", 1))
	mustAdd(t, b, order("3", domain.TradeTypeBuy, "0.5", "1", 2))
	mustAdd(t, b, order("4", domain.TradeTypeBuy, "0.4", "1", 3))

	depth, _ := b.Depth(mint, 2)
	if len(depth.Bids) != 2 {
		t.Fatalf("bids = %+v", depth.Bids)
	}
	if top := depth.Bids[0]; !top.Quantity.Equal(d("3")) || top.Orders != 2 {
		t.Fatalf("top level = %+v", top)
	}
	if len(depth.Asks) != 0 {
		t.Fatalf("asks = %+v", depth.Asks)
	}
}

func TestAddValidates(t *testing.T) {
	b := New()
	if _, err := b.Add(order("z", "hold", "1", "1", 0)); err == nil {
		t.Fatal("invalid side accepted")
	}
	if _, err := b.Add(order("z", domain.TradeTypeBuy, "0", "1", 0)); err == nil {
		t.Fatal("zero price accepted")
	}
}

func mustAdd(t *testing.T, b *Book, o Order) []domain.Fill {
	t.Helper()
	fills, err := b.Add(o)
	if err != nil {
		t.Fatal(err)
	}
	return fills
}
