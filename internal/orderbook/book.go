// Package orderbook keeps resting limit orders per token in price-time
// priority and matches crossing orders.
package orderbook

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const DefaultDepth = 20

type tokenBook struct {
	bids *queue
	asks *queue
}

// Book is an in-memory set of per-token books guarded by a single mutex.
type Book struct {
	mu     sync.Mutex
	tokens map[string]*tokenBook
	live   map[string]*entry
	// seen holds every order id ever admitted, so an order enters at most
	// once even after it has been filled or removed.
	seen map[string]struct{}
	now  func() time.Time
}

// New creates an empty Book.
func New() *Book {
	return &Book{
		tokens: make(map[string]*tokenBook),
		live:   make(map[string]*entry),
		seen:   make(map[string]struct{}),
		now:    time.Now,
	}
}

// Add admits o, matches it against the opposite side while prices cross and
// rests any remainder. Fills execute at the resting order's price.
func (b *Book) Add(o Order) ([]domain.Fill, error) {
	if !o.Side.Valid() {
		return nil, fmt.Errorf("orderbook: add %s: invalid side %q", o.OrderID, o.Side)
	}
	if !o.Quantity.IsPositive() || !o.Price.IsPositive() {
		return nil, fmt.Errorf("orderbook: add %s: price and quantity must be positive", o.OrderID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.seen[o.OrderID]; dup {
		return nil, fmt.Errorf("orderbook: add %s: %w", o.OrderID, domain.ErrDuplicateOrder)
	}
	b.seen[o.OrderID] = struct{}{}

	now := b.now().UTC()
	if o.Time.IsZero() {
		o.Time = now
	}
	tb := b.tokens[o.TokenAddress]
	if tb == nil {
		tb = &tokenBook{bids: newBids(), asks: newAsks()}
		b.tokens[o.TokenAddress] = tb
	}

	in := &entry{Order: o, remaining: o.Quantity}
	own, opposite := tb.bids, tb.asks
	if o.Side == domain.TradeTypeSell {
		own, opposite = tb.asks, tb.bids
	}

	var fills []domain.Fill
	for in.remaining.IsPositive() {
		best := opposite.peek()
		if best == nil || !crosses(in, best) {
			break
		}
		qty := decimal.Min(in.remaining, best.remaining)
		in.remaining = in.remaining.Sub(qty)
		best.remaining = best.remaining.Sub(qty)

		f := domain.Fill{
			TokenAddress: o.TokenAddress,
			Price:        best.Price,
			Quantity:     qty,
			MatchedAt:    now,
		}
		buy, sell := in, best
		if o.Side == domain.TradeTypeSell {
			buy, sell = best, in
		}
		f.BuyOrderID, f.SellOrderID = buy.OrderID, sell.OrderID
		f.BuyFilled, f.SellFilled = !buy.remaining.IsPositive(), !sell.remaining.IsPositive()
		fills = append(fills, f)

		if !best.remaining.IsPositive() {
			heap.Pop(opposite)
			delete(b.live, best.OrderID)
		}
	}

	if in.remaining.IsPositive() {
		heap.Push(own, in)
		b.live[o.OrderID] = in
	}
	return fills, nil
}

func crosses(in, resting *entry) bool {
	if in.Side == domain.TradeTypeBuy {
		return in.Price.GreaterThanOrEqual(resting.Price)
	}
	return in.Price.LessThanOrEqual(resting.Price)
}

// Remove takes a resting order out of the book. It reports whether the order
// was resting.
func (b *Book) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live[orderID]
	if !ok {
		return false
	}
	tb := b.tokens[e.TokenAddress]
	q := tb.bids
	if e.Side == domain.TradeTypeSell {
		q = tb.asks
	}
	heap.Remove(q, e.idx)
	delete(b.live, orderID)
	if tb.bids.Len() == 0 && tb.asks.Len() == 0 {
		delete(b.tokens, e.TokenAddress)
	}
	return true
}

// Remaining returns the unfilled quantity of a resting order.
func (b *Book) Remaining(orderID string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.live[orderID]
	if !ok {
		return decimal.Zero, false
	}
	return e.remaining, true
}

// Len returns the number of resting orders across all tokens.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Depth aggregates the top levels of a token's book, best price first. The
// boolean is false when nothing rests for the token.
func (b *Book) Depth(token string, levels int) (domain.BookDepth, bool) {
	if levels <= 0 {
		levels = DefaultDepth
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tb, ok := b.tokens[token]
	if !ok || (tb.bids.Len() == 0 && tb.asks.Len() == 0) {
		return domain.BookDepth{}, false
	}
	return domain.BookDepth{
		TokenAddress: token,
		Bids:         aggregate(tb.bids, levels),
		Asks:         aggregate(tb.asks, levels),
		Timestamp:    b.now().UTC(),
	}, true
}

// aggregate walks a copy of the queue in priority order and sums equal
// prices into levels.
func aggregate(q *queue, levels int) []domain.BookLevel {
	sorted := make([]*entry, len(q.entries))
	copy(sorted, q.entries)
	sort.SliceStable(sorted, func(i, j int) bool { return q.before(sorted[i], sorted[j]) })

	out := []domain.BookLevel{}
	for _, e := range sorted {
		n := len(out)
		if n > 0 && out[n-1].Price.Equal(e.Price) {
			out[n-1].Quantity = out[n-1].Quantity.Add(e.remaining)
			out[n-1].Orders++
			continue
		}
		if n == levels {
			break
		}
		out = append(out, domain.BookLevel{Price: e.Price, Quantity: e.remaining, Orders: 1})
	}
	return out
}
