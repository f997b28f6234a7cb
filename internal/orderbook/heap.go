package orderbook

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// Order is a resting limit order.
type Order struct {
	OrderID       string
	WalletAddress string
	TokenAddress  string
	Side          domain.TradeType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	// Time orders entries of equal price; earlier wins.
	Time time.Time
}

type entry struct {
	Order
	remaining decimal.Decimal
	idx       int
}

// queue is one side of a token's book. It implements heap.Interface and is
// not safe for concurrent use; Book serializes access.
type queue struct {
	entries []*entry
	// before reports whether a has priority over b.
	before func(a, b *entry) bool
}

func newBids() *queue {
	return &queue{before: func(a, b *entry) bool {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c > 0
		}
		return a.Time.Before(b.Time)
	}}
}

func newAsks() *queue {
	return &queue{before: func(a, b *entry) bool {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c < 0
		}
		return a.Time.Before(b.Time)
	}}
}

func (q *queue) Len() int           { return len(q.entries) }
func (q *queue) Less(i, j int) bool { return q.before(q.entries[i], q.entries[j]) }

func (q *queue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.entries[i].idx = i
	q.entries[j].idx = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.idx = len(q.entries)
	q.entries = append(q.entries, e)
}

func (q *queue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	q.entries = old[:n-1]
	return e
}

func (q *queue) peek() *entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}
