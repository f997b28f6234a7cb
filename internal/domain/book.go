package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is an aggregated price level of resting limit orders.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

func (l BookLevel) MarshalJSON() ([]byte, error) {
	type plain BookLevel
	return json.Marshal(struct {
		plain
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
	}{plain(l), Number(l.Price), Number(l.Quantity)})
}

// BookDepth is a per-token snapshot of the resting book.
type BookDepth struct {
	TokenAddress string      `json:"token_address"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Fill is one match between a resting order and an incoming order.
type Fill struct {
	TokenAddress string
	BuyOrderID   string
	SellOrderID  string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	// BuyFilled and SellFilled report whether the respective order has no
	// remaining quantity after this fill.
	BuyFilled  bool
	SellFilled bool
	MatchedAt  time.Time
}
