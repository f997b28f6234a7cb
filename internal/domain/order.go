package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeType indicates whether the wallet buys or sells the token.
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

// OrderType indicates how the order executes.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderStatus tracks the ledger lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Sticky reports whether no further transition is allowed out of s.
func (s OrderStatus) Sticky() bool {
	return s == OrderStatusFailed || s == OrderStatusCancelled
}

const orderIDPrefix = "phantom_"

// NewOrderID returns a fresh external-wallet order identifier.
func NewOrderID() string {
	return orderIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TradingOrder is the durable ledger row for an order.
type TradingOrder struct {
	OrderID       string
	WalletID      int64 // 0 for external wallets
	WalletAddress string
	TradeType     TradeType
	OrderType     OrderType
	TokenName     string
	TokenAddress  string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TotalValue    decimal.Decimal
	Status        OrderStatus
	TxHash        string
	ExecutedAt    *time.Time
	VerifiedAt    *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Details returns the client-facing summary of the order.
func (o TradingOrder) Details() OrderDetails {
	return OrderDetails{
		TradeType:    o.TradeType,
		OrderType:    o.OrderType,
		TokenName:    o.TokenName,
		TokenAddress: o.TokenAddress,
		Quantity:     o.Quantity,
		Price:        o.Price,
		TotalValue:   o.TotalValue,
	}
}

// OrderDetails is the order summary echoed to clients and kept with the
// pending transaction.
type OrderDetails struct {
	TradeType    TradeType       `json:"trade_type"`
	OrderType    OrderType       `json:"order_type"`
	TokenName    string          `json:"token_name"`
	TokenAddress string          `json:"token_address"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// MarshalJSON writes the amounts as JSON numbers.
func (d OrderDetails) MarshalJSON() ([]byte, error) {
	type plain OrderDetails
	return json.Marshal(struct {
		plain
		Quantity   json.Number `json:"quantity"`
		Price      json.Number `json:"price"`
		TotalValue json.Number `json:"total_value"`
	}{plain(d), Number(d.Quantity), Number(d.Price), Number(d.TotalValue)})
}

// Number renders d as a JSON number literal. decimal.Decimal quotes itself
// by default and clients expect numeric amounts.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// PendingOrder is the short-lived context kept between transaction creation
// and signature submission.
type PendingOrder struct {
	OrderID       string `json:"order_id"`
	WalletAddress string `json:"wallet_address"`
	// UnsignedTransaction is the base64 wire form handed to the wallet.
	UnsignedTransaction string `json:"unsigned_transaction"`
	// Message is the serialized transaction message the wallet must sign.
	Message      []byte          `json:"message"`
	Quote        json.RawMessage `json:"quote,omitempty"`
	OrderDetails OrderDetails    `json:"order_details"`
	CreatedAt    time.Time       `json:"created_at"`
	TTLSeconds   int             `json:"ttl_seconds"`
}
