package domain

import "time"

// Signal bus channels and streams.
const (
	ChannelOrders    = "orders"
	ChannelOrderBook = "orderbook"
	StreamOrders     = "stream:orders"
)

// Event names carried in OrderEvent.Event.
const (
	EventTransactionSubmitted = "transaction.submitted"
	EventOrderExecuted        = "order.executed"
	EventOrderFailed          = "order.failed"
	EventOrderCancelled       = "order.cancelled"
	EventOrderMatched         = "orderbook.matched"
)

// OrderEvent is the JSON payload published on the orders channel.
type OrderEvent struct {
	Event           string    `json:"event"`
	OrderID         string    `json:"order_id"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	WalletAddress   string    `json:"wallet_address,omitempty"`
	Status          string    `json:"status,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	At              time.Time `json:"at"`
}
