package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/service"
)

// PhantomService is the external-wallet order flow the handler drives.
type PhantomService interface {
	CreateTransaction(ctx context.Context, req service.CreateTransactionRequest) (service.CreatedTransaction, error)
	SubmitSignedTransaction(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	ListOrders(ctx context.Context, wallet string, limit, offset int) (service.OrderPage, error)
}

// OrderCanceller withdraws resting limit orders.
type OrderCanceller interface {
	Cancel(ctx context.Context, orderID, wallet string) (domain.TradingOrder, error)
}

// TransactionVerifier reconciles an order with its on-chain outcome.
type TransactionVerifier interface {
	Verify(ctx context.Context, txHash string) (service.VerifyResult, error)
}

// PhantomHandler serves /trade/phantom/*.
type PhantomHandler struct {
	orders   PhantomService
	cancels  OrderCanceller
	verifier TransactionVerifier
	logger   *slog.Logger
}

func NewPhantomHandler(orders PhantomService, cancels OrderCanceller, verifier TransactionVerifier, logger *slog.Logger) *PhantomHandler {
	return &PhantomHandler{
		orders:   orders,
		cancels:  cancels,
		verifier: verifier,
		logger:   logger.With(slog.String("handler", "phantom")),
	}
}

type createTransactionBody struct {
	TradeType    string          `json:"order_trade_type"`
	OrderType    string          `json:"order_type"`
	TokenAddress string          `json:"order_token_address"`
	TokenName    string          `json:"order_token_name"`
	Price        decimal.Decimal `json:"order_price"`
	Quantity     decimal.Decimal `json:"order_qlty"`
	Wallet       string          `json:"user_wallet_address"`
}

// CreateTransaction builds an unsigned swap for the wallet to sign.
// POST /trade/phantom/create-transaction
func (h *PhantomHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body createTransactionBody
	if !decodeBody(w, r, &body) {
		return
	}
	created, err := h.orders.CreateTransaction(r.Context(), service.CreateTransactionRequest{
		TradeType:     domain.TradeType(body.TradeType),
		OrderType:     domain.OrderType(body.OrderType),
		TokenAddress:  body.TokenAddress,
		TokenName:     body.TokenName,
		Price:         body.Price,
		Quantity:      body.Quantity,
		WalletAddress: body.Wallet,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type submitBody struct {
	OrderID           string `json:"order_id"`
	Signature         string `json:"signature"`
	SignedTransaction string `json:"signed_transaction"`
}

// SubmitSignedTransaction forwards a wallet-signed transaction.
// POST /trade/phantom/submit-signed-transaction
func (h *PhantomHandler) SubmitSignedTransaction(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.orders.SubmitSignedTransaction(r.Context(), service.SubmitRequest{
		OrderID:           body.OrderID,
		Signature:         body.Signature,
		SignedTransaction: body.SignedTransaction,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "submit transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// orderView is the client representation of a ledger row.
type orderView struct {
	OrderID       string          `json:"order_id"`
	WalletAddress string          `json:"wallet_address"`
	TradeType     string          `json:"trade_type"`
	OrderType     string          `json:"order_type"`
	TokenName     string          `json:"token_name"`
	TokenAddress  string          `json:"token_address"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Status        string          `json:"status"`
	TxHash        string          `json:"tx_hash,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newOrderView(o domain.TradingOrder) orderView {
	return orderView{
		OrderID:       o.OrderID,
		WalletAddress: o.WalletAddress,
		TradeType:     string(o.TradeType),
		OrderType:     string(o.OrderType),
		TokenName:     o.TokenName,
		TokenAddress:  o.TokenAddress,
		Quantity:      o.Quantity,
		Price:         o.Price,
		TotalValue:    o.TotalValue,
		Status:        string(o.Status),
		TxHash:        o.TxHash,
		ErrorMessage:  o.ErrorMessage,
		ExecutedAt:    o.ExecutedAt,
		VerifiedAt:    o.VerifiedAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type listOrdersResponse struct {
	Orders []orderView `json:"orders"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ListOrders returns a wallet's submitted orders.
// GET /trade/phantom/orders?wallet_address=...&limit=10&offset=0
func (h *PhantomHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.orders.ListOrders(r.Context(),
		r.URL.Query().Get("wallet_address"),
		queryInt(r, "limit", 0),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	views := make([]orderView, 0, len(page.Orders))
	for _, o := range page.Orders {
		views = append(views, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: views,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// VerifyTransaction reconciles the order behind a transaction hash.
// GET /trade/phantom/verify-transaction/{transactionHash}
func (h *PhantomHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.Verify(r.Context(), r.PathValue("transactionHash"))
	if err != nil {
		writeServiceError(w, r, h.logger, "verify transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelBody struct {
	WalletAddress string `json:"wallet_address"`
}

// CancelOrder withdraws a pending limit order owned by the caller's wallet.
// POST /trade/phantom/orders/{orderId}/cancel
func (h *PhantomHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if !decodeBody(w, r, &body) {
		return
	}
	order, err := h.cancels.Cancel(r.Context(), r.PathValue("orderId"), body.WalletAddress)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}
