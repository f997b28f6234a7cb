package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/orderbook"
)

// DepthReader exposes the aggregated resting book.
type DepthReader interface {
	Depth(tokenAddress string, levels int) (domain.BookDepth, error)
}

// OrderBookHandler serves the public book snapshot.
type OrderBookHandler struct {
	books  DepthReader
	logger *slog.Logger
}

func NewOrderBookHandler(books DepthReader, logger *slog.Logger) *OrderBookHandler {
	return &OrderBookHandler{books: books, logger: logger.With(slog.String("handler", "orderbook"))}
}

// maxDepth caps the number of levels per side.
const maxDepth = 100

// Depth returns aggregated bids and asks for a token.
// GET /trade/order-book?token_address=...&depth=20
func (h *OrderBookHandler) Depth(w http.ResponseWriter, r *http.Request) {
	levels := queryInt(r, "depth", orderbook.DefaultDepth)
	if levels == 0 {
		levels = orderbook.DefaultDepth
	}
	levels = min(levels, maxDepth)

	depth, err := h.books.Depth(r.URL.Query().Get("token_address"), levels)
	if err != nil {
		writeServiceError(w, r, h.logger, "order book depth", err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}
