// Package server exposes the order lifecycle over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/server/handler"
	"github.com/alanyoungcy/phantomtrade/internal/server/middleware"
	"github.com/alanyoungcy/phantomtrade/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Phantom   *handler.PhantomHandler
	OrderBook *handler.OrderBookHandler
	Audit     *handler.AuditHandler
	Metrics   http.Handler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newRouter(cfg, h, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

func newRouter(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.List)
	}

	mux.HandleFunc("POST /trade/phantom/create-transaction", h.Phantom.CreateTransaction)
	mux.HandleFunc("POST /trade/phantom/submit-signed-transaction", h.Phantom.SubmitSignedTransaction)
	mux.HandleFunc("GET /trade/phantom/orders", h.Phantom.ListOrders)
	mux.HandleFunc("GET /trade/phantom/verify-transaction/{transactionHash}", h.Phantom.VerifyTransaction)
	mux.HandleFunc("POST /trade/phantom/orders/{orderId}/cancel", h.Phantom.CancelOrder)
	mux.HandleFunc("GET /trade/order-book", h.OrderBook.Depth)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
