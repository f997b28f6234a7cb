package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/phantomtrade/internal/blob/s3"
	"github.com/alanyoungcy/phantomtrade/internal/cache/redis"
	"github.com/alanyoungcy/phantomtrade/internal/config"
	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/metrics"
	"github.com/alanyoungcy/phantomtrade/internal/notify"
	"github.com/alanyoungcy/phantomtrade/internal/orderbook"
	"github.com/alanyoungcy/phantomtrade/internal/platform/jupiter"
	"github.com/alanyoungcy/phantomtrade/internal/platform/solanarpc"
	"github.com/alanyoungcy/phantomtrade/internal/server/handler"
	"github.com/alanyoungcy/phantomtrade/internal/service"
	"github.com/alanyoungcy/phantomtrade/internal/store/postgres"
	"github.com/alanyoungcy/phantomtrade/internal/txbuilder"
)

// Dependencies bundles the adapters every mode builds on. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OrderStore domain.OrderStore
	TokenStore domain.TokenStore
	AuditStore domain.AuditStore

	// Caches
	PendingCache domain.PendingOrderCache
	TokenCache   domain.TokenCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Upstreams
	Quotes *jupiter.Client
	Chain  *solanarpc.Client

	// Archiver is nil unless object storage is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Health checks by dependency name.
	Checks map[string]handler.Pinger
}

// Wire constructs the concrete adapters from cfg and returns them with a
// cleanup function that releases them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.PendingCache = redis.NewPendingOrderCache(redisClient)
	deps.TokenCache = redis.NewTokenCache(redisClient, cfg.Redis.TokenCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Upstreams ---
	deps.Quotes = jupiter.New(cfg.Jupiter.BaseURL, cfg.Jupiter.SlippageBps, cfg.Jupiter.Timeout.Duration)
	deps.Chain = solanarpc.New(cfg.Solana.RPCURL, cfg.Solana.Commitment)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewOrderArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.OrderStore,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// services are the lifecycle services built on top of Dependencies.
type services struct {
	phantom    *service.PhantomService
	books      *service.OrderBookService
	reconciler *service.Reconciler
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	fee, err := decimal.NewFromString(a.cfg.Trade.DefaultFeeSOL)
	if err != nil {
		return nil, fmt.Errorf("app: default_fee_sol: %w", err)
	}
	ttl := a.cfg.Trade.PendingTTL.Duration

	books := service.NewOrderBookService(orderbook.New(), deps.OrderStore, deps.PendingCache, deps.SignalBus,
		deps.AuditStore, deps.Notifier, deps.Metrics, a.logger)

	phantom := service.NewPhantomService(service.PhantomConfig{
		PendingTTL:           ttl,
		DefaultTokenDecimals: a.cfg.Trade.DefaultTokenDecimals,
		RequireMessageMatch:  a.cfg.Trade.RequireMessageMatch,
		DefaultFee:           fee,
	}, service.PhantomDeps{
		Quotes:     deps.Quotes,
		Builder:    txbuilder.New(deps.Chain),
		Chain:      deps.Chain,
		Balances:   deps.Chain,
		Pending:    deps.PendingCache,
		Orders:     deps.OrderStore,
		Tokens:     deps.TokenStore,
		TokenCache: deps.TokenCache,
		Books:      books,
		Bus:        deps.SignalBus,
		Audit:      deps.AuditStore,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
	}, a.logger)

	reconciler := service.NewReconciler(deps.OrderStore, deps.Chain, books, ttl,
		deps.SignalBus, deps.Metrics, a.logger)

	return &services{phantom: phantom, books: books, reconciler: reconciler}, nil
}
