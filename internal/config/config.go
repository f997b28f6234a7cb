// Package config defines the top-level configuration for the phantom trade
// backend and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PHANTOM_* environment variables.
type Config struct {
	Solana    SolanaConfig    `toml:"solana"`
	Jupiter   JupiterConfig   `toml:"jupiter"`
	Trade     TradeConfig     `toml:"trade"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SolanaConfig holds the JSON-RPC endpoint used for blockhashes, submission
// and confirmation lookups.
type SolanaConfig struct {
	RPCURL     string `toml:"rpc_url"`
	Commitment string `toml:"commitment"`
}

// JupiterConfig holds the quote aggregator endpoint and swap parameters.
type JupiterConfig struct {
	BaseURL     string   `toml:"base_url"`
	SlippageBps int      `toml:"slippage_bps"`
	Timeout     duration `toml:"timeout"`
}

// TradeConfig holds order lifecycle parameters.
type TradeConfig struct {
	// PendingTTL is how long an unsigned transaction waits for its signature.
	PendingTTL           duration `toml:"pending_ttl"`
	DefaultTokenDecimals int      `toml:"default_token_decimals"`
	// RequireMessageMatch rejects signed transactions whose message differs
	// from the one built at creation time.
	RequireMessageMatch bool   `toml:"require_message_match"`
	DefaultFeeSOL       string `toml:"default_fee_sol"`
	RestoreBookOnStart  bool   `toml:"restore_book_on_start"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL (redis:// or rediss://) overrides addr, password and db.
	URL           string   `toml:"url"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	TokenCacheTTL duration `toml:"token_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds the cron schedules for background jobs. Cron
// expressions use the standard five fields and are evaluated in Timezone.
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	Timezone             string `toml:"timezone"`
	ReconcileCron        string `toml:"reconcile_cron"`
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is the number of requests per RateWindow allowed per client.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
		},
		Jupiter: JupiterConfig{
			BaseURL:     "https://quote-api.jup.ag/v6",
			SlippageBps: 50,
			Timeout:     duration{15 * time.Second},
		},
		Trade: TradeConfig{
			PendingTTL:           duration{60 * time.Second},
			DefaultTokenDecimals: 6,
			RequireMessageMatch:  true,
			DefaultFeeSOL:        "0.000005",
			RestoreBookOnStart:   true,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "phantomtrade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			TokenCacheTTL: duration{time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "phantomtrade-archive",
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			Timezone:             "UTC",
			ReconcileCron:        "* * * * *",
			ArchiveCron:          "0 3 1 * *",
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"transaction_submitted", "order_matched", "order_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: unknown commitment %q", c.Solana.Commitment))
	}

	// Jupiter
	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Jupiter.SlippageBps < 0 || c.Jupiter.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("jupiter: slippage_bps must be 0-10000, got %d", c.Jupiter.SlippageBps))
	}

	// Trade
	if c.Trade.PendingTTL.Duration < time.Second {
		errs = append(errs, "trade: pending_ttl must be at least 1s")
	}
	if c.Trade.DefaultTokenDecimals < 0 || c.Trade.DefaultTokenDecimals > 18 {
		errs = append(errs, "trade: default_token_decimals must be 0-18")
	}
	if _, err := decimal.NewFromString(c.Trade.DefaultFeeSOL); err != nil {
		errs = append(errs, fmt.Sprintf("trade: default_fee_sol %q is not a number", c.Trade.DefaultFeeSOL))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" && c.Redis.URL == "" {
		errs = append(errs, "redis: addr or url must be set")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler: unknown timezone %q", c.Scheduler.Timezone))
		}
		for name, expr := range map[string]string{
			"reconcile_cron": c.Scheduler.ReconcileCron,
			"archive_cron":   c.Scheduler.ArchiveCron,
		} {
			if expr == "" {
				continue
			}
			if _, err := cron.ParseStandard(expr); err != nil {
				errs = append(errs, fmt.Sprintf("scheduler: %s %q: %v", name, expr, err))
			}
		}
		if c.Scheduler.ArchiveRetentionDays < 1 {
			errs = append(errs, "scheduler: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
