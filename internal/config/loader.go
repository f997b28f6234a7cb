package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PHANTOM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PHANTOM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "PHANTOM_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "PHANTOM_SOLANA_COMMITMENT")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.BaseURL, "PHANTOM_JUPITER_BASE_URL")
	setInt(&cfg.Jupiter.SlippageBps, "PHANTOM_JUPITER_SLIPPAGE_BPS")
	setDuration(&cfg.Jupiter.Timeout, "PHANTOM_JUPITER_TIMEOUT")

	// ── Trade ──
	setDuration(&cfg.Trade.PendingTTL, "PHANTOM_TRADE_PENDING_TTL")
	setInt(&cfg.Trade.DefaultTokenDecimals, "PHANTOM_TRADE_DEFAULT_TOKEN_DECIMALS")
	setBool(&cfg.Trade.RequireMessageMatch, "PHANTOM_TRADE_REQUIRE_MESSAGE_MATCH")
	setStr(&cfg.Trade.DefaultFeeSOL, "PHANTOM_TRADE_DEFAULT_FEE_SOL")
	setBool(&cfg.Trade.RestoreBookOnStart, "PHANTOM_TRADE_RESTORE_BOOK_ON_START")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PHANTOM_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PHANTOM_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PHANTOM_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PHANTOM_DATABASE_NAME")
	setStr(&cfg.Database.User, "PHANTOM_DATABASE_USER")
	setStr(&cfg.Database.Password, "PHANTOM_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PHANTOM_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PHANTOM_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PHANTOM_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PHANTOM_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "PHANTOM_REDIS_URL")
	setStr(&cfg.Redis.Addr, "PHANTOM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PHANTOM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PHANTOM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PHANTOM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PHANTOM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PHANTOM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TokenCacheTTL, "PHANTOM_REDIS_TOKEN_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PHANTOM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PHANTOM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PHANTOM_S3_REGION")
	setStr(&cfg.S3.Bucket, "PHANTOM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PHANTOM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PHANTOM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PHANTOM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PHANTOM_S3_FORCE_PATH_STYLE")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "PHANTOM_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Timezone, "PHANTOM_SCHEDULER_TIMEZONE")
	setStr(&cfg.Scheduler.ReconcileCron, "PHANTOM_SCHEDULER_RECONCILE_CRON")
	setStr(&cfg.Scheduler.ArchiveCron, "PHANTOM_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "PHANTOM_SCHEDULER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PHANTOM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PHANTOM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PHANTOM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PHANTOM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PHANTOM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PHANTOM_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PHANTOM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PHANTOM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PHANTOM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PHANTOM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PHANTOM_MODE")
	setStr(&cfg.LogLevel, "PHANTOM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
