// Package redis implements the pending-order cache, token cache, locks, rate
// limiting and the event bus on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout = 5 * time.Second
	// Pending orders are read on the submit path, so reads fail fast rather
	// than hold a wallet request open.
	defaultReadTimeout = 2 * time.Second
)

// ClientConfig holds connection parameters. URL, when set, takes precedence
// over Addr, Password and DB; a rediss:// URL implies TLS.
type ClientConfig struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Client owns the connection pool shared by every store in this package.
type Client struct {
	rdb *redis.Client
}

// New connects and pings. The pool is closed again if the ping fails.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func options(cfg ClientConfig) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = orDefault(cfg.DialTimeout, defaultDialTimeout)
	opts.ReadTimeout = orDefault(cfg.ReadTimeout, defaultReadTimeout)
	opts.WriteTimeout = opts.ReadTimeout
	if cfg.TLSEnabled && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Ping is registered as the redis health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
