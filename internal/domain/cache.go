package domain

import (
	"context"
	"time"
)

// PendingOrderCache holds unsigned transactions awaiting a wallet signature.
// Entries expire on their own after the TTL given to Put.
type PendingOrderCache interface {
	Put(ctx context.Context, order PendingOrder, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (PendingOrder, error)
	Delete(ctx context.Context, orderID string) error
	// Take atomically reads and removes the entry so that at most one caller
	// can claim a given order.
	Take(ctx context.Context, orderID string) (PendingOrder, error)
}

// TokenCache provides fast token metadata lookups.
type TokenCache interface {
	Set(ctx context.Context, token Token) error
	Get(ctx context.Context, address string) (Token, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
