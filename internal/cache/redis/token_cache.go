package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenTTL is used when NewTokenCache is given a non-positive TTL.
const DefaultTokenTTL = time.Hour

// TokenCache implements domain.TokenCache. Token metadata changes rarely, so
// entries live for an hour and readers tolerate staleness.
//
// Key schema:
//
//	token:{mint} - hash with field "data" containing JSON
type TokenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTokenCache creates a TokenCache backed by the given Client.
func NewTokenCache(c *Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenCache{rdb: c.rdb, ttl: ttl}
}

func tokenKey(address string) string { return "token:" + address }

// Set stores a token under its mint address.
func (tc *TokenCache) Set(ctx context.Context, token domain.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("redis: marshal token %s: %w", token.Address, err)
	}

	key := tokenKey(token.Address)
	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, tc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set token %s: %w", token.Address, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the token is not cached.
func (tc *TokenCache) Get(ctx context.Context, address string) (domain.Token, error) {
	data, err := tc.rdb.HGet(ctx, tokenKey(address), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("redis: get token %s: %w", address, err)
	}

	var token domain.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return domain.Token{}, fmt.Errorf("redis: unmarshal token %s: %w", address, err)
	}
	return token, nil
}

// Compile-time interface check.
var _ domain.TokenCache = (*TokenCache)(nil)
