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

// PendingOrderCache implements domain.PendingOrderCache with plain string
// keys holding JSON and a Redis-managed expiry.
//
// Key schema:
//
//	transaction:{orderID} - JSON-encoded domain.PendingOrder
type PendingOrderCache struct {
	rdb *redis.Client
}

// NewPendingOrderCache creates a PendingOrderCache backed by the given Client.
func NewPendingOrderCache(c *Client) *PendingOrderCache {
	return &PendingOrderCache{rdb: c.rdb}
}

func pendingOrderKey(orderID string) string { return "transaction:" + orderID }

// Put stores the order, overwriting any previous entry for the same id.
func (pc *PendingOrderCache) Put(ctx context.Context, order domain.PendingOrder, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis: put pending order %s: ttl must be positive", order.OrderID)
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("redis: marshal pending order %s: %w", order.OrderID, err)
	}
	if err := pc.rdb.Set(ctx, pendingOrderKey(order.OrderID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put pending order %s: %w", order.OrderID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound for both expired and never-inserted ids.
func (pc *PendingOrderCache) Get(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	data, err := pc.rdb.Get(ctx, pendingOrderKey(orderID)).Bytes()
	return decodePendingOrder(orderID, data, err)
}

// Delete removes the entry. Deleting a missing id is not an error.
func (pc *PendingOrderCache) Delete(ctx context.Context, orderID string) error {
	if err := pc.rdb.Del(ctx, pendingOrderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis: delete pending order %s: %w", orderID, err)
	}
	return nil
}

// Take reads and deletes the entry in a single GETDEL round trip.
func (pc *PendingOrderCache) Take(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	data, err := pc.rdb.GetDel(ctx, pendingOrderKey(orderID)).Bytes()
	return decodePendingOrder(orderID, data, err)
}

func decodePendingOrder(orderID string, data []byte, err error) (domain.PendingOrder, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PendingOrder{}, domain.ErrNotFound
		}
		return domain.PendingOrder{}, fmt.Errorf("redis: get pending order %s: %w", orderID, err)
	}
	var order domain.PendingOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return domain.PendingOrder{}, fmt.Errorf("redis: unmarshal pending order %s: %w", orderID, err)
	}
	return order, nil
}

// Compile-time interface check.
var _ domain.PendingOrderCache = (*PendingOrderCache)(nil)
