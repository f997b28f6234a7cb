package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lock only while it still carries the holder's token,
// so an expired holder cannot release a lock someone else has since taken.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token-checked
// release. Scheduler jobs use it to stay single-flight across replicas.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
	}
}

func lockKey(name string) string { return "lock:" + name }

// Acquire takes the named lock for ttl. It returns domain.ErrLockHeld when
// another holder owns it. The returned unlock func is idempotent and safe
// for concurrent use.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := lockKey(name)
	holder := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done when it unlocks.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{key}, holder).Err()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
