package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/drops_backend/config"
)

// Locker is the advisory mutual-exclusion guard for bulk cleanup. It is
// advisory only: a caller that cannot obtain the lock skips its cleanup
// and proceeds unharmed, it never blocks a stock read.
type Locker interface {
	// TryLock attempts the lock without waiting. ok=false means it is
	// held elsewhere; err is reserved for infrastructure failures.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// redisLocker backs the advisory lock with redislock so the guard holds
// across server instances, not just within one process.
type redisLocker struct{}

func NewRedisLocker() Locker {
	return redisLocker{}
}

func (redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis not configured (single-instance dev): proceed unlocked,
		// matching the best-effort posture of the rest of the cache layer.
		return func() {}, true, nil
	}
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	release := func() {
		_ = lock.Release(context.Background())
	}
	return release, true, nil
}
