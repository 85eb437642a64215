package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates the lock is already owned by another reconciliation.
var ErrLockHeld = errors.New("lock already held")

// ReconcileLockKey builds redis keys for per-user reconciliation critical sections.
func ReconcileLockKey(userID string) string {
	return fmt.Sprintf("warden:user:%s:reconcile", userID)
}

// ReconcileLock serializes reconciliations per target user via redis SET NX.
// Two concurrent reconciliations for the same target would race on the
// read-diff-write sequence; the lock closes that gap without wrapping the
// apply phase in a transaction.
type ReconcileLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReconcileLock constructs a lock manager. TTL bounds how long a crashed
// holder can block other reconciliations.
func NewReconcileLock(client *redis.Client, ttl time.Duration) *ReconcileLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReconcileLock{client: client, ttl: ttl}
}

// Acquire takes the per-user lock and returns a release function. Returns
// ErrLockHeld when another reconciliation owns the lock. A nil receiver is a
// no-op, so locking stays optional in tests and single-node setups.
func (l *ReconcileLock) Acquire(ctx context.Context, userID string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	key := ReconcileLockKey(userID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire reconcile lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		l.client.Del(context.WithoutCancel(ctx), key)
	}
	return release, nil
}
