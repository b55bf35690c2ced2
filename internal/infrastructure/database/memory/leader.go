// internal/infrastructure/database/memory/leader.go
package memory

import (
	"context"
	"sync"
	"time"
)

// LeaderLock is an in-process reservation.LeaderLock for tests and
// single-node deployments without redis.
type LeaderLock struct {
	mu    sync.Mutex
	holds map[string]time.Time
}

// NewLeaderLock creates an empty leader lock
func NewLeaderLock() *LeaderLock {
	return &LeaderLock{holds: make(map[string]time.Time)}
}

func (l *LeaderLock) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if expiry, held := l.holds[key]; held && expiry.After(now) {
		return false, nil
	}
	l.holds[key] = now.Add(ttl)
	return true, nil
}

func (l *LeaderLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, key)
	return nil
}
