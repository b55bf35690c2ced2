// internal/infrastructure/database/redis/sweep_lock.go
package redis

import (
	"context"
	"time"
)

// SweepLock implements reservation.LeaderLock over redis SET NX, electing a
// single sweeper across processes. The TTL bounds how long a crashed holder
// can block the next election.
type SweepLock struct {
	client *Client
	token  string
}

// NewSweepLock creates a leader lock backed by the given redis client. Token
// identifies this process so Release only removes its own hold.
func NewSweepLock(client *Client, token string) *SweepLock {
	return &SweepLock{client: client, token: token}
}

// TryAcquire attempts to take the lock without blocking
func (l *SweepLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.Redis.SetNX(ctx, key, l.token, ttl).Result()
}

// Release drops the lock if this process still holds it
func (l *SweepLock) Release(ctx context.Context, key string) error {
	// check-and-delete so an expired hold taken over by another process is
	// not removed from under it
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	return l.client.Redis.Eval(ctx, script, []string{key}, l.token).Err()
}
