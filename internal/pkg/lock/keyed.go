// internal/pkg/lock/keyed.go
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned when a lock cannot be acquired within the
// configured timeout. Callers may retry with backoff.
var ErrAcquireTimeout = errors.New("lock: acquire timed out")

// KeyedMutex serializes work per key while letting different keys proceed
// independently. It is the in-process guard for single-position ledger
// operations; there is one semaphore per live key and idle keys are removed.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty lock manager.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*entry),
	}
}

// Acquire blocks until the key's lock is held, the context is done, or the
// timeout elapses. On success it returns a release function that must be
// called exactly once.
func (k *KeyedMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			k.put(key, e)
		}, nil
	case <-ctx.Done():
		k.put(key, e)
		return nil, ctx.Err()
	case <-timer.C:
		k.put(key, e)
		return nil, ErrAcquireTimeout
	}
}

func (k *KeyedMutex) put(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
