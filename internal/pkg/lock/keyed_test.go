package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

func TestAcquire_SerializesSameKey(t *testing.T) {
	km := lock.NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "position:acme:1", time.Second)
	require.NoError(t, err)

	_, err = km.Acquire(ctx, "position:acme:1", 50*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrAcquireTimeout)

	release()
	release2, err := km.Acquire(ctx, "position:acme:1", time.Second)
	require.NoError(t, err)
	release2()
}

func TestAcquire_DifferentKeysProceedIndependently(t *testing.T) {
	km := lock.NewKeyedMutex()
	ctx := context.Background()

	r1, err := km.Acquire(ctx, "position:acme:1", time.Second)
	require.NoError(t, err)
	defer r1()

	r2, err := km.Acquire(ctx, "position:acme:2", 50*time.Millisecond)
	require.NoError(t, err, "a held lock on one key must not block another")
	r2()
}

func TestAcquire_ContextCancellation(t *testing.T) {
	km := lock.NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = km.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_HandoffToWaiter(t *testing.T) {
	km := lock.NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := km.Acquire(ctx, "k", 2*time.Second)
		if err == nil {
			r()
			close(acquired)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
