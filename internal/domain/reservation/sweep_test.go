package reservation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/domain/reservation"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/memory"
)

// recordingNotifier captures expiry warnings for assertions
type recordingNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *recordingNotifier) NotifyExpiring(_ context.Context, r *reservation.Reservation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, r.Number)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func newSweeper(f *fixture, notifier reservation.Notifier) *reservation.Sweeper {
	return reservation.NewSweeper(f.svc, f.repo, memory.NewLeaderLock(), notifier, f.cfg, f.logger)
}

// expire rewrites the stored expiry so the reservation is overdue
func expire(t *testing.T, f *fixture, reservationID uint) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.repo.FindReservation(ctx, testTenant, reservationID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.repo.SaveReservation(ctx, stored))
}

func TestSweep_AutoReleaseCancelsAndReturnsStock(t *testing.T) {
	// GIVEN: an allocated reservation past its expiry with auto-release on
	// WHEN: the sweeper runs
	// THEN: the reservation is cancelled and the stock returns to available
	f := newFixture(t)
	ctx := context.Background()
	pos := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	req := orderRequest("6")
	req.AutoReleaseOnExpiry = true
	res := f.create(t, req)
	_, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	expire(t, f, res.ID)

	sweeper := newSweeper(f, &reservation.LogNotifier{Logger: f.logger})
	require.NoError(t, sweeper.Sweep(ctx))

	reloaded, err := f.svc.Get(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, reloaded.Status)

	cur := f.bucket(t, pos.ID)
	assert.True(t, cur.Available.Equal(d("10")))
	assert.True(t, cur.Allocated.IsZero())
}

func TestSweep_WithoutAutoReleaseMarksExpiredAndHoldsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("6"))
	_, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	expire(t, f, res.ID)

	sweeper := newSweeper(f, &reservation.LogNotifier{Logger: f.logger})
	require.NoError(t, sweeper.Sweep(ctx))

	reloaded, err := f.svc.Get(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusExpired, reloaded.Status)

	cur := f.bucket(t, pos.ID)
	assert.True(t, cur.Allocated.Equal(d("6")), "stock held for manual handling")
}

func TestSweep_ExpiryHandledOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	req := orderRequest("6")
	req.AutoReleaseOnExpiry = true
	res := f.create(t, req)
	_, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	expire(t, f, res.ID)

	sweeper := newSweeper(f, &reservation.LogNotifier{Logger: f.logger})
	require.NoError(t, sweeper.Sweep(ctx))
	// second pass must not touch the already-cancelled reservation
	require.NoError(t, sweeper.Sweep(ctx))

	reloaded, err := f.svc.Get(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, reloaded.Status)
}

func TestSweep_NotifiesApproachingExpiryOnce(t *testing.T) {
	// GIVEN: a reservation expiring inside the notification lead window
	// WHEN: the sweeper runs twice
	// THEN: exactly one warning goes out
	f := newFixture(t)
	ctx := context.Background()

	soon := time.Now().UTC().Add(time.Hour) // lead time is two hours
	req := orderRequest("5")
	req.ExpiresAt = &soon
	res := f.create(t, req)

	notifier := &recordingNotifier{}
	sweeper := newSweeper(f, notifier)

	require.NoError(t, sweeper.Sweep(ctx))
	require.NoError(t, sweeper.Sweep(ctx))

	assert.Equal(t, 1, notifier.count())

	stored, err := f.repo.FindReservation(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastNotificationSent)
}

func TestSweep_NoNotificationOutsideLeadWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	farOut := time.Now().UTC().Add(48 * time.Hour)
	req := orderRequest("5")
	req.ExpiresAt = &farOut
	f.create(t, req)

	notifier := &recordingNotifier{}
	sweeper := newSweeper(f, notifier)
	require.NoError(t, sweeper.Sweep(ctx))

	assert.Equal(t, 0, notifier.count())
}

func TestLeaderLock_SingleHolder(t *testing.T) {
	lock := memory.NewLeaderLock()
	ctx := context.Background()

	first, err := lock.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := lock.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "lock is held")

	require.NoError(t, lock.Release(ctx, "sweep"))
	third, err := lock.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, third)
}
