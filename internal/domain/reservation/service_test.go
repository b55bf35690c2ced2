package reservation_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/domain/reservation"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/memory"
	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

const testTenant = "acme"

type fixture struct {
	svc       *reservation.Service
	ledger    *ledger.Service
	repo      *memory.ReservationStore
	positions *memory.PositionStore
	valuer    *valuation.Service
	cfg       *config.Config
	logger    *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Ledger: config.LedgerConfig{
			ReversalWindow:      24 * time.Hour,
			PositionLockTimeout: 2 * time.Second,
		},
		Reservation: config.ReservationConfig{
			DefaultExpiry:        24 * time.Hour,
			NotificationLeadTime: 2 * time.Hour,
			SweepInterval:        time.Minute,
			SweepLockTTL:         50 * time.Second,
		},
	}

	positions := memory.NewPositionStore()
	movements := memory.NewMovementStore()
	layers := memory.NewLayerStore()
	repo := memory.NewReservationStore()

	// the ledger and reservation services must share one lock manager
	locks := lock.NewKeyedMutex()
	valuer := valuation.NewService(layers, logger)
	ledgerSvc := ledger.NewService(positions, movements, valuer, locks, cfg, logger)

	return &fixture{
		svc:       reservation.NewService(repo, ledgerSvc, locks, cfg, logger),
		ledger:    ledgerSvc,
		repo:      repo,
		positions: positions,
		valuer:    valuer,
		cfg:       cfg,
		logger:    logger,
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type seed struct {
	location  uint
	qty       string
	cost      string
	receivedd time.Duration // receipt age, larger is older
	expiry    *time.Time
	grade     string
	pickSeq   int
}

// seedPosition receives stock into a fresh position and backdates its first
// receipt so FIFO/LIFO ordering is deterministic.
func (f *fixture) seedPosition(t *testing.T, s seed) *ledger.StockPosition {
	t.Helper()
	ctx := context.Background()

	res, err := f.ledger.Receive(ctx, testTenant, ledger.ReceiveRequest{
		Key:          ledger.PositionKey{ProductID: 1, VariantID: 1, WarehouseID: 1, LocationID: s.location},
		Quantity:     d(s.qty),
		UnitCost:     d(s.cost),
		ExpiryDate:   s.expiry,
		QualityGrade: s.grade,
		PickSequence: s.pickSeq,
	})
	require.NoError(t, err)

	if s.receivedd > 0 {
		p, err := f.positions.FindByID(ctx, testTenant, res.Position.ID)
		require.NoError(t, err)
		at := time.Now().UTC().Add(-s.receivedd)
		p.FirstReceivedAt = &at
		require.NoError(t, f.positions.Save(ctx, p))
	}
	return res.Position
}

func (f *fixture) create(t *testing.T, req *reservation.CreateReservationRequest) *reservation.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)
	return res
}

func orderRequest(qty string) *reservation.CreateReservationRequest {
	return &reservation.CreateReservationRequest{
		Type:     reservation.TypeOrder,
		Document: ledger.DocumentRef{Type: ledger.DocumentTypeOrder, ID: "ord-1"},
		Items: []reservation.CreateItemRequest{
			{ProductID: 1, VariantID: 1, Quantity: d(qty)},
		},
	}
}

func (f *fixture) bucket(t *testing.T, positionID uint) *ledger.StockPosition {
	t.Helper()
	p, err := f.ledger.GetPosition(context.Background(), testTenant, positionID)
	require.NoError(t, err)
	return p
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)

	res := f.create(t, orderRequest("5"))
	assert.Equal(t, reservation.StatusPending, res.Status)
	assert.Equal(t, reservation.StrategyFIFO, res.Strategy)
	assert.Equal(t, reservation.PriorityNormal, res.Priority)
	assert.NotEmpty(t, res.Number)
	require.Len(t, res.Items, 1)
	assert.Equal(t, reservation.ItemStatusRequested, res.Items[0].Status)
	assert.WithinDuration(t, time.Now().Add(f.cfg.Reservation.DefaultExpiry), res.ExpiresAt, time.Minute)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, testTenant, &reservation.CreateReservationRequest{Type: reservation.TypeOrder})
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	req := orderRequest("0")
	_, err = f.svc.Create(ctx, testTenant, req)
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	req = orderRequest("5")
	req.Strategy = reservation.Strategy("RANDOM")
	_, err = f.svc.Create(ctx, testTenant, req)
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	past := time.Now().Add(-time.Hour)
	req = orderRequest("5")
	req.ExpiresAt = &past
	_, err = f.svc.Create(ctx, testTenant, req)
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
}

func TestAllocate_FIFOWalksOldestFirstAcrossPositions(t *testing.T) {
	// GIVEN: 5 units in the older position, 10 in the newer
	// WHEN: allocating a demand of 8 under FIFO
	// THEN: the older position is drained first, the newer covers the rest
	f := newFixture(t)
	older := f.seedPosition(t, seed{location: 1, qty: "5", cost: "5.00", receivedd: 48 * time.Hour})
	newer := f.seedPosition(t, seed{location: 2, qty: "10", cost: "7.00", receivedd: time.Hour})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	assert.Equal(t, reservation.StatusActive, out.Status)
	item := out.Items[0]
	assert.Equal(t, reservation.ItemStatusAllocated, item.Status)
	assert.True(t, item.QtyAllocated.Equal(d("8")))
	require.Len(t, item.Allocations, 2)
	assert.Equal(t, older.ID, item.Allocations[0].PositionID)
	assert.True(t, item.Allocations[0].QtyAllocated.Equal(d("5")))
	assert.Equal(t, newer.ID, item.Allocations[1].PositionID)
	assert.True(t, item.Allocations[1].QtyAllocated.Equal(d("3")))

	oldP := f.bucket(t, older.ID)
	assert.True(t, oldP.Available.IsZero())
	assert.True(t, oldP.Allocated.Equal(d("5")))
	newP := f.bucket(t, newer.ID)
	assert.True(t, newP.Available.Equal(d("7")))
	assert.True(t, newP.Allocated.Equal(d("3")))
}

func TestAllocate_LIFOPrefersNewestReceipt(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00", receivedd: 48 * time.Hour})
	newer := f.seedPosition(t, seed{location: 2, qty: "10", cost: "7.00", receivedd: time.Hour})

	req := orderRequest("4")
	req.Strategy = reservation.StrategyLIFO
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, newer.ID, out.Items[0].Allocations[0].PositionID)
}

func TestAllocate_FEFOPrefersEarliestExpiry(t *testing.T) {
	f := newFixture(t)
	soon := time.Now().UTC().AddDate(0, 0, 10)
	late := time.Now().UTC().AddDate(0, 1, 0)
	expiring := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00", expiry: &soon})
	f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", expiry: &late})
	f.seedPosition(t, seed{location: 3, qty: "10", cost: "5.00"}) // no expiry ranks last

	req := orderRequest("4")
	req.Strategy = reservation.StrategyFEFO
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, expiring.ID, out.Items[0].Allocations[0].PositionID)
}

func TestAllocate_CheapestPrefersLowestCost(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "7.00"})
	cheap := f.seedPosition(t, seed{location: 2, qty: "10", cost: "4.00"})

	req := orderRequest("4")
	req.Strategy = reservation.StrategyCheapest
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, cheap.ID, out.Items[0].Allocations[0].PositionID)
	assert.True(t, out.Items[0].Allocations[0].UnitCost.Equal(d("4.00")))
}

func TestAllocate_HighestQualityPrefersBestGrade(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00", grade: "C"})
	best := f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", grade: "A"})

	req := orderRequest("4")
	req.Strategy = reservation.StrategyHighestQuality
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, best.ID, out.Items[0].Allocations[0].PositionID)
}

func TestAllocate_NearestPrefersLowestPickSequence(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00", pickSeq: 30})
	near := f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", pickSeq: 5})

	req := orderRequest("4")
	req.Strategy = reservation.StrategyNearest
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, near.ID, out.Items[0].Allocations[0].PositionID)
}

func TestAllocate_ManualFollowsCallerOrder(t *testing.T) {
	f := newFixture(t)
	p1 := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})
	p2 := f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00"})

	req := orderRequest("12")
	req.Strategy = reservation.StrategyManual
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{
		ManualOrder: []uint{p2.ID, p1.ID},
	})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 2)
	assert.Equal(t, p2.ID, out.Items[0].Allocations[0].PositionID)
	assert.Equal(t, p1.ID, out.Items[0].Allocations[1].PositionID)
}

func TestAllocate_ManualWithoutOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	req := orderRequest("4")
	req.Strategy = reservation.StrategyManual
	res := f.create(t, req)

	_, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
}

func TestAllocate_QualityAndShelfLifeConstraintsFilterCandidates(t *testing.T) {
	// Only the grade-A position with enough shelf life is eligible
	f := newFixture(t)
	soon := time.Now().UTC().AddDate(0, 0, 3)
	farOut := time.Now().UTC().AddDate(0, 2, 0)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00", grade: "C", expiry: &farOut})
	f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", grade: "A", expiry: &soon})
	eligible := f.seedPosition(t, seed{location: 3, qty: "10", cost: "5.00", grade: "A", expiry: &farOut})

	req := orderRequest("4")
	req.Items[0].MinQualityGrade = "B"
	req.Items[0].MinShelfLifeDays = 30
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items[0].Allocations, 1)
	assert.Equal(t, eligible.ID, out.Items[0].Allocations[0].PositionID)
}

func TestAllocate_PreferredWarehouseNarrowsSearch(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	// stock exists but not in the preferred warehouse
	wh := uint(9)
	req := orderRequest("4")
	req.Items[0].PreferredWarehouseID = &wh
	res := f.create(t, req)

	_, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)
}

func TestAllocate_ShortfallWithoutPartialUnwindsEverything(t *testing.T) {
	// GIVEN: 15 units across two positions, demand 20, partials off
	// WHEN: the walk runs out of stock
	// THEN: every touched position is put back exactly as it was
	f := newFixture(t)
	p1 := f.seedPosition(t, seed{location: 1, qty: "5", cost: "5.00", receivedd: 2 * time.Hour})
	p2 := f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", receivedd: time.Hour})

	res := f.create(t, orderRequest("20"))
	_, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	for _, p := range []*ledger.StockPosition{p1, p2} {
		cur := f.bucket(t, p.ID)
		assert.True(t, cur.Available.Equal(p.Available), "position %d available %s", p.ID, cur.Available)
		assert.True(t, cur.Allocated.IsZero())
		assert.True(t, cur.Reserved.IsZero())
		assert.True(t, cur.ConservationHolds())
	}
}

func TestAllocate_ShortfallWithBackorder(t *testing.T) {
	// GIVEN: 15 units, demand 20, partials and backorders on
	// THEN: 15 allocated, 5 backordered, nothing unwound
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "5", cost: "5.00", receivedd: 2 * time.Hour})
	f.seedPosition(t, seed{location: 2, qty: "10", cost: "5.00", receivedd: time.Hour})

	req := orderRequest("20")
	req.AllowPartial = true
	req.BackorderEnabled = true
	res := f.create(t, req)

	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	item := out.Items[0]
	assert.Equal(t, reservation.ItemStatusBackordered, item.Status)
	assert.True(t, item.QtyAllocated.Equal(d("15")))
	assert.True(t, item.QtyBackordered.Equal(d("5")))
	assert.Equal(t, reservation.StatusActive, out.Status)
}

func TestAllocate_ShortfallWithPartialButNoBackorderUnwinds(t *testing.T) {
	f := newFixture(t)
	p := f.seedPosition(t, seed{location: 1, qty: "5", cost: "5.00"})

	req := orderRequest("20")
	req.AllowPartial = true
	res := f.create(t, req)

	_, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	cur := f.bucket(t, p.ID)
	assert.True(t, cur.Available.Equal(d("5")))
	assert.True(t, cur.Allocated.IsZero())
}

func TestAllocate_ClosedReservationRejected(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})
	res := f.create(t, orderRequest("4"))

	_, err := f.svc.Cancel(context.Background(), testTenant, res.ID, "changed mind", 0)
	require.NoError(t, err)

	_, err = f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	assert.ErrorIs(t, err, reservation.ErrReservationClosed)
}

func TestFulfill_PicksAndShipsAcrossAllocations(t *testing.T) {
	// GIVEN: 8 allocated over two positions (5 @ 5.00, 3 @ 7.00)
	// WHEN: fulfilling 6
	// THEN: COGS = 5*5 + 1*7 = 32, item goes PARTIAL_FULFILLED
	f := newFixture(t)
	p1 := f.seedPosition(t, seed{location: 1, qty: "5", cost: "5.00", receivedd: 2 * time.Hour})
	f.seedPosition(t, seed{location: 2, qty: "10", cost: "7.00", receivedd: time.Hour})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	itemID := out.Items[0].ID

	result, err := f.svc.Fulfill(context.Background(), testTenant, itemID, d("6"), "ship-1", 7)
	require.NoError(t, err)

	assert.True(t, result.COGS.Equal(d("32")), "COGS was %s", result.COGS)
	assert.Equal(t, reservation.ItemStatusPartialFulfilled, result.Item.Status)
	assert.True(t, result.Item.QtyFulfilled.Equal(d("6")))

	reloaded, err := f.svc.Get(context.Background(), testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPartialFulfilled, reloaded.Status)
	assert.Equal(t, reservation.AllocationStatusFulfilled, reloaded.Items[0].Allocations[0].Status)

	shippedOut := f.bucket(t, p1.ID)
	assert.True(t, shippedOut.Shipped.Equal(d("5")))
	assert.True(t, shippedOut.OnHand.IsZero())
}

func TestFulfill_CompletesReservation(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	result, err := f.svc.Fulfill(context.Background(), testTenant, out.Items[0].ID, d("8"), "ship-1", 7)
	require.NoError(t, err)

	assert.Equal(t, reservation.ItemStatusFulfilled, result.Item.Status)
	reloaded, err := f.svc.Get(context.Background(), testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFulfilled, reloaded.Status)
}

func TestFulfill_OverFulfillmentRejected(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(context.Background(), testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	_, err = f.svc.Fulfill(context.Background(), testTenant, out.Items[0].ID, d("9"), "ship-1", 7)
	assert.ErrorIs(t, err, reservation.ErrOverFulfillment)
}

func TestFulfill_RetryAfterPickReplaysAsNoOp(t *testing.T) {
	// Simulates a crash between pick and ship: the pick already happened
	// under the fulfillment ref, then the caller retries the whole fulfill.
	// The pick must replay as a no-op and the shipment proceed exactly once.
	f := newFixture(t)
	ctx := context.Background()
	pos := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("5"))
	out, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	alloc := out.Items[0].Allocations[0]

	// first attempt got as far as the pick
	_, err = f.ledger.Pick(ctx, testTenant, ledger.BucketOp{
		PositionID: pos.ID,
		Quantity:   d("5"),
		Document:   ledger.DocumentRef{Type: ledger.DocumentTypeFulfillment, ID: "ship-1:" + alloc.Number},
	})
	require.NoError(t, err)

	result, err := f.svc.Fulfill(ctx, testTenant, out.Items[0].ID, d("5"), "ship-1", 7)
	require.NoError(t, err)
	assert.True(t, result.COGS.Equal(d("25")))

	cur := f.bucket(t, pos.ID)
	assert.True(t, cur.Shipped.Equal(d("5")), "shipped %s", cur.Shipped)
	assert.True(t, cur.Picked.IsZero(), "picked quantity must not double")
	assert.True(t, cur.OnHand.Equal(d("5")))
	assert.True(t, cur.ConservationHolds())
}

func TestCancel_ReleasesUnfulfilledAllocations(t *testing.T) {
	// GIVEN: 8 allocated, 3 already shipped
	// WHEN: cancelling
	// THEN: 5 go back to available, shipped stock stays shipped
	f := newFixture(t)
	ctx := context.Background()
	pos := f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	_, err = f.svc.Fulfill(ctx, testTenant, out.Items[0].ID, d("3"), "ship-1", 7)
	require.NoError(t, err)

	result, err := f.svc.Cancel(ctx, testTenant, res.ID, "customer cancelled", 7)
	require.NoError(t, err)

	assert.True(t, result.Released.Equal(d("5")))
	assert.Equal(t, reservation.StatusCancelled, result.Reservation.Status)
	assert.Equal(t, "customer cancelled", result.Reservation.CancelReason)

	cur := f.bucket(t, pos.ID)
	assert.True(t, cur.Available.Equal(d("7")), "available %s", cur.Available)
	assert.True(t, cur.Allocated.IsZero())
	assert.True(t, cur.Shipped.Equal(d("3")))
	assert.True(t, cur.ConservationHolds())

	reloaded, err := f.svc.Get(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.AllocationStatusReleased, reloaded.Items[0].Allocations[0].Status)
	assert.Equal(t, reservation.ItemStatusCancelled, reloaded.Items[0].Status)
}

func TestCancel_AlreadyClosed(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, orderRequest("5"))

	_, err := f.svc.Cancel(context.Background(), testTenant, res.ID, "first", 0)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), testTenant, res.ID, "second", 0)
	assert.ErrorIs(t, err, reservation.ErrReservationClosed)
}

func TestExtendExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, orderRequest("5"))

	past := time.Now().Add(-time.Hour)
	_, err := f.svc.ExtendExpiry(ctx, testTenant, res.ID, past, 7)
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	future := time.Now().Add(72 * time.Hour)
	updated, err := f.svc.ExtendExpiry(ctx, testTenant, res.ID, future, 7)
	require.NoError(t, err)
	assert.WithinDuration(t, future, updated.ExpiresAt, time.Second)
	assert.Nil(t, updated.LastNotificationSent)
}

func TestExtendExpiry_RevivesExpiredReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res := f.create(t, orderRequest("5"))
	_, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	// expire it behind the service's back
	stored, err := f.repo.FindReservation(ctx, testTenant, res.ID)
	require.NoError(t, err)
	stored.Status = reservation.StatusExpired
	require.NoError(t, f.repo.SaveReservation(ctx, stored))

	updated, err := f.svc.ExtendExpiry(ctx, testTenant, res.ID, time.Now().Add(24*time.Hour), 7)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, updated.Status, "revived to working state")
}

func TestFlagEscalation(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, orderRequest("5"))

	updated, err := f.svc.FlagEscalation(context.Background(), testTenant, res.ID, "ops-team", "stockout risk")
	require.NoError(t, err)
	assert.True(t, updated.EscalationRequired)
	assert.Equal(t, "ops-team", updated.EscalatedTo)
	assert.Equal(t, "stockout risk", updated.EscalationReason)
	assert.Equal(t, reservation.StatusPending, updated.Status, "escalation is not a state transition")
}

func TestGet_UnknownReservation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), testTenant, 99)
	assert.ErrorIs(t, err, reservation.ErrReservationNotFound)
}

func TestAllocate_MultiItemReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	res, err := f.svc.Create(ctx, testTenant, &reservation.CreateReservationRequest{
		Type: reservation.TypeOrder,
		Items: []reservation.CreateItemRequest{
			{ProductID: 1, VariantID: 1, Quantity: d("4")},
			{ProductID: 1, VariantID: 1, Quantity: d("3")},
		},
	})
	require.NoError(t, err)

	out, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items, 2)
	for _, item := range out.Items {
		assert.Equal(t, reservation.ItemStatusAllocated, item.Status)
	}
	assert.Equal(t, reservation.StatusActive, out.Status)
}

func TestFulfill_FailurePartwayRecordsShippedSubQuantity(t *testing.T) {
	// GIVEN: 8 allocated over two positions (5 @ 4.00, 3 of 10 @ 6.00) and
	// the second position's layers drained behind the ledger's back
	// WHEN: fulfilling 8, which ships the first allocation and fails on the second
	// THEN: the item-level counter agrees with the allocations and the result
	// names the sub-quantity that shipped
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.seedPosition(t, seed{location: 1, qty: "5", cost: "4.00", receivedd: 48 * time.Hour})
	p2 := f.seedPosition(t, seed{location: 2, qty: "10", cost: "6.00", receivedd: 24 * time.Hour})

	res := f.create(t, orderRequest("8"))
	out, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	itemID := out.Items[0].ID

	_, _, err = f.valuer.Consume(ctx, testTenant, p2.ID, d("10"), valuation.CostMethodFIFO)
	require.NoError(t, err)

	result, err := f.svc.Fulfill(ctx, testTenant, itemID, d("8"), "ship-1", 7)
	require.ErrorIs(t, err, valuation.ErrValuationIntegrity)

	require.NotNil(t, result)
	assert.True(t, result.Quantity.Equal(d("5")), "shipped sub-quantity was %s", result.Quantity)
	assert.True(t, result.COGS.Equal(d("20")), "COGS was %s", result.COGS)

	item, err := f.repo.FindItem(ctx, testTenant, itemID)
	require.NoError(t, err)
	assert.True(t, item.QtyFulfilled.Equal(d("5")), "item counter was %s", item.QtyFulfilled)
	assert.Equal(t, reservation.ItemStatusPartialFulfilled, item.Status)
	require.Len(t, item.Allocations, 2)
	assert.Equal(t, reservation.AllocationStatusFulfilled, item.Allocations[0].Status)
	assert.True(t, item.Allocations[0].QtyFulfilled.Equal(d("5")))
	assert.Equal(t, reservation.AllocationStatusActive, item.Allocations[1].Status)
	assert.True(t, item.Allocations[1].QtyFulfilled.IsZero())

	reloaded, err := f.svc.Get(ctx, testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPartialFulfilled, reloaded.Status)

	shippedOut := f.bucket(t, p1.ID)
	assert.True(t, shippedOut.Shipped.Equal(d("5")))
	assert.True(t, shippedOut.OnHand.IsZero())
}

func TestAllocateItem_RestockClearsBackorder(t *testing.T) {
	// GIVEN: a backordered item (15 requested, 10 in stock)
	// WHEN: stock arrives and the item is allocated again
	// THEN: the stale backorder quantity is cleared
	f := newFixture(t)
	ctx := context.Background()
	f.seedPosition(t, seed{location: 1, qty: "10", cost: "5.00"})

	req := orderRequest("15")
	req.AllowPartial = true
	req.BackorderEnabled = true
	res := f.create(t, req)

	out, err := f.svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, reservation.ItemStatusBackordered, out.Items[0].Status)
	require.True(t, out.Items[0].QtyBackordered.Equal(d("5")))

	f.seedPosition(t, seed{location: 2, qty: "20", cost: "5.50"})

	item, err := f.svc.AllocateItem(ctx, testTenant, out.Items[0].ID, reservation.AllocateOptions{})
	require.NoError(t, err)

	assert.Equal(t, reservation.ItemStatusAllocated, item.Status)
	assert.True(t, item.QtyBackordered.IsZero(), "backordered was %s", item.QtyBackordered)
	assert.True(t, item.QtyAllocated.Equal(d("15")))
}

// cancellingStore cancels the caller's context once the first allocation row
// is written, simulating a request torn down mid-walk.
type cancellingStore struct {
	*memory.ReservationStore
	cancel context.CancelFunc
	fired  bool
}

func (s *cancellingStore) CreateAllocation(ctx context.Context, a *reservation.Allocation) error {
	err := s.ReservationStore.CreateAllocation(ctx, a)
	if !s.fired {
		s.fired = true
		s.cancel()
	}
	return err
}

func TestAllocate_CancelledMidWalkUnwinds(t *testing.T) {
	// GIVEN: demand spanning two positions and a context cancelled right
	// after the first position is committed
	// WHEN: allocating
	// THEN: the walk stops with context.Canceled and the touched position is
	// released back to available
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{
		Ledger: config.LedgerConfig{
			ReversalWindow:      24 * time.Hour,
			PositionLockTimeout: 2 * time.Second,
		},
		Reservation: config.ReservationConfig{
			DefaultExpiry:        24 * time.Hour,
			NotificationLeadTime: 2 * time.Hour,
			SweepInterval:        time.Minute,
			SweepLockTTL:         50 * time.Second,
		},
	}

	positions := memory.NewPositionStore()
	locks := lock.NewKeyedMutex()
	valuer := valuation.NewService(memory.NewLayerStore(), logger)
	ledgerSvc := ledger.NewService(positions, memory.NewMovementStore(), valuer, locks, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &cancellingStore{ReservationStore: memory.NewReservationStore(), cancel: cancel}
	svc := reservation.NewService(repo, ledgerSvc, locks, cfg, logger)

	seedAt := func(location uint, age time.Duration) *ledger.StockPosition {
		rcv, err := ledgerSvc.Receive(context.Background(), testTenant, ledger.ReceiveRequest{
			Key:      ledger.PositionKey{ProductID: 1, VariantID: 1, WarehouseID: 1, LocationID: location},
			Quantity: d("5"),
			UnitCost: d("5.00"),
		})
		require.NoError(t, err)
		p, err := positions.FindByID(context.Background(), testTenant, rcv.Position.ID)
		require.NoError(t, err)
		at := time.Now().UTC().Add(-age)
		p.FirstReceivedAt = &at
		require.NoError(t, positions.Save(context.Background(), p))
		return p
	}
	p1 := seedAt(1, 48*time.Hour)
	p2 := seedAt(2, 24*time.Hour)

	res, err := svc.Create(context.Background(), testTenant, orderRequest("8"))
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, testTenant, res.ID, reservation.AllocateOptions{})
	require.ErrorIs(t, err, context.Canceled)

	for _, id := range []uint{p1.ID, p2.ID} {
		p, err := positions.FindByID(context.Background(), testTenant, id)
		require.NoError(t, err)
		assert.True(t, p.Available.Equal(d("5")), "position %d available was %s", id, p.Available)
		assert.True(t, p.Reserved.IsZero())
		assert.True(t, p.Allocated.IsZero())
		assert.True(t, p.ConservationHolds())
	}

	reloaded, err := svc.Get(context.Background(), testTenant, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, reloaded.Status)
}
