package ledger_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/memory"
	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

// faultPositions rejects the next Save once, simulating a version conflict
// or database error mid-operation.
type faultPositions struct {
	ledger.PositionRepository
	failSave bool
}

func (r *faultPositions) Save(ctx context.Context, p *ledger.StockPosition) error {
	if r.failSave {
		r.failSave = false
		return errors.New("save rejected")
	}
	return r.PositionRepository.Save(ctx, p)
}

// faultMovements rejects the next Append once.
type faultMovements struct {
	ledger.MovementRepository
	failAppend bool
}

func (r *faultMovements) Append(ctx context.Context, m *ledger.Movement) error {
	if r.failAppend {
		r.failAppend = false
		return errors.New("append rejected")
	}
	return r.MovementRepository.Append(ctx, m)
}

type faultFixture struct {
	svc       *ledger.Service
	valuer    *valuation.Service
	positions *faultPositions
	movements *faultMovements
}

func newFaultFixture(t *testing.T) *faultFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Ledger: config.LedgerConfig{
			ReversalWindow:      24 * time.Hour,
			PositionLockTimeout: 2 * time.Second,
		},
	}

	positions := &faultPositions{PositionRepository: memory.NewPositionStore()}
	movements := &faultMovements{MovementRepository: memory.NewMovementStore()}
	valuer := valuation.NewService(memory.NewLayerStore(), logger)
	svc := ledger.NewService(positions, movements, valuer, lock.NewKeyedMutex(), cfg, logger)

	return &faultFixture{svc: svc, valuer: valuer, positions: positions, movements: movements}
}

// stage receives 10 @ 5.00 and walks qty through reserve/allocate/pick
func (f *faultFixture) stage(t *testing.T, qty string) uint {
	t.Helper()
	ctx := context.Background()

	res, err := f.svc.Receive(ctx, testTenant, ledger.ReceiveRequest{
		Key:      key(1, 1),
		Quantity: d("10"),
		UnitCost: d("5.00"),
	})
	require.NoError(t, err)
	id := res.Position.ID

	for _, step := range []func(context.Context, string, ledger.BucketOp) (*ledger.OperationResult, error){
		f.svc.Reserve, f.svc.Allocate, f.svc.Pick,
	} {
		_, err := step(ctx, testTenant, ledger.BucketOp{PositionID: id, Quantity: d(qty)})
		require.NoError(t, err)
	}
	return id
}

func (f *faultFixture) position(t *testing.T, id uint) *ledger.StockPosition {
	t.Helper()
	p, err := f.svc.GetPosition(context.Background(), testTenant, id)
	require.NoError(t, err)
	return p
}

func (f *faultFixture) remaining(t *testing.T, id uint) string {
	t.Helper()
	snap, err := f.valuer.Snapshot(context.Background(), testTenant, id)
	require.NoError(t, err)
	return snap.QuantityRemaining.String()
}

func TestShip_SaveFailureRestoresConsumedLayers(t *testing.T) {
	// GIVEN: 4 picked and a position store that rejects the next save
	// WHEN: shipping fails after the layers were consumed
	// THEN: the layers are restored so a retry covers the same quantity
	f := newFaultFixture(t)
	ctx := context.Background()
	id := f.stage(t, "4")

	f.positions.failSave = true
	_, err := f.svc.Ship(ctx, testTenant, ledger.BucketOp{PositionID: id, Quantity: d("4"), Document: doc("ship-1")})
	require.Error(t, err)

	assert.Equal(t, "10", f.remaining(t, id))

	shipped, err := f.svc.Ship(ctx, testTenant, ledger.BucketOp{PositionID: id, Quantity: d("4"), Document: doc("ship-1")})
	require.NoError(t, err)
	assert.False(t, shipped.AlreadyApplied)
	assert.True(t, shipped.COGS.Equal(d("20")), "COGS was %s", shipped.COGS)
}

func TestShip_AppendFailureRestoresBucketsAndLayers(t *testing.T) {
	// GIVEN: 4 picked and a movement store that rejects the next append
	// WHEN: shipping fails after the position was saved
	// THEN: the buckets are put back so replaying the log still reproduces them
	f := newFaultFixture(t)
	ctx := context.Background()
	id := f.stage(t, "4")

	f.movements.failAppend = true
	_, err := f.svc.Ship(ctx, testTenant, ledger.BucketOp{PositionID: id, Quantity: d("4"), Document: doc("ship-1")})
	require.Error(t, err)

	p := f.position(t, id)
	assert.True(t, p.Picked.Equal(d("4")), "picked was %s", p.Picked)
	assert.True(t, p.Shipped.IsZero())
	assert.True(t, p.OnHand.Equal(d("10")))
	assert.True(t, p.ConservationHolds())
	assert.Equal(t, "10", f.remaining(t, id))

	shipped, err := f.svc.Ship(ctx, testTenant, ledger.BucketOp{PositionID: id, Quantity: d("4"), Document: doc("ship-1")})
	require.NoError(t, err)
	assert.True(t, shipped.COGS.Equal(d("20")))
}

func TestReceive_AppendFailureBacksOutReceipt(t *testing.T) {
	// GIVEN: 10 on hand at 5.00 and a movement store that rejects the next append
	// WHEN: a second receipt fails at the movement write
	// THEN: buckets, average cost and layers are back where they were
	f := newFaultFixture(t)
	ctx := context.Background()

	res, err := f.svc.Receive(ctx, testTenant, ledger.ReceiveRequest{Key: key(1, 1), Quantity: d("10"), UnitCost: d("5.00")})
	require.NoError(t, err)
	id := res.Position.ID

	f.movements.failAppend = true
	_, err = f.svc.Receive(ctx, testTenant, ledger.ReceiveRequest{Key: key(1, 1), Quantity: d("10"), UnitCost: d("9.00")})
	require.Error(t, err)

	p := f.position(t, id)
	assert.True(t, p.OnHand.Equal(d("10")), "on hand was %s", p.OnHand)
	assert.True(t, p.Available.Equal(d("10")))
	assert.True(t, p.AverageCost.Equal(d("5.00")), "average cost was %s", p.AverageCost)
	assert.Equal(t, "10", f.remaining(t, id))

	retried, err := f.svc.Receive(ctx, testTenant, ledger.ReceiveRequest{Key: key(1, 1), Quantity: d("10"), UnitCost: d("9.00")})
	require.NoError(t, err)
	assert.True(t, retried.NewAverageCost.Equal(d("7.00")))
	assert.True(t, retried.Position.OnHand.Equal(d("20")))
}

func TestAdjust_AppendFailureRestoresConsumedLayers(t *testing.T) {
	// GIVEN: 10 on hand and a movement store that rejects the next append
	// WHEN: a downward adjustment fails at the movement write
	// THEN: the consumed layers and the buckets are restored
	f := newFaultFixture(t)
	ctx := context.Background()

	res, err := f.svc.Receive(ctx, testTenant, ledger.ReceiveRequest{Key: key(1, 1), Quantity: d("10"), UnitCost: d("5.00")})
	require.NoError(t, err)
	id := res.Position.ID

	f.movements.failAppend = true
	_, err = f.svc.Adjust(ctx, testTenant, ledger.AdjustRequest{PositionID: id, NewOnHand: d("4"), Reason: "cycle count"})
	require.Error(t, err)

	p := f.position(t, id)
	assert.True(t, p.OnHand.Equal(d("10")), "on hand was %s", p.OnHand)
	assert.True(t, p.Available.Equal(d("10")))
	assert.True(t, p.ConservationHolds())
	assert.Equal(t, "10", f.remaining(t, id))

	retried, err := f.svc.Adjust(ctx, testTenant, ledger.AdjustRequest{PositionID: id, NewOnHand: d("4"), Reason: "cycle count"})
	require.NoError(t, err)
	assert.True(t, retried.Delta.Equal(d("-6")))
	assert.Equal(t, "4", f.remaining(t, id))
}
