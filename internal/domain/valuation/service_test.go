package valuation_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/memory"
)

const testTenant = "acme"

func newTestService() (*valuation.Service, *memory.LayerStore) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := memory.NewLayerStore()
	return valuation.NewService(store, logger), store
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func receive(t *testing.T, svc *valuation.Service, positionID uint, qty, cost string, at time.Time) *valuation.ValuationLayer {
	t.Helper()
	layer, err := svc.RecordReceipt(context.Background(), testTenant, positionID, d(qty), d(cost), at)
	require.NoError(t, err)
	return layer
}

func TestRecordReceipt_AssignsMonotonicSequence(t *testing.T) {
	svc, _ := newTestService()
	now := time.Now().UTC()

	l1 := receive(t, svc, 1, "10", "5.00", now)
	l2 := receive(t, svc, 1, "10", "7.00", now.Add(time.Hour))

	assert.Equal(t, 1, l1.Sequence)
	assert.Equal(t, 2, l2.Sequence)
	assert.True(t, l1.QuantityRemaining.Equal(d("10")))
	assert.False(t, l1.FullyConsumed)
}

func TestRecordReceipt_RejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RecordReceipt(context.Background(), testTenant, 1, d("0"), d("5"), time.Now())
	assert.ErrorIs(t, err, valuation.ErrInvalidQuantity)

	_, err = svc.RecordReceipt(context.Background(), testTenant, 1, d("-1"), d("5"), time.Now())
	assert.ErrorIs(t, err, valuation.ErrInvalidQuantity)
}

func TestConsume_FIFO(t *testing.T) {
	// GIVEN: two layers, 10 @ 5.00 (older) and 10 @ 7.00 (newer)
	// WHEN: consuming 15 under FIFO
	// THEN: COGS = 10*5 + 5*7 = 85, oldest layer fully consumed
	svc, _ := newTestService()
	now := time.Now().UTC()
	old := receive(t, svc, 1, "10", "5.00", now.Add(-2*time.Hour))
	newer := receive(t, svc, 1, "10", "7.00", now)

	cogs, consumed, err := svc.Consume(context.Background(), testTenant, 1, d("15"), valuation.CostMethodFIFO)
	require.NoError(t, err)

	assert.True(t, cogs.Equal(d("85")), "COGS was %s", cogs)
	require.Len(t, consumed, 2)
	assert.Equal(t, old.ID, consumed[0].LayerID)
	assert.True(t, consumed[0].Quantity.Equal(d("10")))
	assert.Equal(t, newer.ID, consumed[1].LayerID)
	assert.True(t, consumed[1].Quantity.Equal(d("5")))

	updated, err := svc.Snapshot(context.Background(), testTenant, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.OpenLayerCount)
	assert.True(t, updated.QuantityRemaining.Equal(d("5")))
}

func TestConsume_LIFO(t *testing.T) {
	// Same layers, LIFO order: 10*7 + 5*5 = 95
	svc, _ := newTestService()
	now := time.Now().UTC()
	receive(t, svc, 1, "10", "5.00", now.Add(-2*time.Hour))
	newer := receive(t, svc, 1, "10", "7.00", now)

	cogs, consumed, err := svc.Consume(context.Background(), testTenant, 1, d("15"), valuation.CostMethodLIFO)
	require.NoError(t, err)

	assert.True(t, cogs.Equal(d("95")), "COGS was %s", cogs)
	require.Len(t, consumed, 2)
	assert.Equal(t, newer.ID, consumed[0].LayerID)
}

func TestConsume_IntegrityFailureLeavesLayersUntouched(t *testing.T) {
	// GIVEN: 20 units across two layers
	// WHEN: consuming 25
	// THEN: the call fails loudly and no layer is decremented
	svc, store := newTestService()
	now := time.Now().UTC()
	receive(t, svc, 1, "10", "5.00", now.Add(-time.Hour))
	receive(t, svc, 1, "10", "7.00", now)

	_, _, err := svc.Consume(context.Background(), testTenant, 1, d("25"), valuation.CostMethodFIFO)
	require.ErrorIs(t, err, valuation.ErrValuationIntegrity)

	open, err := store.ListOpenByPosition(context.Background(), testTenant, 1)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, layer := range open {
		assert.True(t, layer.QuantityConsumed.IsZero())
		assert.True(t, layer.QuantityRemaining.Equal(d("10")))
	}
}

func TestConsume_FullyConsumedLayerRetainedForHistory(t *testing.T) {
	svc, store := newTestService()
	receive(t, svc, 1, "10", "5.00", time.Now().UTC())

	_, _, err := svc.Consume(context.Background(), testTenant, 1, d("10"), valuation.CostMethodFIFO)
	require.NoError(t, err)

	all, err := store.ListByPosition(context.Background(), testTenant, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].FullyConsumed)
	assert.True(t, all[0].QuantityRemaining.IsZero())

	open, err := store.ListOpenByPosition(context.Background(), testTenant, 1)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestConsume_UnknownMethodRejected(t *testing.T) {
	svc, _ := newTestService()
	receive(t, svc, 1, "10", "5.00", time.Now().UTC())

	_, _, err := svc.Consume(context.Background(), testTenant, 1, d("1"), valuation.CostMethod("WAVG"))
	assert.Error(t, err)
}

func TestAllocateLandedCosts(t *testing.T) {
	// GIVEN: a layer of 10 units at 5.00
	// WHEN: allocating 10 freight + 5 duty after the fact
	// THEN: landed cost per unit is 1.50 and outbound costing uses 6.50
	svc, _ := newTestService()
	layer := receive(t, svc, 1, "10", "5.00", time.Now().UTC())

	updated, err := svc.AllocateLandedCosts(context.Background(), testTenant, layer.ID, d("10"), d("5"), d("0"), d("0"))
	require.NoError(t, err)

	assert.True(t, updated.LandedCostPerUnit.Equal(d("1.50")), "landed cost %s", updated.LandedCostPerUnit)
	assert.True(t, updated.EffectiveUnitCost().Equal(d("6.50")))

	cogs, _, err := svc.Consume(context.Background(), testTenant, 1, d("4"), valuation.CostMethodFIFO)
	require.NoError(t, err)
	assert.True(t, cogs.Equal(d("26")), "COGS was %s", cogs)
}

func TestAllocateLandedCosts_Accumulates(t *testing.T) {
	svc, _ := newTestService()
	layer := receive(t, svc, 1, "10", "5.00", time.Now().UTC())

	_, err := svc.AllocateLandedCosts(context.Background(), testTenant, layer.ID, d("10"), d("0"), d("0"), d("0"))
	require.NoError(t, err)
	updated, err := svc.AllocateLandedCosts(context.Background(), testTenant, layer.ID, d("0"), d("0"), d("5"), d("5"))
	require.NoError(t, err)

	// 10 freight + 5 handling + 5 other over 10 units
	assert.True(t, updated.LandedCostPerUnit.Equal(d("2.00")))
}

func TestAllocateLandedCosts_UnknownLayer(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.AllocateLandedCosts(context.Background(), testTenant, 99, d("1"), d("0"), d("0"), d("0"))
	assert.ErrorIs(t, err, valuation.ErrLayerNotFound)
}

func TestSnapshot_WeightedUnitCost(t *testing.T) {
	svc, _ := newTestService()
	now := time.Now().UTC()
	receive(t, svc, 1, "10", "5.00", now.Add(-time.Hour))
	receive(t, svc, 1, "10", "7.00", now)

	snap, err := svc.Snapshot(context.Background(), testTenant, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.LayerCount)
	assert.Equal(t, 2, snap.OpenLayerCount)
	assert.True(t, snap.QuantityRemaining.Equal(d("20")))
	assert.True(t, snap.TotalValue.Equal(d("120")))
	assert.True(t, snap.WeightedUnitCost.Equal(d("6.00")))
}

func TestSnapshot_TenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	receive(t, svc, 1, "10", "5.00", time.Now().UTC())

	snap, err := svc.Snapshot(context.Background(), "other-tenant", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.LayerCount)
}
