// internal/domain/valuation/service.go
package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/inventory-backend/internal/pkg/fixed"
)

var (
	// ErrValuationIntegrity means the open layers cannot cover an outbound
	// quantity the ledger believes is in stock. This is a data-integrity
	// condition: the operation must halt rather than under-cost the shipment.
	ErrValuationIntegrity = errors.New("valuation: layers cannot cover outbound quantity")

	// ErrLayerNotFound is returned when a layer id does not exist in the tenant partition
	ErrLayerNotFound = errors.New("valuation: layer not found")

	// ErrInvalidQuantity is returned for zero or negative quantities
	ErrInvalidQuantity = errors.New("valuation: quantity must be positive")
)

// Service owns the valuation layer store: layer creation on receipt,
// FIFO/LIFO consumption on outbound movements, and landed cost allocation.
type Service struct {
	layers Repository
	logger *logrus.Logger
}

// NewService creates a new valuation service
func NewService(layers Repository, logger *logrus.Logger) *Service {
	return &Service{
		layers: layers,
		logger: logger,
	}
}

// RecordReceipt creates a new valuation layer for a received quantity
func (s *Service) RecordReceipt(ctx context.Context, tenantID string, positionID uint, qty, unitCost decimal.Decimal, receivedAt time.Time) (*ValuationLayer, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	seq, err := s.layers.NextSequence(ctx, tenantID, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign layer sequence: %w", err)
	}

	layer := &ValuationLayer{
		TenantID:          tenantID,
		PositionID:        positionID,
		Sequence:          seq,
		QuantityReceived:  fixed.Quantity(qty),
		QuantityConsumed:  decimal.Zero,
		QuantityRemaining: fixed.Quantity(qty),
		UnitCost:          fixed.Money(unitCost),
		LandedCostPerUnit: decimal.Zero,
		FreightCost:       decimal.Zero,
		DutyCost:          decimal.Zero,
		HandlingCost:      decimal.Zero,
		OtherCost:         decimal.Zero,
		ReceivedAt:        receivedAt,
	}

	if err := s.layers.Create(ctx, layer); err != nil {
		return nil, fmt.Errorf("failed to create valuation layer: %w", err)
	}

	return layer, nil
}

// ConsumeForShipment consumes open layers for an outbound quantity following
// the position's cost method and returns the total cost of goods shipped.
// Consumed layers are decremented in place; a layer that reaches zero is
// marked fully consumed but retained for cost history.
func (s *Service) ConsumeForShipment(ctx context.Context, tenantID string, positionID uint, qty decimal.Decimal, method CostMethod) (decimal.Decimal, error) {
	cogs, _, err := s.Consume(ctx, tenantID, positionID, qty, method)
	return cogs, err
}

// Consume is ConsumeForShipment with the per-layer consumption detail
func (s *Service) Consume(ctx context.Context, tenantID string, positionID uint, qty decimal.Decimal, method CostMethod) (decimal.Decimal, []Consumption, error) {
	if !qty.IsPositive() {
		return decimal.Zero, nil, ErrInvalidQuantity
	}
	if !method.IsValid() {
		return decimal.Zero, nil, fmt.Errorf("valuation: unknown cost method %q", method)
	}

	open, err := s.layers.ListOpenByPosition(ctx, tenantID, positionID)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to load open layers: %w", err)
	}

	// Repository returns receipt-time ascending; LIFO walks from the newest end.
	if method == CostMethodLIFO {
		for i, j := 0, len(open)-1; i < j; i, j = i+1, j-1 {
			open[i], open[j] = open[j], open[i]
		}
	}

	// Fail before touching any layer if coverage is short.
	total := decimal.Zero
	for _, layer := range open {
		total = total.Add(layer.QuantityRemaining)
	}
	if total.LessThan(qty) {
		return decimal.Zero, nil, fmt.Errorf("%w: position %d has %s remaining, outbound %s",
			ErrValuationIntegrity, positionID, total.String(), qty.String())
	}

	demand := qty
	cogs := decimal.Zero
	var consumed []Consumption

	for _, layer := range open {
		if !demand.IsPositive() {
			break
		}

		take := decimal.Min(layer.QuantityRemaining, demand)
		cost := fixed.Money(take.Mul(layer.EffectiveUnitCost()))

		layer.QuantityConsumed = fixed.Quantity(layer.QuantityConsumed.Add(take))
		layer.QuantityRemaining = fixed.Quantity(layer.QuantityRemaining.Sub(take))
		if layer.QuantityRemaining.IsZero() {
			layer.FullyConsumed = true
		}

		if err := s.layers.Save(ctx, layer); err != nil {
			return decimal.Zero, nil, fmt.Errorf("failed to save layer %d: %w", layer.ID, err)
		}

		consumed = append(consumed, Consumption{
			LayerID:  layer.ID,
			Sequence: layer.Sequence,
			Quantity: take,
			UnitCost: layer.EffectiveUnitCost(),
			Cost:     cost,
		})
		cogs = cogs.Add(cost)
		demand = demand.Sub(take)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"position_id": positionID,
		"quantity":    qty.String(),
		"method":      method.String(),
		"cogs":        cogs.String(),
		"layers_used": len(consumed),
	}).Debug("Consumed valuation layers")

	return fixed.Money(cogs), consumed, nil
}

// Restore puts consumed quantity back onto its layers. The ledger uses it to
// back out a consumption whose surrounding bucket mutation failed to persist.
func (s *Service) Restore(ctx context.Context, tenantID string, consumed []Consumption) error {
	for _, c := range consumed {
		layer, err := s.layers.FindByID(ctx, tenantID, c.LayerID)
		if err != nil {
			return fmt.Errorf("failed to load layer %d: %w", c.LayerID, err)
		}

		layer.QuantityConsumed = fixed.Quantity(layer.QuantityConsumed.Sub(c.Quantity))
		layer.QuantityRemaining = fixed.Quantity(layer.QuantityRemaining.Add(c.Quantity))
		if layer.QuantityRemaining.IsPositive() {
			layer.FullyConsumed = false
		}

		if err := s.layers.Save(ctx, layer); err != nil {
			return fmt.Errorf("failed to restore layer %d: %w", c.LayerID, err)
		}
	}
	return nil
}

// VoidReceipt drains a layer whose receipt failed to persist its position
// mutation. The row is kept for the audit trail but no longer carries value.
func (s *Service) VoidReceipt(ctx context.Context, tenantID string, layerID uint) error {
	layer, err := s.layers.FindByID(ctx, tenantID, layerID)
	if err != nil {
		return err
	}

	layer.QuantityConsumed = layer.QuantityReceived
	layer.QuantityRemaining = decimal.Zero
	layer.FullyConsumed = true

	if err := s.layers.Save(ctx, layer); err != nil {
		return fmt.Errorf("failed to void layer %d: %w", layerID, err)
	}
	return nil
}

// AllocateLandedCosts distributes freight/duty/handling/other costs received
// after the fact onto a layer, proportionally to quantity received. The
// per-unit landed cost is recomputed from the layer's running totals.
func (s *Service) AllocateLandedCosts(ctx context.Context, tenantID string, layerID uint, freight, duty, handling, other decimal.Decimal) (*ValuationLayer, error) {
	layer, err := s.layers.FindByID(ctx, tenantID, layerID)
	if err != nil {
		return nil, err
	}
	if !layer.QuantityReceived.IsPositive() {
		return nil, fmt.Errorf("valuation: layer %d has no received quantity", layerID)
	}

	layer.FreightCost = fixed.Money(layer.FreightCost.Add(freight))
	layer.DutyCost = fixed.Money(layer.DutyCost.Add(duty))
	layer.HandlingCost = fixed.Money(layer.HandlingCost.Add(handling))
	layer.OtherCost = fixed.Money(layer.OtherCost.Add(other))

	extra := layer.FreightCost.Add(layer.DutyCost).Add(layer.HandlingCost).Add(layer.OtherCost)
	layer.LandedCostPerUnit = fixed.Money(extra.Div(layer.QuantityReceived))

	if err := s.layers.Save(ctx, layer); err != nil {
		return nil, fmt.Errorf("failed to save landed costs: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":            tenantID,
		"layer_id":             layerID,
		"landed_cost_per_unit": layer.LandedCostPerUnit.String(),
	}).Info("Allocated landed costs to valuation layer")

	return layer, nil
}

// Snapshot returns a read-only valuation summary for a position
func (s *Service) Snapshot(ctx context.Context, tenantID string, positionID uint) (*Snapshot, error) {
	all, err := s.layers.ListByPosition(ctx, tenantID, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load layers: %w", err)
	}

	snap := &Snapshot{
		PositionID:        positionID,
		LayerCount:        len(all),
		QuantityRemaining: decimal.Zero,
		TotalValue:        decimal.Zero,
		WeightedUnitCost:  decimal.Zero,
		AsOf:              time.Now().UTC(),
	}

	for _, layer := range all {
		if layer.FullyConsumed {
			continue
		}
		snap.OpenLayerCount++
		snap.QuantityRemaining = snap.QuantityRemaining.Add(layer.QuantityRemaining)
		snap.TotalValue = snap.TotalValue.Add(layer.QuantityRemaining.Mul(layer.EffectiveUnitCost()))
	}

	snap.TotalValue = fixed.Money(snap.TotalValue)
	if snap.QuantityRemaining.IsPositive() {
		snap.WeightedUnitCost = fixed.Money(snap.TotalValue.Div(snap.QuantityRemaining))
	}

	return snap, nil
}
