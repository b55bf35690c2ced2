// internal/domain/valuation/entity.go
package valuation

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostMethod determines the order in which valuation layers are consumed
type CostMethod string

const (
	CostMethodFIFO CostMethod = "FIFO" // oldest receipt consumed first
	CostMethodLIFO CostMethod = "LIFO" // newest receipt consumed first
)

// IsValid reports whether the cost method is a known value
func (m CostMethod) IsValid() bool {
	return m == CostMethodFIFO || m == CostMethodLIFO
}

// String returns the string representation of the cost method
func (m CostMethod) String() string {
	return string(m)
}

// ValuationLayer is a cost-tagged slice of received quantity for a stock
// position. Layers are created on receipt, consumed on outbound movements in
// FIFO/LIFO order, and never deleted; a fully consumed layer is kept for cost
// history with quantity_remaining at zero.
type ValuationLayer struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TenantID   string `gorm:"not null;size:64;index:idx_layers_tenant_position,priority:1" json:"tenant_id"`
	PositionID uint   `gorm:"not null;index:idx_layers_tenant_position,priority:2" json:"position_id"`
	Sequence   int    `gorm:"not null" json:"sequence"` // monotonic per position

	QuantityReceived  decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"quantity_received"`
	QuantityConsumed  decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"quantity_consumed"`
	QuantityRemaining decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"quantity_remaining"`

	UnitCost          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_cost"`
	LandedCostPerUnit decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"landed_cost_per_unit"`

	// Landed cost components allocated onto this layer after receipt
	FreightCost  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"freight_cost"`
	DutyCost     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"duty_cost"`
	HandlingCost decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"handling_cost"`
	OtherCost    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"other_cost"`

	FullyConsumed bool      `gorm:"default:false;index" json:"fully_consumed"`
	ReceivedAt    time.Time `gorm:"not null;index" json:"received_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EffectiveUnitCost is the landed unit cost used to cost outbound quantity
func (l *ValuationLayer) EffectiveUnitCost() decimal.Decimal {
	return l.UnitCost.Add(l.LandedCostPerUnit)
}

// Consumption records how much of a layer a shipment consumed and at what cost
type Consumption struct {
	LayerID  uint            `json:"layer_id"`
	Sequence int             `json:"sequence"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"` // effective (landed) unit cost
	Cost     decimal.Decimal `json:"cost"`
}

// Snapshot is a read-only valuation summary for a position
type Snapshot struct {
	PositionID        uint            `json:"position_id"`
	LayerCount        int             `json:"layer_count"`
	OpenLayerCount    int             `json:"open_layer_count"`
	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	TotalValue        decimal.Decimal `json:"total_value"`
	WeightedUnitCost  decimal.Decimal `json:"weighted_unit_cost"`
	AsOf              time.Time       `json:"as_of"`
}
