// internal/domain/ledger/entity.go
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"gorm.io/gorm"
)

// MovementType represents the type of stock movement
type MovementType string

const (
	MovementTypeReceive     MovementType = "RECEIVE"
	MovementTypeShip        MovementType = "SHIP"
	MovementTypeReserve     MovementType = "RESERVE"
	MovementTypeRelease     MovementType = "RELEASE"
	MovementTypeAllocate    MovementType = "ALLOCATE"
	MovementTypeUnallocate  MovementType = "UNALLOCATE" // compensating allocated -> available
	MovementTypePick        MovementType = "PICK"
	MovementTypeAdjustIn    MovementType = "ADJUST_IN"
	MovementTypeAdjustOut   MovementType = "ADJUST_OUT"
	MovementTypeTransferIn  MovementType = "TRANSFER_IN"
	MovementTypeTransferOut MovementType = "TRANSFER_OUT"
	MovementTypeReversal    MovementType = "REVERSAL"
)

// MovementStatus represents the lifecycle status of a movement record.
// Status is the only mutable field on a movement after creation.
type MovementStatus string

const (
	MovementStatusConfirmed MovementStatus = "CONFIRMED"
	MovementStatusCancelled MovementStatus = "CANCELLED"
	MovementStatusReversed  MovementStatus = "REVERSED"
)

// DocumentType identifies the kind of business document a movement or
// reservation originated from. It is a lookup key only; the document itself
// lives in the caller's own store.
type DocumentType string

const (
	DocumentTypeOrder       DocumentType = "order"
	DocumentTypeTransfer    DocumentType = "transfer"
	DocumentTypeWorkOrder   DocumentType = "work_order"
	DocumentTypePurchase    DocumentType = "purchase"
	DocumentTypeCycleCount  DocumentType = "cycle_count"
	DocumentTypeReservation DocumentType = "reservation"
	DocumentTypeFulfillment DocumentType = "fulfillment"
	DocumentTypeManual      DocumentType = "manual"
)

// DocumentRef is a tagged reference to an originating business document.
// A zero DocumentRef means the operation carries no idempotency reference.
type DocumentRef struct {
	Type DocumentType `json:"type"`
	ID   string       `json:"id"`
}

// IsZero reports whether the reference is empty
func (d DocumentRef) IsZero() bool {
	return d.Type == "" || d.ID == ""
}

// PositionKey uniquely identifies a stock position within a tenant
type PositionKey struct {
	ProductID   uint   `json:"product_id"`
	VariantID   uint   `json:"variant_id"`
	WarehouseID uint   `json:"warehouse_id"`
	LocationID  uint   `json:"location_id"`
	BatchNumber string `json:"batch_number"`
}

// StockPosition tracks the quantity buckets and cost state for one
// (product, variant, warehouse, location, batch) tuple. The conservation
// invariant OnHand == Available + Reserved + Allocated + Picked holds at all
// times; Shipped, Incoming and InTransit are external to on-hand.
type StockPosition struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"not null;size:64;uniqueIndex:idx_positions_key,priority:1" json:"tenant_id"`

	ProductID   uint   `gorm:"not null;uniqueIndex:idx_positions_key,priority:2;index" json:"product_id"`
	VariantID   uint   `gorm:"not null;uniqueIndex:idx_positions_key,priority:3" json:"variant_id"`
	WarehouseID uint   `gorm:"not null;uniqueIndex:idx_positions_key,priority:4;index" json:"warehouse_id"`
	LocationID  uint   `gorm:"not null;uniqueIndex:idx_positions_key,priority:5" json:"location_id"`
	BatchNumber string `gorm:"size:100;uniqueIndex:idx_positions_key,priority:6" json:"batch_number"`

	OnHand    decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"on_hand"`
	Available decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"available"`
	Reserved  decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"reserved"`
	Allocated decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"allocated"`
	Picked    decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"picked"`
	Shipped   decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"shipped"`
	Incoming  decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"incoming"`
	InTransit decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"in_transit"`

	UnitCost     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_cost"` // last receipt cost
	AverageCost  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"average_cost"`
	StandardCost decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"standard_cost"`
	TotalValue   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_value"`

	CostMethod   valuation.CostMethod `gorm:"size:10;default:'FIFO'" json:"cost_method"`
	QualityGrade string               `gorm:"size:10" json:"quality_grade"` // A (best) .. D
	PickSequence int                  `gorm:"default:0" json:"pick_sequence"`
	ExpiryDate   *time.Time           `json:"expiry_date,omitempty"`

	FirstReceivedAt *time.Time `json:"first_received_at,omitempty"`
	LastReceivedAt  *time.Time `json:"last_received_at,omitempty"`

	IsActive  bool           `gorm:"default:true;index" json:"is_active"`
	Version   int64          `gorm:"default:0" json:"version"` // optimistic concurrency check
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Key returns the position's identifying tuple
func (p *StockPosition) Key() PositionKey {
	return PositionKey{
		ProductID:   p.ProductID,
		VariantID:   p.VariantID,
		WarehouseID: p.WarehouseID,
		LocationID:  p.LocationID,
		BatchNumber: p.BatchNumber,
	}
}

// LockKey returns the serialization key for per-position locking
func (p *StockPosition) LockKey() string {
	return LockKeyFor(p.TenantID, p.ID)
}

// LockKeyFor builds the serialization key for a position id
func LockKeyFor(tenantID string, positionID uint) string {
	return fmt.Sprintf("position:%s:%d", tenantID, positionID)
}

// ConservationHolds reports whether the bucket invariant holds:
// on_hand == available + reserved + allocated + picked, all non-negative.
func (p *StockPosition) ConservationHolds() bool {
	if p.OnHand.IsNegative() || p.Available.IsNegative() || p.Reserved.IsNegative() ||
		p.Allocated.IsNegative() || p.Picked.IsNegative() {
		return false
	}
	sum := p.Available.Add(p.Reserved).Add(p.Allocated).Add(p.Picked)
	return p.OnHand.Equal(sum)
}

// QualityRank maps a quality grade to an orderable rank (higher is better).
// Unknown grades rank lowest.
func QualityRank(grade string) int {
	switch grade {
	case "A":
		return 4
	case "B":
		return 3
	case "C":
		return 2
	case "D":
		return 1
	default:
		return 0
	}
}

// Movement is the immutable record of one bucket transition on a position.
// Quantity is signed from the on-hand perspective: inbound types carry a
// positive quantity, outbound types a negative one, and pure bucket moves
// (reserve, allocate, pick, ...) a positive quantity with no on-hand change.
type Movement struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	MovementNumber string `gorm:"not null;size:64;uniqueIndex" json:"movement_number"`
	TenantID       string `gorm:"not null;size:64;index:idx_movements_tenant_position,priority:1" json:"tenant_id"`
	PositionID     uint   `gorm:"not null;index:idx_movements_tenant_position,priority:2" json:"position_id"`

	Type   MovementType   `gorm:"not null;size:20;index" json:"type"`
	Status MovementStatus `gorm:"not null;size:20;default:'CONFIRMED'" json:"status"`

	Quantity decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"quantity"`
	UnitCost decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_cost"`

	OnHandBefore decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"on_hand_before"`
	OnHandAfter  decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"on_hand_after"`

	DocumentType DocumentType `gorm:"size:30;index:idx_movements_document,priority:1" json:"document_type"`
	DocumentID   string       `gorm:"size:100;index:idx_movements_document,priority:2" json:"document_id"`

	// Set on a REVERSAL movement: the id of the movement it undoes
	ReversalOfID *uint `gorm:"index" json:"reversal_of_id,omitempty"`

	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedBy uint      `gorm:"index" json:"created_by"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// DocumentRef returns the movement's business document reference
func (m *Movement) DocumentRef() DocumentRef {
	return DocumentRef{Type: m.DocumentType, ID: m.DocumentID}
}

// IsReversal reports whether the movement undoes another movement
func (m *Movement) IsReversal() bool {
	return m.Type == MovementTypeReversal
}

// BucketState is the fold of a position's movement stream, used to verify
// that replaying the log reproduces the position's current buckets.
type BucketState struct {
	OnHand    decimal.Decimal `json:"on_hand"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Allocated decimal.Decimal `json:"allocated"`
	Picked    decimal.Decimal `json:"picked"`
	Shipped   decimal.Decimal `json:"shipped"`
}

// NewBucketState returns an all-zero bucket state
func NewBucketState() BucketState {
	return BucketState{
		OnHand:    decimal.Zero,
		Available: decimal.Zero,
		Reserved:  decimal.Zero,
		Allocated: decimal.Zero,
		Picked:    decimal.Zero,
		Shipped:   decimal.Zero,
	}
}
