// internal/domain/reservation/entity.go
package reservation

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReservationType classifies the demand source
type ReservationType string

const (
	TypeOrder     ReservationType = "ORDER"
	TypeTransfer  ReservationType = "TRANSFER"
	TypeWorkOrder ReservationType = "WORK_ORDER"
	TypeManual    ReservationType = "MANUAL"
)

// Priority orders competing demand; higher rank wins
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank returns an orderable value for the priority
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Status is the reservation header state machine:
// PENDING -> ACTIVE -> {PARTIAL_FULFILLED -> FULFILLED} | EXPIRED | CANCELLED
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusActive           Status = "ACTIVE"
	StatusPartialFulfilled Status = "PARTIAL_FULFILLED"
	StatusFulfilled        Status = "FULFILLED"
	StatusExpired          Status = "EXPIRED"
	StatusCancelled        Status = "CANCELLED"
)

// IsOpen reports whether the reservation can still be allocated or fulfilled
func (s Status) IsOpen() bool {
	switch s {
	case StatusPending, StatusActive, StatusPartialFulfilled:
		return true
	default:
		return false
	}
}

// ItemStatus is the reservation line state machine:
// REQUESTED -> RESERVED -> ALLOCATED -> PARTIAL_FULFILLED -> FULFILLED,
// or BACKORDERED, or CANCELLED.
type ItemStatus string

const (
	ItemStatusRequested        ItemStatus = "REQUESTED"
	ItemStatusReserved         ItemStatus = "RESERVED"
	ItemStatusAllocated        ItemStatus = "ALLOCATED"
	ItemStatusPartialFulfilled ItemStatus = "PARTIAL_FULFILLED"
	ItemStatusFulfilled        ItemStatus = "FULFILLED"
	ItemStatusBackordered      ItemStatus = "BACKORDERED"
	ItemStatusCancelled        ItemStatus = "CANCELLED"
)

// Strategy is the ordering rule used to pick stock positions for a line
type Strategy string

const (
	StrategyFIFO           Strategy = "FIFO"            // oldest receipt first
	StrategyLIFO           Strategy = "LIFO"            // newest receipt first
	StrategyFEFO           Strategy = "FEFO"            // earliest expiry first
	StrategyNearest        Strategy = "NEAREST"         // lowest pick sequence first
	StrategyCheapest       Strategy = "CHEAPEST"        // lowest average cost first
	StrategyHighestQuality Strategy = "HIGHEST_QUALITY" // best quality grade first
	StrategyManual         Strategy = "MANUAL"          // caller-supplied position order
)

// IsValid reports whether the strategy is a known value
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFIFO, StrategyLIFO, StrategyFEFO, StrategyNearest,
		StrategyCheapest, StrategyHighestQuality, StrategyManual:
		return true
	default:
		return false
	}
}

// AllocationStatus tracks one allocation record's lifecycle
type AllocationStatus string

const (
	AllocationStatusActive    AllocationStatus = "ACTIVE"
	AllocationStatusFulfilled AllocationStatus = "FULFILLED"
	AllocationStatusReleased  AllocationStatus = "RELEASED"
)

// Reservation is a demand header: a request to commit stock, broken into
// line items and satisfied via allocations against stock positions.
type Reservation struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Number   string `gorm:"not null;size:64;uniqueIndex" json:"number"`
	TenantID string `gorm:"not null;size:64;index" json:"tenant_id"`

	Type     ReservationType `gorm:"not null;size:20" json:"type"`
	Priority Priority        `gorm:"not null;size:10;default:'NORMAL'" json:"priority"`
	Status   Status          `gorm:"not null;size:20;default:'PENDING';index" json:"status"`
	Strategy Strategy        `gorm:"not null;size:20;default:'FIFO'" json:"strategy"`

	RequiredAt *time.Time `json:"required_at,omitempty"`
	ExpiresAt  time.Time  `gorm:"not null;index" json:"expires_at"`

	AllowPartial        bool `gorm:"default:false" json:"allow_partial"`
	BackorderEnabled    bool `gorm:"default:false" json:"backorder_enabled"`
	AutoReleaseOnExpiry bool `gorm:"default:false" json:"auto_release_on_expiry"`

	LastNotificationSent *time.Time `json:"last_notification_sent,omitempty"`

	// Escalation is a side annotation, not a state transition
	EscalationRequired bool   `gorm:"default:false" json:"escalation_required"`
	EscalatedTo        string `gorm:"size:100" json:"escalated_to,omitempty"`
	EscalationReason   string `gorm:"type:text" json:"escalation_reason,omitempty"`

	// Originating business document (lookup key only)
	DocumentType string `gorm:"size:30" json:"document_type,omitempty"`
	DocumentID   string `gorm:"size:100" json:"document_id,omitempty"`

	CancelReason string `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedBy uint           `gorm:"index" json:"created_by"`
	Version   int64          `gorm:"default:0" json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Items []ReservationItem `gorm:"foreignKey:ReservationID" json:"items,omitempty"`
}

// LockKey returns the serialization key for reservation-level operations
func (r *Reservation) LockKey() string {
	return LockKeyFor(r.TenantID, r.ID)
}

// LockKeyFor builds the serialization key for a reservation id
func LockKeyFor(tenantID string, reservationID uint) string {
	return "reservation:" + tenantID + ":" + strconv.FormatUint(uint64(reservationID), 10)
}

// ReservationItem is one product line of a reservation
type ReservationItem struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	TenantID      string `gorm:"not null;size:64;index" json:"tenant_id"`
	ReservationID uint   `gorm:"not null;index" json:"reservation_id"`

	ProductID uint `gorm:"not null;index" json:"product_id"`
	VariantID uint `gorm:"not null" json:"variant_id"`

	QtyRequested   decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_requested"`
	QtyReserved    decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_reserved"`
	QtyAllocated   decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_allocated"`
	QtyFulfilled   decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_fulfilled"`
	QtyBackordered decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_backordered"`

	Status ItemStatus `gorm:"not null;size:20;default:'REQUESTED'" json:"status"`

	// Sourcing constraints; nil means no preference
	PreferredWarehouseID *uint   `json:"preferred_warehouse_id,omitempty"`
	PreferredLocationID  *uint   `json:"preferred_location_id,omitempty"`
	PreferredBatch       *string `gorm:"size:100" json:"preferred_batch,omitempty"`
	MinQualityGrade      string  `gorm:"size:10" json:"min_quality_grade,omitempty"`
	MinShelfLifeDays     int     `gorm:"default:0" json:"min_shelf_life_days,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Allocations []Allocation `gorm:"foreignKey:ReservationItemID" json:"allocations,omitempty"`
}

// QtyOutstanding is the demand not yet covered by allocations
func (i *ReservationItem) QtyOutstanding() decimal.Decimal {
	return i.QtyRequested.Sub(i.QtyAllocated).Sub(i.QtyFulfilled)
}

// Allocation links a reservation line to one stock position. One line may be
// satisfied by several positions, one allocation per position touched.
type Allocation struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Number            string `gorm:"not null;size:64;uniqueIndex" json:"number"`
	TenantID          string `gorm:"not null;size:64;index" json:"tenant_id"`
	ReservationItemID uint   `gorm:"not null;index" json:"reservation_item_id"`
	PositionID        uint   `gorm:"not null;index" json:"position_id"`

	QtyAllocated decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_allocated"`
	QtyFulfilled decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty_fulfilled"`

	// Unit cost of the position captured at allocation time
	UnitCost decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_cost"`

	Status AllocationStatus `gorm:"not null;size:20;default:'ACTIVE'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QtyRemaining is allocated quantity not yet fulfilled
func (a *Allocation) QtyRemaining() decimal.Decimal {
	return a.QtyAllocated.Sub(a.QtyFulfilled)
}
