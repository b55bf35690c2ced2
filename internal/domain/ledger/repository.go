// internal/domain/ledger/repository.go
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CandidateFilter narrows the position search for reservation sourcing.
// Nil pointer fields mean "no preference". Implementations only filter on
// structural fields; quality and shelf-life constraints are applied by the
// caller, which owns their semantics.
type CandidateFilter struct {
	ProductID   uint
	VariantID   uint
	WarehouseID *uint
	LocationID  *uint
	BatchNumber *string

	// OnlyAvailable restricts results to active positions with available > 0
	OnlyAvailable bool
}

// PositionRepository is the persistence boundary for stock positions.
// Save implementations must enforce the optimistic version check: the row is
// only written when the stored version matches the loaded one.
type PositionRepository interface {
	Create(ctx context.Context, position *StockPosition) error
	FindByID(ctx context.Context, tenantID string, positionID uint) (*StockPosition, error)
	FindByKey(ctx context.Context, tenantID string, key PositionKey) (*StockPosition, error)
	Save(ctx context.Context, position *StockPosition) error
	SearchCandidates(ctx context.Context, tenantID string, filter CandidateFilter) ([]*StockPosition, error)
	SumAvailable(ctx context.Context, tenantID string, productID uint, warehouseID *uint) (decimal.Decimal, error)
}

// MovementRepository is the append-only persistence boundary for movements.
// UpdateStatus is the single permitted mutation after a movement is written.
type MovementRepository interface {
	Append(ctx context.Context, movement *Movement) error
	FindByID(ctx context.Context, tenantID string, movementID uint) (*Movement, error)

	// FindByReference returns the confirmed movement recorded for a
	// (type, document) pair, or nil when none exists. Used as the
	// idempotency guard.
	FindByReference(ctx context.Context, tenantID string, movementType MovementType, doc DocumentRef) (*Movement, error)

	// History returns a position's movements inside [from, to], ordered by
	// insertion (id ascending).
	History(ctx context.Context, tenantID string, positionID uint, from, to time.Time) ([]*Movement, error)

	// ListByPosition returns every movement for a position in insertion order
	ListByPosition(ctx context.Context, tenantID string, positionID uint) ([]*Movement, error)

	// RelatedByDocument returns all movements sharing a business reference,
	// in insertion order, reconstructing a fulfillment chain.
	RelatedByDocument(ctx context.Context, tenantID string, doc DocumentRef) ([]*Movement, error)

	// FindReversalOf returns the reversal movement pointing at originalID, if any
	FindReversalOf(ctx context.Context, tenantID string, originalID uint) (*Movement, error)

	UpdateStatus(ctx context.Context, tenantID string, movementID uint, status MovementStatus) error
}
