// internal/domain/valuation/repository.go
package valuation

import "context"

// Repository is the persistence boundary for valuation layers. Layers are
// append-only: Save only ever touches consumption and landed-cost fields.
type Repository interface {
	// Create persists a new layer. The caller assigns the per-position sequence.
	Create(ctx context.Context, layer *ValuationLayer) error

	// FindByID returns a layer within the tenant partition.
	FindByID(ctx context.Context, tenantID string, layerID uint) (*ValuationLayer, error)

	// ListByPosition returns all layers for a position ordered by sequence ascending.
	ListByPosition(ctx context.Context, tenantID string, positionID uint) ([]*ValuationLayer, error)

	// ListOpenByPosition returns layers with remaining quantity, ordered by
	// receipt time ascending (sequence breaks ties).
	ListOpenByPosition(ctx context.Context, tenantID string, positionID uint) ([]*ValuationLayer, error)

	// NextSequence returns the next monotonic sequence number for a position.
	NextSequence(ctx context.Context, tenantID string, positionID uint) (int, error)

	// Save persists consumption/landed-cost mutations on an existing layer.
	Save(ctx context.Context, layer *ValuationLayer) error
}
