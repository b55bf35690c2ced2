// internal/infrastructure/database/postgres/layer_repository.go
package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/domain/valuation"
)

// LayerRepository is the gorm implementation of valuation.Repository
type LayerRepository struct {
	db *gorm.DB
}

// NewLayerRepository creates a new valuation layer repository
func NewLayerRepository(db *gorm.DB) *LayerRepository {
	return &LayerRepository{db: db}
}

func (r *LayerRepository) Create(ctx context.Context, layer *valuation.ValuationLayer) error {
	return r.db.WithContext(ctx).Create(layer).Error
}

func (r *LayerRepository) FindByID(ctx context.Context, tenantID string, layerID uint) (*valuation.ValuationLayer, error) {
	var layer valuation.ValuationLayer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, layerID).
		First(&layer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, valuation.ErrLayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

func (r *LayerRepository) ListByPosition(ctx context.Context, tenantID string, positionID uint) ([]*valuation.ValuationLayer, error) {
	var layers []*valuation.ValuationLayer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND position_id = ?", tenantID, positionID).
		Order("sequence ASC").
		Find(&layers).Error
	return layers, err
}

func (r *LayerRepository) ListOpenByPosition(ctx context.Context, tenantID string, positionID uint) ([]*valuation.ValuationLayer, error) {
	var layers []*valuation.ValuationLayer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND position_id = ? AND fully_consumed = ?", tenantID, positionID, false).
		Order("received_at ASC, sequence ASC").
		Find(&layers).Error
	return layers, err
}

func (r *LayerRepository) NextSequence(ctx context.Context, tenantID string, positionID uint) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&valuation.ValuationLayer{}).
		Where("tenant_id = ? AND position_id = ?", tenantID, positionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *LayerRepository) Save(ctx context.Context, layer *valuation.ValuationLayer) error {
	return r.db.WithContext(ctx).Save(layer).Error
}
