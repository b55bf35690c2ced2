// internal/infrastructure/database/postgres/position_repository.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// PositionRepository is the gorm implementation of ledger.PositionRepository
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(ctx context.Context, position *ledger.StockPosition) error {
	return r.db.WithContext(ctx).Create(position).Error
}

func (r *PositionRepository) FindByID(ctx context.Context, tenantID string, positionID uint) (*ledger.StockPosition, error) {
	var position ledger.StockPosition
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, positionID).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *PositionRepository) FindByKey(ctx context.Context, tenantID string, key ledger.PositionKey) (*ledger.StockPosition, error) {
	var position ledger.StockPosition
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND variant_id = ? AND warehouse_id = ? AND location_id = ? AND batch_number = ?",
			tenantID, key.ProductID, key.VariantID, key.WarehouseID, key.LocationID, key.BatchNumber).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// Save writes the position guarded by the optimistic version check. The
// in-process position lock makes conflicts rare; the version turns a missed
// conflict across processes into an error instead of a lost update.
func (r *PositionRepository) Save(ctx context.Context, position *ledger.StockPosition) error {
	loadedVersion := position.Version
	position.Version++

	result := r.db.WithContext(ctx).
		Model(&ledger.StockPosition{}).
		Where("tenant_id = ? AND id = ? AND version = ?", position.TenantID, position.ID, loadedVersion).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(position)
	if result.Error != nil {
		position.Version = loadedVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		position.Version = loadedVersion
		return fmt.Errorf("stale position version %d for position %d", loadedVersion, position.ID)
	}
	return nil
}

func (r *PositionRepository) SearchCandidates(ctx context.Context, tenantID string, filter ledger.CandidateFilter) ([]*ledger.StockPosition, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND variant_id = ?", tenantID, filter.ProductID, filter.VariantID)

	if filter.WarehouseID != nil {
		query = query.Where("warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.LocationID != nil {
		query = query.Where("location_id = ?", *filter.LocationID)
	}
	if filter.BatchNumber != nil {
		query = query.Where("batch_number = ?", *filter.BatchNumber)
	}
	if filter.OnlyAvailable {
		query = query.Where("is_active = ? AND available > 0", true)
	}

	var positions []*ledger.StockPosition
	if err := query.Order("id ASC").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (r *PositionRepository) SumAvailable(ctx context.Context, tenantID string, productID uint, warehouseID *uint) (decimal.Decimal, error) {
	query := r.db.WithContext(ctx).
		Model(&ledger.StockPosition{}).
		Where("tenant_id = ? AND product_id = ? AND is_active = ?", tenantID, productID, true)
	if warehouseID != nil {
		query = query.Where("warehouse_id = ?", *warehouseID)
	}

	var sum decimal.NullDecimal
	if err := query.Select("SUM(available)").Scan(&sum).Error; err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
