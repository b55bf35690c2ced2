// internal/infrastructure/database/postgres/movement_repository.go
package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// MovementRepository is the gorm implementation of ledger.MovementRepository.
// Movements are append-only; UpdateStatus is the single permitted mutation.
type MovementRepository struct {
	db *gorm.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *gorm.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

func (r *MovementRepository) Append(ctx context.Context, movement *ledger.Movement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *MovementRepository) FindByID(ctx context.Context, tenantID string, movementID uint) (*ledger.Movement, error) {
	var movement ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, movementID).
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrMovementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *MovementRepository) FindByReference(ctx context.Context, tenantID string, movementType ledger.MovementType, doc ledger.DocumentRef) (*ledger.Movement, error) {
	var movement ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND type = ? AND document_type = ? AND document_id = ? AND status = ?",
			tenantID, movementType, doc.Type, doc.ID, ledger.MovementStatusConfirmed).
		Order("id DESC").
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *MovementRepository) History(ctx context.Context, tenantID string, positionID uint, from, to time.Time) ([]*ledger.Movement, error) {
	var movements []*ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND position_id = ? AND created_at BETWEEN ? AND ?", tenantID, positionID, from, to).
		Order("id ASC").
		Find(&movements).Error
	return movements, err
}

func (r *MovementRepository) ListByPosition(ctx context.Context, tenantID string, positionID uint) ([]*ledger.Movement, error) {
	var movements []*ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND position_id = ?", tenantID, positionID).
		Order("id ASC").
		Find(&movements).Error
	return movements, err
}

func (r *MovementRepository) RelatedByDocument(ctx context.Context, tenantID string, doc ledger.DocumentRef) ([]*ledger.Movement, error) {
	var movements []*ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND document_id = ?", tenantID, doc.Type, doc.ID).
		Order("id ASC").
		Find(&movements).Error
	return movements, err
}

func (r *MovementRepository) FindReversalOf(ctx context.Context, tenantID string, originalID uint) (*ledger.Movement, error) {
	var movement ledger.Movement
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND reversal_of_id = ?", tenantID, originalID).
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *MovementRepository) UpdateStatus(ctx context.Context, tenantID string, movementID uint, status ledger.MovementStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ledger.Movement{}).
		Where("tenant_id = ? AND id = ?", tenantID, movementID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrMovementNotFound
	}
	return nil
}
