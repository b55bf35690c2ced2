// internal/infrastructure/database/postgres/reservation_repository.go
package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/domain/reservation"
)

// ReservationRepository is the gorm implementation of reservation.Repository
type ReservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) CreateReservation(ctx context.Context, res *reservation.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *ReservationRepository) FindReservation(ctx context.Context, tenantID string, reservationID uint) (*reservation.Reservation, error) {
	var res reservation.Reservation
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Items.Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("tenant_id = ? AND id = ?", tenantID, reservationID).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reservation.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepository) SaveReservation(ctx context.Context, res *reservation.Reservation) error {
	return r.db.WithContext(ctx).Omit("Items").Save(res).Error
}

func (r *ReservationRepository) FindItem(ctx context.Context, tenantID string, itemID uint) (*reservation.ReservationItem, error) {
	var item reservation.ReservationItem
	err := r.db.WithContext(ctx).
		Preload("Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("tenant_id = ? AND id = ?", tenantID, itemID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reservation.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ReservationRepository) SaveItem(ctx context.Context, item *reservation.ReservationItem) error {
	return r.db.WithContext(ctx).Omit("Allocations").Save(item).Error
}

func (r *ReservationRepository) CreateAllocation(ctx context.Context, a *reservation.Allocation) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *ReservationRepository) SaveAllocation(ctx context.Context, a *reservation.Allocation) error {
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *ReservationRepository) FindExpired(ctx context.Context, asOf time.Time) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.Allocations").
		Where("status IN ? AND expires_at < ?", openStatuses(), asOf).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *ReservationRepository) FindNotificationDue(ctx context.Context, asOf time.Time, lead time.Duration) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND last_notification_sent IS NULL AND expires_at > ? AND expires_at < ?",
			openStatuses(), asOf, asOf.Add(lead)).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func openStatuses() []reservation.Status {
	return []reservation.Status{
		reservation.StatusPending,
		reservation.StatusActive,
		reservation.StatusPartialFulfilled,
	}
}
