// internal/domain/reservation/repository.go
package reservation

import (
	"context"
	"time"
)

// Repository is the persistence boundary for reservations, their items and
// allocations. Find methods load the full aggregate (items with allocations).
type Repository interface {
	CreateReservation(ctx context.Context, r *Reservation) error
	FindReservation(ctx context.Context, tenantID string, reservationID uint) (*Reservation, error)
	SaveReservation(ctx context.Context, r *Reservation) error

	FindItem(ctx context.Context, tenantID string, itemID uint) (*ReservationItem, error)
	SaveItem(ctx context.Context, item *ReservationItem) error

	CreateAllocation(ctx context.Context, a *Allocation) error
	SaveAllocation(ctx context.Context, a *Allocation) error

	// FindExpired returns open reservations whose expiry has passed, across
	// all tenants (the sweep runs once per process, not per tenant).
	FindExpired(ctx context.Context, asOf time.Time) ([]*Reservation, error)

	// FindNotificationDue returns open reservations whose expiry falls inside
	// the lead window and that have not yet been notified.
	FindNotificationDue(ctx context.Context, asOf time.Time, lead time.Duration) ([]*Reservation, error)
}
