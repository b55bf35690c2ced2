// internal/infrastructure/database/memory/reservations.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/your-org/inventory-backend/internal/domain/reservation"
)

// ReservationStore is an in-memory reservation.Repository
type ReservationStore struct {
	mu sync.RWMutex

	nextResID   uint
	nextItemID  uint
	nextAllocID uint

	reservations map[uint]*reservation.Reservation
	items        map[uint]*reservation.ReservationItem
	allocations  map[uint]*reservation.Allocation
}

// NewReservationStore creates an empty reservation store
func NewReservationStore() *ReservationStore {
	return &ReservationStore{
		reservations: make(map[uint]*reservation.Reservation),
		items:        make(map[uint]*reservation.ReservationItem),
		allocations:  make(map[uint]*reservation.Allocation),
	}
}

func (s *ReservationStore) CreateReservation(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextResID++
	r.ID = s.nextResID
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	header := *r
	header.Items = nil
	s.reservations[r.ID] = &header

	for i := range r.Items {
		item := &r.Items[i]
		s.nextItemID++
		item.ID = s.nextItemID
		item.ReservationID = r.ID
		item.CreatedAt = now
		item.UpdatedAt = now

		row := *item
		row.Allocations = nil
		s.items[item.ID] = &row
	}
	return nil
}

// assembleLocked builds the full aggregate copy. Caller holds the lock.
func (s *ReservationStore) assembleLocked(header *reservation.Reservation) *reservation.Reservation {
	out := *header
	out.Items = nil

	var itemIDs []uint
	for id, item := range s.items {
		if item.ReservationID == header.ID {
			itemIDs = append(itemIDs, id)
		}
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	for _, itemID := range itemIDs {
		item := *s.items[itemID]
		item.Allocations = nil

		var allocIDs []uint
		for id, alloc := range s.allocations {
			if alloc.ReservationItemID == itemID {
				allocIDs = append(allocIDs, id)
			}
		}
		sort.Slice(allocIDs, func(i, j int) bool { return allocIDs[i] < allocIDs[j] })
		for _, allocID := range allocIDs {
			item.Allocations = append(item.Allocations, *s.allocations[allocID])
		}
		out.Items = append(out.Items, item)
	}
	return &out
}

func (s *ReservationStore) FindReservation(_ context.Context, tenantID string, reservationID uint) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	header, ok := s.reservations[reservationID]
	if !ok || header.TenantID != tenantID {
		return nil, reservation.ErrReservationNotFound
	}
	return s.assembleLocked(header), nil
}

func (s *ReservationStore) SaveReservation(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.reservations[r.ID]
	if !ok || row.TenantID != r.TenantID {
		return reservation.ErrReservationNotFound
	}
	header := *r
	header.Items = nil
	header.UpdatedAt = time.Now().UTC()
	header.CreatedAt = row.CreatedAt
	s.reservations[r.ID] = &header
	return nil
}

func (s *ReservationStore) FindItem(_ context.Context, tenantID string, itemID uint) (*reservation.ReservationItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.items[itemID]
	if !ok || row.TenantID != tenantID {
		return nil, reservation.ErrItemNotFound
	}
	item := *row
	item.Allocations = nil

	var allocIDs []uint
	for id, alloc := range s.allocations {
		if alloc.ReservationItemID == itemID {
			allocIDs = append(allocIDs, id)
		}
	}
	sort.Slice(allocIDs, func(i, j int) bool { return allocIDs[i] < allocIDs[j] })
	for _, allocID := range allocIDs {
		item.Allocations = append(item.Allocations, *s.allocations[allocID])
	}
	return &item, nil
}

func (s *ReservationStore) SaveItem(_ context.Context, item *reservation.ReservationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.items[item.ID]
	if !ok || row.TenantID != item.TenantID {
		return reservation.ErrItemNotFound
	}
	cp := *item
	cp.Allocations = nil
	cp.UpdatedAt = time.Now().UTC()
	cp.CreatedAt = row.CreatedAt
	s.items[item.ID] = &cp
	return nil
}

func (s *ReservationStore) CreateAllocation(_ context.Context, a *reservation.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAllocID++
	a.ID = s.nextAllocID
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	cp := *a
	s.allocations[a.ID] = &cp
	return nil
}

func (s *ReservationStore) SaveAllocation(_ context.Context, a *reservation.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.allocations[a.ID]
	if !ok || row.TenantID != a.TenantID {
		return reservation.ErrItemNotFound
	}
	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	cp.CreatedAt = row.CreatedAt
	s.allocations[a.ID] = &cp
	return nil
}

func (s *ReservationStore) FindExpired(_ context.Context, asOf time.Time) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*reservation.Reservation
	for _, header := range s.reservations {
		if header.Status.IsOpen() && header.ExpiresAt.Before(asOf) {
			out = append(out, s.assembleLocked(header))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ReservationStore) FindNotificationDue(_ context.Context, asOf time.Time, lead time.Duration) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deadline := asOf.Add(lead)
	var out []*reservation.Reservation
	for _, header := range s.reservations {
		if !header.Status.IsOpen() || header.LastNotificationSent != nil {
			continue
		}
		if header.ExpiresAt.After(asOf) && header.ExpiresAt.Before(deadline) {
			out = append(out, s.assembleLocked(header))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
