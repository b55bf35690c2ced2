// internal/infrastructure/database/memory/movements.go
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// MovementStore is an in-memory ledger.MovementRepository. Movements are
// append-only; UpdateStatus is the only mutation.
type MovementStore struct {
	mu     sync.RWMutex
	nextID uint
	rows   []*ledger.Movement
}

// NewMovementStore creates an empty movement store
func NewMovementStore() *MovementStore {
	return &MovementStore{}
}

func cloneMovement(m *ledger.Movement) *ledger.Movement {
	cp := *m
	if m.ReversalOfID != nil {
		id := *m.ReversalOfID
		cp.ReversalOfID = &id
	}
	return &cp
}

func (s *MovementStore) Append(_ context.Context, movement *ledger.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	movement.ID = s.nextID
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, cloneMovement(movement))
	return nil
}

func (s *MovementStore) FindByID(_ context.Context, tenantID string, movementID uint) (*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.ID == movementID && row.TenantID == tenantID {
			return cloneMovement(row), nil
		}
	}
	return nil, ledger.ErrMovementNotFound
}

func (s *MovementStore) FindByReference(_ context.Context, tenantID string, movementType ledger.MovementType, doc ledger.DocumentRef) (*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.TenantID == tenantID && row.Type == movementType &&
			row.DocumentType == doc.Type && row.DocumentID == doc.ID &&
			row.Status == ledger.MovementStatusConfirmed {
			return cloneMovement(row), nil
		}
	}
	return nil, nil
}

func (s *MovementStore) History(_ context.Context, tenantID string, positionID uint, from, to time.Time) ([]*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Movement
	for _, row := range s.rows {
		if row.TenantID != tenantID || row.PositionID != positionID {
			continue
		}
		if row.CreatedAt.Before(from) || row.CreatedAt.After(to) {
			continue
		}
		out = append(out, cloneMovement(row))
	}
	return out, nil
}

func (s *MovementStore) ListByPosition(_ context.Context, tenantID string, positionID uint) ([]*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Movement
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.PositionID == positionID {
			out = append(out, cloneMovement(row))
		}
	}
	return out, nil
}

func (s *MovementStore) RelatedByDocument(_ context.Context, tenantID string, doc ledger.DocumentRef) ([]*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Movement
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.DocumentType == doc.Type && row.DocumentID == doc.ID {
			out = append(out, cloneMovement(row))
		}
	}
	return out, nil
}

func (s *MovementStore) FindReversalOf(_ context.Context, tenantID string, originalID uint) (*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.TenantID == tenantID && row.ReversalOfID != nil && *row.ReversalOfID == originalID {
			return cloneMovement(row), nil
		}
	}
	return nil, nil
}

func (s *MovementStore) UpdateStatus(_ context.Context, tenantID string, movementID uint, status ledger.MovementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.ID == movementID && row.TenantID == tenantID {
			row.Status = status
			return nil
		}
	}
	return ledger.ErrMovementNotFound
}
