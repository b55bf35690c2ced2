// internal/infrastructure/database/memory/positions.go
// Package memory provides in-memory repository implementations used by tests
// and local development. They mirror the postgres repositories' contracts,
// including the optimistic version check on saves.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// PositionStore is an in-memory ledger.PositionRepository
type PositionStore struct {
	mu     sync.RWMutex
	nextID uint
	rows   map[uint]*ledger.StockPosition
}

// NewPositionStore creates an empty position store
func NewPositionStore() *PositionStore {
	return &PositionStore{rows: make(map[uint]*ledger.StockPosition)}
}

func clonePosition(p *ledger.StockPosition) *ledger.StockPosition {
	cp := *p
	return &cp
}

func (s *PositionStore) Create(_ context.Context, position *ledger.StockPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.TenantID == position.TenantID && row.Key() == position.Key() {
			return fmt.Errorf("position already exists for key %+v", position.Key())
		}
	}
	s.nextID++
	position.ID = s.nextID
	s.rows[position.ID] = clonePosition(position)
	return nil
}

func (s *PositionStore) FindByID(_ context.Context, tenantID string, positionID uint) (*ledger.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[positionID]
	if !ok || row.TenantID != tenantID {
		return nil, ledger.ErrPositionNotFound
	}
	return clonePosition(row), nil
}

func (s *PositionStore) FindByKey(_ context.Context, tenantID string, key ledger.PositionKey) (*ledger.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.TenantID == tenantID && row.Key() == key {
			return clonePosition(row), nil
		}
	}
	return nil, ledger.ErrPositionNotFound
}

func (s *PositionStore) Save(_ context.Context, position *ledger.StockPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[position.ID]
	if !ok || row.TenantID != position.TenantID {
		return ledger.ErrPositionNotFound
	}
	if row.Version != position.Version {
		return fmt.Errorf("stale position version %d, stored %d", position.Version, row.Version)
	}
	position.Version++
	s.rows[position.ID] = clonePosition(position)
	return nil
}

func (s *PositionStore) SearchCandidates(_ context.Context, tenantID string, filter ledger.CandidateFilter) ([]*ledger.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.StockPosition
	for _, row := range s.rows {
		if row.TenantID != tenantID || row.ProductID != filter.ProductID || row.VariantID != filter.VariantID {
			continue
		}
		if filter.WarehouseID != nil && row.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.LocationID != nil && row.LocationID != *filter.LocationID {
			continue
		}
		if filter.BatchNumber != nil && row.BatchNumber != *filter.BatchNumber {
			continue
		}
		if filter.OnlyAvailable && (!row.IsActive || !row.Available.GreaterThan(decimal.Zero)) {
			continue
		}
		out = append(out, clonePosition(row))
	}
	// map iteration order is random; callers sort by strategy, but keep
	// output deterministic for tests
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *PositionStore) SumAvailable(_ context.Context, tenantID string, productID uint, warehouseID *uint) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, row := range s.rows {
		if row.TenantID != tenantID || row.ProductID != productID || !row.IsActive {
			continue
		}
		if warehouseID != nil && row.WarehouseID != *warehouseID {
			continue
		}
		sum = sum.Add(row.Available)
	}
	return sum, nil
}
