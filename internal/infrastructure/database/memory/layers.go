// internal/infrastructure/database/memory/layers.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/your-org/inventory-backend/internal/domain/valuation"
)

// LayerStore is an in-memory valuation.Repository
type LayerStore struct {
	mu     sync.RWMutex
	nextID uint
	rows   map[uint]*valuation.ValuationLayer
}

// NewLayerStore creates an empty layer store
func NewLayerStore() *LayerStore {
	return &LayerStore{rows: make(map[uint]*valuation.ValuationLayer)}
}

func cloneLayer(l *valuation.ValuationLayer) *valuation.ValuationLayer {
	cp := *l
	return &cp
}

func (s *LayerStore) Create(_ context.Context, layer *valuation.ValuationLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	layer.ID = s.nextID
	s.rows[layer.ID] = cloneLayer(layer)
	return nil
}

func (s *LayerStore) FindByID(_ context.Context, tenantID string, layerID uint) (*valuation.ValuationLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[layerID]
	if !ok || row.TenantID != tenantID {
		return nil, valuation.ErrLayerNotFound
	}
	return cloneLayer(row), nil
}

func (s *LayerStore) ListByPosition(_ context.Context, tenantID string, positionID uint) ([]*valuation.ValuationLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*valuation.ValuationLayer
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.PositionID == positionID {
			out = append(out, cloneLayer(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *LayerStore) ListOpenByPosition(_ context.Context, tenantID string, positionID uint) ([]*valuation.ValuationLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*valuation.ValuationLayer
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.PositionID == positionID && !row.FullyConsumed {
			out = append(out, cloneLayer(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *LayerStore) NextSequence(_ context.Context, tenantID string, positionID uint) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.PositionID == positionID && row.Sequence > max {
			max = row.Sequence
		}
	}
	return max + 1, nil
}

func (s *LayerStore) Save(_ context.Context, layer *valuation.ValuationLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[layer.ID]
	if !ok || row.TenantID != layer.TenantID {
		return valuation.ErrLayerNotFound
	}
	s.rows[layer.ID] = cloneLayer(layer)
	return nil
}
