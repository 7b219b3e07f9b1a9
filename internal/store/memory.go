package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/atmx/valuation-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	valuations map[string]*model.Valuation
	order      []string // insertion order, oldest first
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		valuations: make(map[string]*model.Valuation),
	}
}

func (s *MemoryStore) CreateValuation(_ context.Context, v *model.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.valuations[v.ID]; exists {
		return fmt.Errorf("valuation %s already exists", v.ID)
	}

	// Store a copy to avoid external mutation.
	copy := cloneValuation(v)
	s.valuations[v.ID] = &copy
	s.order = append(s.order, v.ID)
	return nil
}

func (s *MemoryStore) GetValuation(_ context.Context, id string) (*model.Valuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.valuations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copy := cloneValuation(v)
	return &copy, nil
}

func (s *MemoryStore) ListValuations(_ context.Context, limit int) ([]model.Valuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	result := make([]model.Valuation, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, cloneValuation(s.valuations[s.order[i]]))
	}
	return result, nil
}

// Len returns the number of stored valuations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func cloneValuation(v *model.Valuation) model.Valuation {
	c := *v
	c.Input.Cashflows = slices.Clone(v.Input.Cashflows)
	c.Points = slices.Clone(v.Points)
	if v.Output.IRRBps != nil {
		bps := *v.Output.IRRBps
		c.Output.IRRBps = &bps
	}
	return c
}
