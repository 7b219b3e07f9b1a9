package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/valuation-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Valuations are immutable, so a cached entry never goes stale; the
// TTL only bounds memory.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, populate cache) ---

func (s *CachedStore) CreateValuation(ctx context.Context, v *model.Valuation) error {
	if err := s.primary.CreateValuation(ctx, v); err != nil {
		return err
	}
	s.cacheValuation(ctx, v)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetValuation(ctx context.Context, id string) (*model.Valuation, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, valuationKey(id)).Bytes()
	if err == nil {
		var v model.Valuation
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := s.primary.GetValuation(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheValuation(ctx, v)
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListValuations(ctx context.Context, limit int) ([]model.Valuation, error) {
	return s.primary.ListValuations(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheValuation(ctx context.Context, v *model.Valuation) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, valuationKey(v.ID), data, s.ttl)
	}
}

func valuationKey(id string) string { return fmt.Sprintf("valuation:%s", id) }
