// Package store defines the persistence interface for valuation history.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/valuation-engine/internal/model"
)

// ErrNotFound is returned when no valuation has the requested ID.
var ErrNotFound = errors.New("store: valuation not found")

// DefaultListLimit caps ListValuations when the caller passes a
// non-positive limit.
const DefaultListLimit = 100

// Store is the persistence interface. Valuation records are immutable:
// once created they are never modified or deleted.
type Store interface {
	// CreateValuation appends a completed valuation.
	CreateValuation(ctx context.Context, v *model.Valuation) error

	// GetValuation retrieves a valuation by its ID.
	GetValuation(ctx context.Context, id string) (*model.Valuation, error)

	// ListValuations returns up to limit valuations, newest first.
	ListValuations(ctx context.Context, limit int) ([]model.Valuation, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
