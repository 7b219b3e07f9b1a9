// Package limits bounds the size of valuation requests accepted by the host
// service.
//
// The engine's cost is a constant multiple of the cash-flow count, and a
// discount factor over a very long horizon overflows at the edges of the IRR
// bracket anyway. The limiter rejects such schedules before any work is done.
package limits

import (
	"errors"
	"fmt"

	"github.com/atmx/valuation-engine/internal/model"
)

var (
	// ErrTooManyCashflows is returned when a schedule has more cash flows
	// than MaxCashflows.
	ErrTooManyCashflows = errors.New("limits: too many cash flows")

	// ErrHorizonExceeded is returned when a cash flow lies further than
	// MaxHorizonDays from the as-of date, in either direction.
	ErrHorizonExceeded = errors.New("limits: cash flow outside valuation horizon")
)

// ScheduleLimiter enforces request size limits. A non-positive limit
// disables that check.
type ScheduleLimiter struct {
	// MaxCashflows is the largest accepted schedule length.
	MaxCashflows int

	// MaxHorizonDays is the largest accepted |date - asOf|.
	MaxHorizonDays int64
}

// NewScheduleLimiter creates a limiter with the given caps.
func NewScheduleLimiter(maxCashflows int, maxHorizonDays int64) *ScheduleLimiter {
	return &ScheduleLimiter{
		MaxCashflows:   maxCashflows,
		MaxHorizonDays: maxHorizonDays,
	}
}

// Check validates a schedule against the limits. Returns nil if it is within
// limits, or an error naming the first violation.
func (l *ScheduleLimiter) Check(in model.Input) error {
	// 1. Schedule length.
	if l.MaxCashflows > 0 && len(in.Cashflows) > l.MaxCashflows {
		return fmt.Errorf("%w: %d > %d", ErrTooManyCashflows, len(in.Cashflows), l.MaxCashflows)
	}

	// 2. Horizon: distance of each cash flow from the as-of date.
	if l.MaxHorizonDays <= 0 {
		return nil
	}
	for i, cf := range in.Cashflows {
		if d := horizon(in.AsOf, cf.Date); d > l.MaxHorizonDays {
			return fmt.Errorf("%w: cash flow %d is %d days from as-of (max %d)",
				ErrHorizonExceeded, i, d, l.MaxHorizonDays)
		}
	}
	return nil
}

// horizon returns |date - asOf| without int32 overflow.
func horizon(asOf, date int32) int64 {
	d := int64(date) - int64(asOf)
	if d < 0 {
		return -d
	}
	return d
}
