package limits

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

func schedule(asOf int32, dates ...int32) model.Input {
	in := model.Input{AsOf: asOf, Compounding: model.Annual}
	for _, d := range dates {
		in.Cashflows = append(in.Cashflows, model.Cashflow{Date: d, Amount: money.NewFromMicros(1)})
	}
	return in
}

func TestCheck_WithinLimits(t *testing.T) {
	limiter := NewScheduleLimiter(3, 730)

	if err := limiter.Check(schedule(0, 0, 365, 730)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_EmptySchedule(t *testing.T) {
	limiter := NewScheduleLimiter(3, 730)

	if err := limiter.Check(schedule(0)); err != nil {
		t.Errorf("empty schedule should pass, got %v", err)
	}
}

func TestCheck_TooManyCashflows(t *testing.T) {
	limiter := NewScheduleLimiter(2, 730)

	err := limiter.Check(schedule(0, 0, 365, 730))
	if !errors.Is(err, ErrTooManyCashflows) {
		t.Errorf("expected ErrTooManyCashflows, got %v", err)
	}
}

func TestCheck_HorizonExceeded(t *testing.T) {
	limiter := NewScheduleLimiter(10, 730)

	tests := []model.Input{
		schedule(0, 0, 731),
		schedule(1000, 269),
	}
	for _, in := range tests {
		if err := limiter.Check(in); !errors.Is(err, ErrHorizonExceeded) {
			t.Errorf("expected ErrHorizonExceeded for %+v, got %v", in, err)
		}
	}
}

func TestCheck_PastCashflowsWithinHorizon(t *testing.T) {
	limiter := NewScheduleLimiter(10, 730)

	// Cash flows before the as-of date count by distance, not sign.
	if err := limiter.Check(schedule(1000, 270, 1000, 1730)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_ExtremeDatesDoNotWrap(t *testing.T) {
	limiter := NewScheduleLimiter(10, 730)

	err := limiter.Check(schedule(math.MinInt32, math.MaxInt32))
	if !errors.Is(err, ErrHorizonExceeded) {
		t.Errorf("expected ErrHorizonExceeded, got %v", err)
	}
}

func TestCheck_DisabledLimits(t *testing.T) {
	limiter := NewScheduleLimiter(0, 0)

	if err := limiter.Check(schedule(math.MinInt32, 0, 1, 2, math.MaxInt32)); err != nil {
		t.Errorf("disabled limits should accept anything, got %v", err)
	}
}
