// Package irr finds the rate at which an objective crosses zero by bounded
// bisection. It treats the objective as opaque: it knows nothing about cash
// flows, compounding or money.
package irr

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxIterations bounds the bisection. 128 halvings of the default bracket
// narrow it far below one basis point.
const MaxIterations = 128

// Tolerance is the absolute objective value, in currency units, at which a
// midpoint is accepted as the root.
var Tolerance = decimal.New(1, -7)

// Objective evaluates the function whose root is searched for.
type Objective func(rate float64) (decimal.Decimal, error)

// Bracket is a closed rate interval.
type Bracket struct {
	Low  float64
	High float64
}

// DefaultBracket spans -99.99% to 1000% annual. Roots outside it are
// reported as not found.
var DefaultBracket = Bracket{Low: -0.9999, High: 10.0}

// Result describes an accepted root.
type Result struct {
	Rate       float64
	Iterations int
	// Converged is false when the iteration cap was reached and Rate is
	// the midpoint of the final bracket.
	Converged bool
}

// Bisect searches b for a zero of f. It reports false when f has the same
// sign class at both ends of the bracket. Any error from f aborts the search.
//
// Zero is classed with the positive values, so a bracket whose ends are zero
// and positive is rejected.
func Bisect(f Objective, b Bracket) (Result, bool, error) {
	low, high := b.Low, b.High

	fLow, err := f(low)
	if err != nil {
		return Result{}, false, err
	}
	fHigh, err := f(high)
	if err != nil {
		return Result{}, false, err
	}

	if sameSign(fLow, fHigh) {
		return Result{}, false, nil
	}

	for i := 1; i <= MaxIterations; i++ {
		mid := (low + high) / 2
		fMid, err := f(mid)
		if err != nil {
			return Result{}, false, err
		}

		if fMid.Abs().LessThan(Tolerance) {
			return Result{Rate: mid, Iterations: i, Converged: true}, true, nil
		}

		if sameSign(fMid, fLow) {
			low, fLow = mid, fMid
		} else {
			high = mid
		}
	}

	return Result{Rate: (low + high) / 2, Iterations: MaxIterations}, true, nil
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.Sign() >= 0) == (b.Sign() >= 0)
}

// ToBps converts a rate ratio to whole basis points, rounding half away
// from zero and saturating at the int32 range.
func ToBps(rate float64) int32 {
	return ClampToInt32(math.Round(rate * 10_000))
}

// ClampToInt32 converts v to int32, saturating at the range limits. NaN
// converts to zero.
func ClampToInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= math.MinInt32:
		return math.MinInt32
	case v >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(v)
	}
}
