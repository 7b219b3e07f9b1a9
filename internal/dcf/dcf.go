// Package dcf implements the discounted-cash-flow objective: the net present
// value of a cash-flow schedule at a given annual rate.
//
// Amounts are accumulated in exact decimal arithmetic. float64 is confined to
// the exponentiation step, which produces a dimensionless discount factor.
package dcf

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

const (
	// DaysPerYear is the fixed day-count basis. Leap years are not modelled.
	DaysPerYear = 365.0

	// BpsPerUnit converts basis points to a ratio.
	BpsPerUnit = 10_000.0

	// DivisionPrecision is the number of fractional digits kept when a
	// cash flow is divided by its discount factor.
	DivisionPrecision int32 = 28
)

// NPV discounts every cash flow in `in` to in.AsOf at annualRate and sums
// them. An empty schedule is exactly zero.
func NPV(in model.Input, annualRate float64) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(in.Cashflows) == 0 {
		return total, nil
	}

	frequency, err := Frequency(in.Compounding)
	if err != nil {
		return decimal.Zero, err
	}

	for _, cf := range in.Cashflows {
		amount := cf.Amount.Decimal()
		periods := Periods(in.AsOf, cf.Date, frequency)

		factor, err := DiscountFactor(annualRate, frequency, periods)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount.DivRound(factor, DivisionPrecision))
	}

	return total, nil
}

// DiscountFactor computes (1 + annualRate/frequency)^periods. A non-positive
// base, or a factor that is zero or not finite, is reported as an overflow.
func DiscountFactor(annualRate, frequency, periods float64) (decimal.Decimal, error) {
	base := 1.0 + annualRate/frequency
	if base <= 0 || math.IsNaN(base) {
		return decimal.Zero, fmt.Errorf("%w: discount base %g is not positive", money.ErrOverflow, base)
	}

	factor := math.Pow(base, periods)
	if math.IsInf(factor, 0) || math.IsNaN(factor) || factor == 0 {
		return decimal.Zero, fmt.Errorf("%w: discount factor %g^%g", money.ErrOverflow, base, periods)
	}
	return decimal.NewFromFloat(factor), nil
}

// Periods returns the (possibly fractional, possibly negative) number of
// compounding periods from asOf to date.
func Periods(asOf, date int32, frequency float64) float64 {
	deltaDays := float64(date) - float64(asOf)
	return deltaDays / (DaysPerYear / frequency)
}

// Frequency returns the compounding periods per year.
func Frequency(c model.Compounding) (float64, error) {
	n := c.PeriodsPerYear()
	if n == 0 {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidCompounding, string(c))
	}
	return float64(n), nil
}

// RateFromBps converts basis points to an annual ratio (800 → 0.08).
func RateFromBps(bps int32) float64 {
	return float64(bps) / BpsPerUnit
}
