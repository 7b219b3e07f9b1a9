// Package engine is the facade the host calls: NPV and IRR over a validated
// valuation input, plus the JSON boundary codec for that input.
//
// Every call is a pure function of its argument. There is no shared state,
// so concurrent callers need no coordination.
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/dcf"
	"github.com/atmx/valuation-engine/internal/irr"
	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

var (
	// ErrInvalidMoney is returned when a cash-flow amount is not a valid
	// micro-unit integer.
	ErrInvalidMoney = money.ErrInvalidMoney

	// ErrOverflow is returned when a result is out of range or a discount
	// factor cannot be evaluated.
	ErrOverflow = money.ErrOverflow

	// ErrSerialization is returned when a boundary document cannot be
	// decoded or an output cannot be encoded.
	ErrSerialization = errors.New("serialization error")

	// ErrIRRNotFound is returned by IRR when no rate in the search domain
	// zeroes the NPV.
	ErrIRRNotFound = errors.New("IRR not found")
)

// NPVAt is the objective the IRR search evaluates: the exact NPV of in at
// annualRate.
func NPVAt(in model.Input, annualRate float64) (decimal.Decimal, error) {
	return dcf.NPV(in, annualRate)
}

// SolveIRR runs the bisection search for in and returns the raw result.
// An empty schedule has no root.
func SolveIRR(in model.Input) (irr.Result, bool, error) {
	if len(in.Cashflows) == 0 {
		return irr.Result{}, false, nil
	}
	return irr.Bisect(func(rate float64) (decimal.Decimal, error) {
		return NPVAt(in, rate)
	}, irr.DefaultBracket)
}

// CalculateIRR returns the IRR of in in basis points. The second result is
// false when no root lies in the search domain; that is not an error.
func CalculateIRR(in model.Input) (int32, bool, error) {
	res, ok, err := SolveIRR(in)
	if err != nil || !ok {
		return 0, false, err
	}
	return irr.ToBps(res.Rate), true, nil
}

// NPV values in at its discount rate and attaches its IRR when one exists.
// A failure in either computation fails the whole call.
func NPV(in model.Input) (model.Output, error) {
	npv, err := npvMoney(in, dcf.RateFromBps(in.DiscountRateBps))
	if err != nil {
		return model.Output{}, err
	}

	bps, ok, err := CalculateIRR(in)
	if err != nil {
		return model.Output{}, fmt.Errorf("irr: %w", err)
	}

	out := model.Output{NPV: npv}
	if ok {
		out.IRRBps = &bps
	}
	return out, nil
}

// IRR returns the IRR of in in basis points, or ErrIRRNotFound.
func IRR(in model.Input) (int32, error) {
	bps, ok, err := CalculateIRR(in)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrIRRNotFound
	}
	return bps, nil
}

// Sensitivity values in at each rate in ratesBps, in the given order. The
// discount rate carried by in is ignored.
func Sensitivity(in model.Input, ratesBps []int32) ([]model.RatePoint, error) {
	points := make([]model.RatePoint, 0, len(ratesBps))
	for _, bps := range ratesBps {
		npv, err := npvMoney(in, dcf.RateFromBps(bps))
		if err != nil {
			return nil, fmt.Errorf("rate %d bps: %w", bps, err)
		}
		points = append(points, model.RatePoint{RateBps: bps, NPV: npv})
	}
	return points, nil
}

func npvMoney(in model.Input, rate float64) (money.Money, error) {
	npv, err := dcf.NPV(in, rate)
	if err != nil {
		return money.Money{}, err
	}
	return money.FromDecimal(npv)
}
