// Package model defines the value types shared by the valuation engine and
// its host service. All monetary values use money.Money, never float64.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atmx/valuation-engine/internal/money"
)

// ErrInvalidCompounding is returned for a compounding value outside the
// supported set.
var ErrInvalidCompounding = errors.New("model: unsupported compounding")

// Compounding selects the discounting period length.
type Compounding string

// Supported compounding conventions.
const (
	Annual  Compounding = "annual"
	Monthly Compounding = "monthly"
)

// PeriodsPerYear returns 1 for Annual, 12 for Monthly and 0 otherwise.
func (c Compounding) PeriodsPerYear() int {
	switch c {
	case Annual:
		return 1
	case Monthly:
		return 12
	default:
		return 0
	}
}

// Valid reports whether c is a supported convention.
func (c Compounding) Valid() bool {
	return c.PeriodsPerYear() > 0
}

// ParseCompounding validates a compounding name.
func ParseCompounding(s string) (Compounding, error) {
	c := Compounding(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q (expected annual or monthly)", ErrInvalidCompounding, s)
	}
	return c, nil
}

func (c *Compounding) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCompounding(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Cashflow is a dated amount. Date is a day count since the Unix epoch.
type Cashflow struct {
	Date   int32       `json:"dateEpochDays"`
	Amount money.Money `json:"amount"`
}

func (c *Cashflow) UnmarshalJSON(data []byte) error {
	var aux struct {
		Date   *int32       `json:"dateEpochDays"`
		Amount *money.Money `json:"amount"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.Date == nil:
		return missingField("dateEpochDays")
	case aux.Amount == nil:
		return missingField("amount")
	}
	*c = Cashflow{Date: *aux.Date, Amount: *aux.Amount}
	return nil
}

// Input is one valuation request: a cash-flow schedule, an annual discount
// rate in basis points, a compounding convention and the as-of day.
type Input struct {
	Cashflows       []Cashflow  `json:"cashflows"`
	DiscountRateBps int32       `json:"discountRateBps"`
	Compounding     Compounding `json:"compounding"`
	AsOf            int32       `json:"asOfEpochDays"`
}

func (in *Input) UnmarshalJSON(data []byte) error {
	var aux struct {
		Cashflows       *[]Cashflow  `json:"cashflows"`
		DiscountRateBps *int32       `json:"discountRateBps"`
		Compounding     *Compounding `json:"compounding"`
		AsOf            *int32       `json:"asOfEpochDays"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.Cashflows == nil:
		return missingField("cashflows")
	case aux.DiscountRateBps == nil:
		return missingField("discountRateBps")
	case aux.Compounding == nil:
		return missingField("compounding")
	case aux.AsOf == nil:
		return missingField("asOfEpochDays")
	}
	*in = Input{
		Cashflows:       *aux.Cashflows,
		DiscountRateBps: *aux.DiscountRateBps,
		Compounding:     *aux.Compounding,
		AsOf:            *aux.AsOf,
	}
	return nil
}

// MarshalJSON always emits cashflows as an array, never null.
func (in Input) MarshalJSON() ([]byte, error) {
	type wire Input
	w := wire(in)
	if w.Cashflows == nil {
		w.Cashflows = []Cashflow{}
	}
	return json.Marshal(w)
}

// Normalized returns a copy of in with cash flows sorted by date. Equal
// dates keep their original order.
func (in Input) Normalized() Input {
	out := in
	out.Cashflows = append([]Cashflow(nil), in.Cashflows...)
	sort.SliceStable(out.Cashflows, func(i, j int) bool {
		return out.Cashflows[i].Date < out.Cashflows[j].Date
	})
	return out
}

// Output is the result of an NPV request. IRRBps is nil when no rate in the
// search domain zeroes the NPV.
type Output struct {
	NPV    money.Money `json:"npv"`
	IRRBps *int32      `json:"irrBps,omitempty"`
}

// RatePoint is the NPV at one discount rate of a sensitivity sweep.
type RatePoint struct {
	RateBps int32       `json:"rateBps"`
	NPV     money.Money `json:"npv"`
}

// Operations recorded on a Valuation.
const (
	OperationNPV         = "npv"
	OperationIRR         = "irr"
	OperationSensitivity = "sensitivity"
)

// Valuation is an immutable record of one completed host request.
type Valuation struct {
	ID            string      `json:"id" db:"id"`
	Operation     string      `json:"operation" db:"operation"`
	Input         Input       `json:"input" db:"input"`
	Output        Output      `json:"output" db:"output"`
	Points        []RatePoint `json:"points,omitempty" db:"points"`
	CashflowCount int         `json:"cashflow_count" db:"cashflow_count"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

func missingField(name string) error {
	return fmt.Errorf("missing field `%s`", name)
}
