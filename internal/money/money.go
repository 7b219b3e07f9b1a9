// Package money implements the exact fixed-point amount used by the valuation
// engine. An amount is an integer count of micro-units (10^-6 of a currency
// unit) and is only ever combined through shopspring/decimal, never float64.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by a Money value.
const Scale int32 = 6

var (
	// ErrInvalidMoney is returned when a micro string is not a base-10
	// integer inside the representable range.
	ErrInvalidMoney = errors.New("invalid money amount")

	// ErrOverflow is returned when an arithmetic result cannot be represented.
	ErrOverflow = errors.New("numeric overflow")
)

// Representable range of the micro count: a signed 128-bit integer.
var (
	maxMicro = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minMicro = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Money is an immutable amount in micro-units. The zero value is zero.
type Money struct {
	micro *big.Int
}

// Zero is a zero amount.
var Zero = Money{}

// NewFromMicros creates an amount from a micro-unit count.
func NewFromMicros(micros int64) Money {
	return Money{micro: big.NewInt(micros)}
}

// Parse decodes the boundary form of an amount: the base-10 string of the
// micro count, e.g. "-100000000" for -100 units.
func Parse(s string) (Money, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || !inRange(v) {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidMoney, s)
	}
	return Money{micro: v}, nil
}

// FromDecimal rounds d to Scale fractional digits, half away from zero, and
// converts it to a micro count.
func FromDecimal(d decimal.Decimal) (Money, error) {
	micros := d.Round(Scale).Shift(Scale).Round(0).BigInt()
	if !inRange(micros) {
		return Money{}, ErrOverflow
	}
	return Money{micro: micros}, nil
}

// Decimal returns the exact decimal value of m (micro × 10^-6).
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(m.value(), -Scale)
}

// Micros returns a copy of the micro-unit count.
func (m Money) Micros() *big.Int {
	return new(big.Int).Set(m.value())
}

// String returns the micro count in base 10.
func (m Money) String() string {
	return m.value().String()
}

// Units formats m in currency units with all six fractional digits.
func (m Money) Units() string {
	return m.Decimal().StringFixed(Scale)
}

// Sign returns -1, 0 or +1.
func (m Money) Sign() int {
	return m.value().Sign()
}

// IsZero reports whether m is zero.
func (m Money) IsZero() bool {
	return m.Sign() == 0
}

// Equal reports whether m and o hold the same micro count.
func (m Money) Equal(o Money) bool {
	return m.value().Cmp(o.value()) == 0
}

func (m Money) value() *big.Int {
	if m.micro == nil {
		return new(big.Int)
	}
	return m.micro
}

func inRange(v *big.Int) bool {
	return v.Cmp(minMicro) >= 0 && v.Cmp(maxMicro) <= 0
}

type wireMoney struct {
	Micro *string `json:"micro"`
}

// MarshalJSON encodes m as {"micro":"<integer>"}.
func (m Money) MarshalJSON() ([]byte, error) {
	s := m.String()
	return json.Marshal(wireMoney{Micro: &s})
}

// UnmarshalJSON decodes {"micro":"<integer>"}. A malformed micro string
// yields ErrInvalidMoney.
func (m *Money) UnmarshalJSON(data []byte) error {
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Micro == nil {
		return errors.New("missing field `micro`")
	}
	parsed, err := Parse(*w.Micro)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
