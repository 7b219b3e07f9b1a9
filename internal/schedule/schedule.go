// Package schedule imports cash-flow schedules from CSV and converts between
// calendar dates and the epoch-day numbers the engine works in.
package schedule

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

// Required CSV columns.
const (
	ColumnDate   = "date"
	ColumnAmount = "amount"
)

const secondsPerDay = 24 * 60 * 60

// isoDateRegex matches YYYY-MM-DD; epochDayRegex matches a signed day count.
var (
	isoDateRegex  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	epochDayRegex = regexp.MustCompile(`^-?\d+$`)
)

var (
	ErrMissingColumn = errors.New("schedule: missing required column")
	ErrInvalidRow    = errors.New("schedule: invalid row")
	ErrInvalidDate   = errors.New("schedule: invalid date")
	ErrInvalidAmount = errors.New("schedule: invalid amount")
)

// EpochDays returns the number of whole days from 1970-01-01 UTC to the
// UTC calendar day of t.
func EpochDays(t time.Time) int32 {
	secs := t.UTC().Unix()
	days := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		days--
	}
	return int32(days)
}

// DateOf returns midnight UTC of an epoch day.
func DateOf(days int32) time.Time {
	return time.Unix(int64(days)*secondsPerDay, 0).UTC()
}

// ParseDate accepts YYYY-MM-DD or a signed integer epoch-day count.
func ParseDate(s string) (int32, error) {
	s = strings.TrimSpace(s)
	switch {
	case isoDateRegex.MatchString(s):
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDate, s)
		}
		return EpochDays(t), nil
	case epochDayRegex.MatchString(s):
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %s out of range", ErrInvalidDate, s)
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("%w: %s (expected YYYY-MM-DD or epoch days)", ErrInvalidDate, s)
	}
}

// ParseAmount parses a decimal amount in currency units, e.g. "-100.25".
// More than six fractional digits is rejected rather than rounded.
func ParseAmount(s string) (money.Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Truncate(money.Scale)) {
		return money.Money{}, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, s, money.Scale)
	}
	m, err := money.FromDecimal(d)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %s: %v", ErrInvalidAmount, s, err)
	}
	return m, nil
}

// ParseCSV reads a schedule with a header row naming at least the date and
// amount columns (case-insensitive, any order). Other columns are ignored.
func ParseCSV(r io.Reader) ([]model.Cashflow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s, %s (empty input)", ErrMissingColumn, ColumnDate, ColumnAmount)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidRow, err)
	}

	dateIdx, amountIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ColumnDate:
			dateIdx = i
		case ColumnAmount:
			amountIdx = i
		}
	}
	var missing []string
	if dateIdx < 0 {
		missing = append(missing, ColumnDate)
	}
	if amountIdx < 0 {
		missing = append(missing, ColumnAmount)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	cashflows := []model.Cashflow{}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidRow, row, err)
		}

		date, err := ParseDate(record[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidRow, row, err)
		}
		amount, err := ParseAmount(record[amountIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidRow, row, err)
		}
		cashflows = append(cashflows, model.Cashflow{Date: date, Amount: amount})
	}
	return cashflows, nil
}
