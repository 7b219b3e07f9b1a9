package engine

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/dcf"
	"github.com/atmx/valuation-engine/internal/irr"
	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

func units(n int64) money.Money {
	return money.NewFromMicros(n * 1_000_000)
}

// sampleInput is an outflow of 100 followed by two yearly inflows of 60.
func sampleInput() model.Input {
	return model.Input{
		AsOf:            18_250,
		DiscountRateBps: 800,
		Compounding:     model.Annual,
		Cashflows: []model.Cashflow{
			{Date: 18_250, Amount: units(-100)},
			{Date: 18_615, Amount: units(60)},
			{Date: 18_980, Amount: units(60)},
		},
	}
}

// --- NPV facade tests ---

func TestNPV_SampleProject(t *testing.T) {
	out, err := NPV(sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.NPV.Equal(money.NewFromMicros(6_995_885)) {
		t.Errorf("expected npv 6995885 micros, got %s", out.NPV)
	}
	if out.IRRBps == nil {
		t.Fatal("expected an IRR")
	}
	if *out.IRRBps != 1307 {
		t.Errorf("expected irr 1307 bps, got %d", *out.IRRBps)
	}
}

func TestNPV_EmptySchedule(t *testing.T) {
	for _, bps := range []int32{0, 800, -9999, 100_000} {
		in := model.Input{Compounding: model.Monthly, DiscountRateBps: bps}
		out, err := NPV(in)
		if err != nil {
			t.Fatalf("bps %d: unexpected error: %v", bps, err)
		}
		if !out.NPV.IsZero() {
			t.Errorf("bps %d: expected zero npv, got %s", bps, out.NPV)
		}
		if out.IRRBps != nil {
			t.Errorf("bps %d: expected no IRR, got %d", bps, *out.IRRBps)
		}
	}
}

func TestNPV_AllInflowsHaveNoIRR(t *testing.T) {
	in := sampleInput()
	in.Cashflows[0].Amount = units(100)

	out, err := NPV(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.IRRBps != nil {
		t.Errorf("expected no IRR for all-positive flows, got %d", *out.IRRBps)
	}
	if out.NPV.Sign() <= 0 {
		t.Errorf("expected positive npv, got %s", out.NPV)
	}
}

func TestNPV_NonPositiveDiscountBase(t *testing.T) {
	in := sampleInput()
	in.DiscountRateBps = -10_000
	if _, err := NPV(in); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestNPV_IRROverflowFailsWholeCall(t *testing.T) {
	// At the -99.99% bracket end a 100-year factor underflows to zero.
	in := model.Input{
		Compounding:     model.Annual,
		DiscountRateBps: 800,
		Cashflows: []model.Cashflow{
			{Date: 0, Amount: units(-100)},
			{Date: 365 * 100, Amount: units(5000)},
		},
	}
	if _, err := dcf.NPV(in, 0.08); err != nil {
		t.Fatalf("npv at the discount rate should succeed: %v", err)
	}
	if _, err := NPV(in); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow from the IRR search, got %v", err)
	}
}

// --- IRR tests ---

func TestCalculateIRR_Converges(t *testing.T) {
	in := sampleInput()

	res, ok, err := SolveIRR(in)
	if err != nil || !ok {
		t.Fatalf("expected a root, got ok=%v err=%v", ok, err)
	}
	if !res.Converged {
		t.Error("expected convergence within tolerance")
	}
	atRoot, _ := NPVAt(in, res.Rate)
	if atRoot.Abs().GreaterThanOrEqual(decimal.New(1, -6)) {
		t.Errorf("|npv| at root should be < 1e-6, got %s", atRoot)
	}

	bps, ok, err := CalculateIRR(in)
	if err != nil || !ok {
		t.Fatalf("expected a rate, got ok=%v err=%v", ok, err)
	}
	if bps <= 0 {
		t.Errorf("expected a positive rate, got %d", bps)
	}
	if bps != irr.ToBps(res.Rate) {
		t.Errorf("bps %d does not match root %v", bps, res.Rate)
	}

	// The root lies between the neighbouring basis points.
	below, _ := NPVAt(in, dcf.RateFromBps(bps-1))
	above, _ := NPVAt(in, dcf.RateFromBps(bps+1))
	if below.Sign() <= 0 || above.Sign() >= 0 {
		t.Errorf("expected sign change around %d bps: below=%s above=%s", bps, below, above)
	}
}

func TestCalculateIRR_MatchesClosedForm(t *testing.T) {
	// 60x + 60x^2 = 100 with x = 1/(1+r).
	x := (-3 + math.Sqrt(69)) / 6
	want := 1/x - 1

	bps, ok, err := CalculateIRR(sampleInput())
	if err != nil || !ok {
		t.Fatalf("expected a rate, got ok=%v err=%v", ok, err)
	}
	if bps != int32(math.Round(want*10_000)) {
		t.Errorf("expected %v bps, got %d", math.Round(want*10_000), bps)
	}
}

func TestCalculateIRR_EmptyIsNotFound(t *testing.T) {
	bps, ok, err := CalculateIRR(model.Input{Compounding: model.Annual})
	if err != nil {
		t.Fatalf("empty schedule is not an error: %v", err)
	}
	if ok || bps != 0 {
		t.Errorf("expected no root, got %d/%v", bps, ok)
	}
}

func TestCalculateIRR_SameSignBracket(t *testing.T) {
	tests := []struct {
		name    string
		amounts []int64
	}{
		{"all positive", []int64{100, 60, 60}},
		{"all negative", []int64{-100, -60, -60}},
		{"all zero", []int64{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			for i, a := range tt.amounts {
				in.Cashflows[i].Amount = units(a)
			}
			_, ok, err := CalculateIRR(in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("expected no root")
			}
		})
	}
}

func TestCalculateIRR_IndependentOfOrderAndAsOf(t *testing.T) {
	base, _, _ := CalculateIRR(sampleInput())

	shuffled := sampleInput()
	shuffled.Cashflows = []model.Cashflow{shuffled.Cashflows[2], shuffled.Cashflows[0], shuffled.Cashflows[1]}
	if got, _, _ := CalculateIRR(shuffled); got != base {
		t.Errorf("order changed the IRR: %d vs %d", got, base)
	}

	later := sampleInput()
	later.AsOf = 18_615
	if got, _, _ := CalculateIRR(later); got != base {
		t.Errorf("as-of date changed the IRR: %d vs %d", got, base)
	}
}

func TestCalculateIRR_Monthly(t *testing.T) {
	annual, _, _ := CalculateIRR(sampleInput())

	in := sampleInput()
	in.Compounding = model.Monthly
	monthly, ok, err := CalculateIRR(in)
	if err != nil || !ok {
		t.Fatalf("expected a rate, got ok=%v err=%v", ok, err)
	}
	if monthly <= 1200 || monthly >= annual {
		t.Errorf("expected monthly nominal rate between 1200 and %d bps, got %d", annual, monthly)
	}
}

func TestIRR_NotFound(t *testing.T) {
	_, err := IRR(model.Input{Compounding: model.Annual})
	if !errors.Is(err, ErrIRRNotFound) {
		t.Fatalf("expected ErrIRRNotFound, got %v", err)
	}
	if err.Error() != "IRR not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if errors.Is(err, ErrOverflow) {
		t.Error("not found must be distinct from overflow")
	}
}

func TestIRR_Found(t *testing.T) {
	bps, err := IRR(sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bps != 1307 {
		t.Errorf("expected 1307 bps, got %d", bps)
	}
}

// --- Sensitivity tests ---

func TestSensitivity(t *testing.T) {
	rates := []int32{0, 800, 1307, 2000}
	points, err := Sensitivity(sampleInput(), rates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != len(rates) {
		t.Fatalf("expected %d points, got %d", len(rates), len(points))
	}
	for i, p := range points {
		if p.RateBps != rates[i] {
			t.Errorf("point %d: expected rate %d, got %d", i, rates[i], p.RateBps)
		}
	}
	if !points[0].NPV.Equal(units(20)) {
		t.Errorf("expected 20 units at 0 bps, got %s", points[0].NPV.Units())
	}
	if !points[1].NPV.Equal(money.NewFromMicros(6_995_885)) {
		t.Errorf("expected 6995885 micros at 800 bps, got %s", points[1].NPV)
	}
	if points[2].NPV.Decimal().Abs().GreaterThan(decimal.New(1, -2)) {
		t.Errorf("expected npv near zero at the IRR, got %s", points[2].NPV.Units())
	}
	for i := 1; i < len(points); i++ {
		if points[i].NPV.Decimal().GreaterThanOrEqual(points[i-1].NPV.Decimal()) {
			t.Errorf("npv should fall as the rate rises: %s then %s", points[i-1].NPV, points[i].NPV)
		}
	}
}

func TestSensitivity_Overflow(t *testing.T) {
	_, err := Sensitivity(sampleInput(), []int32{800, -10_000})
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// --- Determinism tests ---

func TestNPV_Deterministic(t *testing.T) {
	first, err := NPV(sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := EncodeOutput(first)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := NPV(sampleInput())
			if err != nil {
				return
			}
			results[i], _ = EncodeOutput(out)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if string(got) != string(want) {
			t.Errorf("call %d: %s != %s", i, got, want)
		}
	}
}
