package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/money"
)

func valuation(id string, at time.Time) *model.Valuation {
	bps := int32(1307)
	return &model.Valuation{
		ID:        id,
		Operation: model.OperationNPV,
		Input: model.Input{
			Compounding:     model.Annual,
			DiscountRateBps: 800,
			Cashflows: []model.Cashflow{
				{Date: 0, Amount: money.NewFromMicros(-100_000_000)},
				{Date: 365, Amount: money.NewFromMicros(60_000_000)},
			},
		},
		Output:        model.Output{NPV: money.NewFromMicros(6_995_885), IRRBps: &bps},
		CashflowCount: 2,
		CreatedAt:     at,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v := valuation("v1", time.Now().UTC())
	if err := s.CreateValuation(ctx, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetValuation(ctx, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "v1" || got.Operation != model.OperationNPV || got.CashflowCount != 2 {
		t.Errorf("unexpected valuation %+v", got)
	}
	if !got.Output.NPV.Equal(v.Output.NPV) || got.Output.IRRBps == nil || *got.Output.IRRBps != 1307 {
		t.Errorf("unexpected output %+v", got.Output)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 stored valuation, got %d", s.Len())
	}
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.CreateValuation(ctx, valuation("v1", time.Now()))
	if err := s.CreateValuation(ctx, valuation("v1", time.Now())); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().GetValuation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v := valuation("v1", time.Now())
	_ = s.CreateValuation(ctx, v)

	// Mutating the caller's record must not change the stored one.
	v.Input.Cashflows[0].Date = 999
	*v.Output.IRRBps = 1

	got, _ := s.GetValuation(ctx, "v1")
	if got.Input.Cashflows[0].Date != 0 {
		t.Error("stored cashflows were mutated through the caller's slice")
	}
	if *got.Output.IRRBps != 1307 {
		t.Error("stored IRR was mutated through the caller's pointer")
	}

	got.Input.Cashflows[1].Date = 42
	again, _ := s.GetValuation(ctx, "v1")
	if again.Input.Cashflows[1].Date != 365 {
		t.Error("stored cashflows were mutated through a returned copy")
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	start := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_ = s.CreateValuation(ctx, valuation(fmt.Sprintf("v%d", i), start.Add(time.Duration(i)*time.Second)))
	}

	all, err := s.ListValuations(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 valuations, got %d", len(all))
	}
	if all[0].ID != "v4" || all[4].ID != "v0" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[4].ID)
	}

	two, _ := s.ListValuations(ctx, 2)
	if len(two) != 2 || two[0].ID != "v4" || two[1].ID != "v3" {
		t.Errorf("unexpected limited list %v", two)
	}
}

func TestMemoryStore_ListEmpty(t *testing.T) {
	list, err := NewMemoryStore().ListValuations(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{5, 5},
		{DefaultListLimit + 1, DefaultListLimit},
	}
	for _, tt := range tests {
		if got := normalizeLimit(tt.in); got != tt.want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
