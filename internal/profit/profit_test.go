package profit

import (
	"math"
	"testing"

	"github.com/trigon-labs/trigon/internal/triangle"
)

var testTriangle = triangle.Triangle{
	Symbols: [3]string{"AAA/USDT", "AAA/BBB", "BBB/USDT"},
	Base:    "USDT",
	Quote:   "AAA",
	Bridge:  "BBB",
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOptimalProfitableCycle(t *testing.T) {
	// 1000 USDT -> 10 AAA -> 20.2 BBB -> 1010 USDT.
	legs := Legs{Prices: [3]float64{100, 2.02, 50}}

	r := Optimal(1000, testTriangle, legs)
	if r == nil {
		t.Fatal("expected a result")
	}
	if !approx(r.ProfitPercent, 1.0) {
		t.Fatalf("profit pct = %v, want 1.0", r.ProfitPercent)
	}
	if !approx(r.ProfitAmount, 10) {
		t.Fatalf("profit amount = %v, want 10", r.ProfitAmount)
	}
	if r.Direction != "USDT->AAA->BBB->USDT" {
		t.Fatalf("direction = %q", r.Direction)
	}
}

func TestOptimalLosingCycle(t *testing.T) {
	legs := Legs{Prices: [3]float64{100, 1.98, 50}}

	r := Optimal(1000, testTriangle, legs)
	if r == nil {
		t.Fatal("expected a result")
	}
	if r.ProfitPercent >= 0 {
		t.Fatalf("profit pct = %v, want negative", r.ProfitPercent)
	}
}

func TestOptimalRejectsBadInput(t *testing.T) {
	if r := Optimal(0, testTriangle, Legs{Prices: [3]float64{100, 2, 50}}); r != nil {
		t.Fatalf("zero position should not value, got %+v", r)
	}
	if r := Optimal(1000, testTriangle, Legs{Prices: [3]float64{100, 0, 50}}); r != nil {
		t.Fatalf("missing leg price should not value, got %+v", r)
	}
	if r := Optimal(1000, testTriangle, Legs{Prices: [3]float64{100, -1, 50}}); r != nil {
		t.Fatalf("negative leg price should not value, got %+v", r)
	}
}

func TestRealisticNetsCosts(t *testing.T) {
	legs := Legs{Prices: [3]float64{100, 2.02, 50}}
	costs := DefaultCosts("binance")

	opt := Optimal(1000, testTriangle, legs)
	real := Realistic(1000, testTriangle, legs, costs)
	if real == nil {
		t.Fatal("expected a result")
	}
	if real.ProfitPercent >= opt.ProfitPercent {
		t.Fatalf("realistic %v should be below optimal %v", real.ProfitPercent, opt.ProfitPercent)
	}
	// 1.0% gross minus 0.3 fees, 0.06 spread, 0.03 slippage, 0.02
	// rounding, 0.05 buffer leaves 0.54%.
	if !approx(real.ProfitPercent, 0.54) {
		t.Fatalf("realistic pct = %v, want 0.54", real.ProfitPercent)
	}
	if !approx(real.ProfitAmount, 5.4) {
		t.Fatalf("realistic amount = %v, want 5.4", real.ProfitAmount)
	}
}

func TestDefaultCostsPerExchange(t *testing.T) {
	if b := DefaultCosts("binance"); b.ExchangeBufferPct != 0.05 {
		t.Fatalf("binance buffer = %v", b.ExchangeBufferPct)
	}
	if o := DefaultCosts("okx"); o.ExchangeBufferPct != 0.08 {
		t.Fatalf("okx buffer = %v", o.ExchangeBufferPct)
	}
	if u := DefaultCosts("somewhere"); u.ExchangeBufferPct != 0.08 {
		t.Fatalf("unknown venue buffer = %v", u.ExchangeBufferPct)
	}
}
