// Package profit values triangular cycles from last-traded prices and nets
// out the execution costs a live fill would pay.
package profit

import "github.com/trigon-labs/trigon/internal/triangle"

// Legs carries the three last prices for a triangle, in leg order:
// Quote/Base, Quote/Bridge, Bridge/Base.
type Legs struct {
	Prices [3]float64
}

// Result describes a valued cycle. ProfitPercent may be negative; callers
// decide what clears their floor.
type Result struct {
	// Direction is the asset walk of the cycle, e.g. "USDT->ETH->BTC->USDT".
	Direction     string
	ProfitPercent float64
	ProfitAmount  float64
}

// Costs are the per-cycle deductions applied on top of the theoretical
// value, all expressed in percent of position size.
type Costs struct {
	// TakerFeeRate is the per-leg taker fee as a fraction, e.g. 0.001.
	TakerFeeRate float64
	// SpreadPct estimates bid/ask crossing across the three legs.
	SpreadPct float64
	// SlippagePct covers book movement between quote and fill.
	SlippagePct float64
	// RoundingPct covers lot-size truncation on each conversion.
	RoundingPct float64
	// ExchangeBufferPct absorbs venue-specific quirks (stale tickers,
	// minimum notional bumps).
	ExchangeBufferPct float64
}

// DefaultCosts returns the cost model for an exchange. Unknown venues get
// the conservative buffer.
func DefaultCosts(exchange string) Costs {
	c := Costs{
		TakerFeeRate: 0.001,
		SpreadPct:    0.06,
		SlippagePct:  0.03,
		RoundingPct:  0.02,
	}
	switch exchange {
	case "binance":
		c.ExchangeBufferPct = 0.05
	default:
		c.ExchangeBufferPct = 0.08
	}
	return c
}

// total is the full deduction in percent.
func (c Costs) total() float64 {
	return 3*c.TakerFeeRate*100 + c.SpreadPct + c.SlippagePct + c.RoundingPct + c.ExchangeBufferPct
}

// Optimal values the cycle from raw last prices. Starting with positionSize
// of the base asset: buy the quote asset on leg one, convert quote to bridge
// on leg two, sell the bridge on leg three. Returns nil when any leg price
// is missing or non-positive, since the cycle cannot be valued. Only the
// listed orientation is walked: the opposite cycle needs the inverted cross
// symbol, which discovery emits as its own triangle when the venue lists it.
func Optimal(positionSize float64, t triangle.Triangle, legs Legs) *Result {
	if positionSize <= 0 {
		return nil
	}
	for _, p := range legs.Prices {
		if p <= 0 {
			return nil
		}
	}

	quoteAmount := positionSize / legs.Prices[0]
	bridgeAmount := quoteAmount * legs.Prices[1]
	finalBase := bridgeAmount * legs.Prices[2]

	pct := (finalBase/positionSize - 1) * 100
	return &Result{
		Direction:     t.Base + "->" + t.Quote + "->" + t.Bridge + "->" + t.Base,
		ProfitPercent: pct,
		ProfitAmount:  finalBase - positionSize,
	}
}

// Realistic nets execution costs out of the theoretical value. Returns nil
// when the cycle cannot be valued at all.
func Realistic(positionSize float64, t triangle.Triangle, legs Legs, costs Costs) *Result {
	r := Optimal(positionSize, t, legs)
	if r == nil {
		return nil
	}
	r.ProfitPercent -= costs.total()
	r.ProfitAmount = positionSize * r.ProfitPercent / 100
	return r
}
