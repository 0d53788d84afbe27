// Package pnl computes commission-aware option trade PnL.
package pnl

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Breakdown is the PnL of one round trip.
type Breakdown struct {
	PointDiff  decimal.Decimal // exit - entry, per contract
	Gross      decimal.Decimal // PointDiff x lot
	Commission decimal.Decimal
	Net        decimal.Decimal
}

// String returns a one-line summary for logs.
func (b Breakdown) String() string {
	return fmt.Sprintf("points=%s gross=%s commission=%s net=%s",
		b.PointDiff.StringFixed(2), b.Gross.StringFixed(2), b.Commission.StringFixed(3), b.Net.StringFixed(3))
}

// Calculator handles PnL calculations for a fixed lot size and commission rate.
type Calculator struct {
	lot  decimal.Decimal
	rate decimal.Decimal
}

// NewCalculator creates a new PnL Calculator. rate is a fraction per side, 0.0025 = 0.25%.
func NewCalculator(lotSize int, rate decimal.Decimal) *Calculator {
	return &Calculator{lot: decimal.NewFromInt(int64(lotSize)), rate: rate}
}

// Compute returns the PnL of buying at entry and selling at exit.
// Commission is charged on the turnover of both legs.
func (c *Calculator) Compute(entry, exit decimal.Decimal) Breakdown {
	points := exit.Sub(entry)
	gross := points.Mul(c.lot)
	commission := entry.Add(exit).Mul(c.lot).Mul(c.rate)
	return Breakdown{
		PointDiff:  points,
		Gross:      gross,
		Commission: commission,
		Net:        gross.Sub(commission),
	}
}
