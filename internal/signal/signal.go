// Package signal provides the logic for generating ORB entry signals.
package signal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/orb-options-bot/internal/indicator"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

// Side is the option side a signal asks to buy.
type Side string

const (
	// SideCE is the call side.
	SideCE Side = "CE"
	// SidePE is the put side.
	SidePE Side = "PE"
)

// Line identifies which main line a signal originated from.
type Line string

const (
	// LineHigh is the opening-range high main line.
	LineHigh Line = "HIGH"
	// LineLow is the opening-range low main line.
	LineLow Line = "LOW"
)

// Signal is an entry request produced by a breakout of a touched main line's buffer.
type Signal struct {
	Side  Side
	Line  Line
	Price decimal.Decimal // underlying price at the breakout tick
	Time  time.Time
}

// String returns the string representation of the signal.
func (s Signal) String() string {
	return fmt.Sprintf("%s from %s line at %s (%s)", s.Side, s.Line, s.Price, s.Time.Format("15:04:05"))
}

// Touch records whether price came within epsilon of a main line, and when it last did.
type Touch struct {
	Touched bool
	Time    time.Time
}

// TouchState holds the independent touch flags of both main lines.
type TouchState struct {
	High Touch
	Low  Touch
}

// Detector evaluates ticks against the ORB levels and emits entry signals.
// A touch stays armed until a breakout of that line consumes it.
type Detector struct {
	epsilon decimal.Decimal
	touch   TouchState
}

// NewDetector creates a Detector with the given touch epsilon.
func NewDetector(epsilon decimal.Decimal) *Detector {
	return &Detector{epsilon: epsilon}
}

// TouchState returns a copy of the current touch flags.
func (d *Detector) TouchState() TouchState {
	return d.touch
}

// OnTick updates the touch flags with price and returns a signal if a touched
// line's buffer was crossed, otherwise nil. At most one signal is returned per
// tick and the high line is checked before the low line.
func (d *Detector) OnTick(price decimal.Decimal, t time.Time, levels indicator.ORBLevels) *Signal {
	clock := t.Format("15:04:05")

	if price.Sub(levels.HighMain).Abs().LessThan(d.epsilon) {
		d.touch.High = Touch{Touched: true, Time: t}
		logger.Infof("%s - Price touched HIGH Main Line: %s", clock, price)
	}
	if price.Sub(levels.LowMain).Abs().LessThan(d.epsilon) {
		d.touch.Low = Touch{Touched: true, Time: t}
		logger.Infof("%s - Price touched LOW Main Line: %s", clock, price)
	}

	if d.touch.High.Touched {
		switch {
		case price.GreaterThan(levels.HighUpperBuffer):
			logger.Infof("%s - Price crossed HIGH Upper Buffer: %s", clock, price)
			return d.fire(SideCE, LineHigh, price, t)
		case price.LessThan(levels.HighLowerBuffer):
			logger.Infof("%s - Price crossed HIGH Lower Buffer: %s", clock, price)
			return d.fire(SidePE, LineHigh, price, t)
		}
	}

	if d.touch.Low.Touched {
		switch {
		case price.GreaterThanOrEqual(levels.LowUpperBuffer):
			logger.Infof("%s - Price crossed LOW Upper Buffer: %s", clock, price)
			return d.fire(SideCE, LineLow, price, t)
		case price.LessThanOrEqual(levels.LowLowerBuffer):
			logger.Infof("%s - Price crossed LOW Lower Buffer: %s", clock, price)
			return d.fire(SidePE, LineLow, price, t)
		}
	}

	return nil
}

func (d *Detector) fire(side Side, line Line, price decimal.Decimal, t time.Time) *Signal {
	if line == LineHigh {
		d.touch.High = Touch{}
	} else {
		d.touch.Low = Touch{}
	}
	return &Signal{Side: side, Line: line, Price: price, Time: t}
}
