// Copyright (c) 2024 ORB-Options-Bot
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package indicator derives price reference levels from market data.
package indicator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when no candle falls inside the warm-up window.
var ErrInsufficientData = errors.New("insufficient data in warm-up window")

// Candle is a single OHLC bar.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// ORBLevels holds the opening-range main lines and their buffer levels.
// Values are computed once per session and never mutated afterwards.
type ORBLevels struct {
	HighMain        decimal.Decimal
	LowMain         decimal.Decimal
	HighUpperBuffer decimal.Decimal
	HighLowerBuffer decimal.Decimal
	LowUpperBuffer  decimal.Decimal
	LowLowerBuffer  decimal.Decimal
	Buffer          decimal.Decimal
	WindowStart     time.Time
	WindowEnd       time.Time
	CandleCount     int
}

// String returns a compact representation for logs.
func (l ORBLevels) String() string {
	return fmt.Sprintf("ORB{High: %s [%s/%s], Low: %s [%s/%s]}",
		l.HighMain, l.HighUpperBuffer, l.HighLowerBuffer,
		l.LowMain, l.LowUpperBuffer, l.LowLowerBuffer)
}

// ComputeORBLevels computes the main lines over candles in [windowStart, windowEnd).
// Duplicate timestamps keep their first occurrence. The high main line is the maximum
// of every OHLC field in the window, not just the highs, and the low main line is the
// minimum of every field.
func ComputeORBLevels(candles []Candle, windowStart, windowEnd time.Time, buffer decimal.Decimal) (ORBLevels, error) {
	seen := make(map[int64]struct{}, len(candles))
	var high, low decimal.Decimal
	count := 0

	for _, c := range candles {
		key := c.Time.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if c.Time.Before(windowStart) || !c.Time.Before(windowEnd) {
			continue
		}

		fields := [...]decimal.Decimal{c.Open, c.High, c.Low, c.Close}
		if count == 0 {
			high, low = fields[0], fields[0]
		}
		for _, v := range fields {
			if v.GreaterThan(high) {
				high = v
			}
			if v.LessThan(low) {
				low = v
			}
		}
		count++
	}

	if count == 0 {
		return ORBLevels{}, fmt.Errorf("%w: no candles between %s and %s",
			ErrInsufficientData, windowStart.Format("15:04:05"), windowEnd.Format("15:04:05"))
	}

	return ORBLevels{
		HighMain:        high,
		LowMain:         low,
		HighUpperBuffer: high.Add(buffer),
		HighLowerBuffer: high.Sub(buffer),
		LowUpperBuffer:  low.Add(buffer),
		LowLowerBuffer:  low.Sub(buffer),
		Buffer:          buffer,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		CandleCount:     count,
	}, nil
}

// RangeCalculator memoizes the session's ORB levels.
type RangeCalculator struct {
	buffer decimal.Decimal
	levels *ORBLevels
}

// NewRangeCalculator creates a RangeCalculator with a fixed buffer offset.
func NewRangeCalculator(buffer decimal.Decimal) *RangeCalculator {
	return &RangeCalculator{buffer: buffer}
}

// Compute computes the levels on the first successful call. Later calls
// return the memoized levels without looking at candles.
func (rc *RangeCalculator) Compute(candles []Candle, windowStart, windowEnd time.Time) (ORBLevels, error) {
	if rc.levels != nil {
		return *rc.levels, nil
	}
	levels, err := ComputeORBLevels(candles, windowStart, windowEnd, rc.buffer)
	if err != nil {
		return ORBLevels{}, err
	}
	rc.levels = &levels
	return levels, nil
}

// Levels returns the memoized levels and whether they are available.
func (rc *RangeCalculator) Levels() (ORBLevels, bool) {
	if rc.levels == nil {
		return ORBLevels{}, false
	}
	return *rc.levels, true
}
