// Package benchmark measures feed throughput.
package benchmark

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ThroughputMeter counts inbound messages and reports a messages/second rate
// every Every messages.
type ThroughputMeter struct {
	every    int
	now      func() time.Time
	logger   *zap.Logger
	observe  func(rate float64)
	mu       sync.Mutex
	count    int64
	windowN  int
	windowAt time.Time
	lastRate float64
}

// NewThroughputMeter creates a meter. observe may be nil; clock may be nil.
func NewThroughputMeter(every int, clock func() time.Time, logger *zap.Logger, observe func(rate float64)) *ThroughputMeter {
	if every <= 0 {
		every = 100
	}
	if clock == nil {
		clock = time.Now
	}
	return &ThroughputMeter{every: every, now: clock, logger: logger, observe: observe}
}

// Tick records one message and returns true when a report was emitted.
func (m *ThroughputMeter) Tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.windowAt.IsZero() {
		m.windowAt = now
	}
	m.count++
	m.windowN++
	if m.windowN < m.every {
		return false
	}

	elapsed := now.Sub(m.windowAt).Seconds()
	if elapsed > 0 {
		m.lastRate = float64(m.windowN) / elapsed
	}
	m.logger.Info("Processing throughput",
		zap.Float64("ticksPerSecond", m.lastRate),
		zap.Int64("totalTicks", m.count))
	if m.observe != nil {
		m.observe(m.lastRate)
	}
	m.windowN = 0
	m.windowAt = now
	return true
}

// Stats returns the total count and the last reported rate.
func (m *ThroughputMeter) Stats() (total int64, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, m.lastRate
}
