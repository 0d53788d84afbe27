// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orb"

// Metrics holds the collectors updated by the engine.
type Metrics struct {
	TicksTotal        prometheus.Counter
	TickRate          prometheus.Gauge
	Signals           *prometheus.CounterVec
	EntriesRejected   *prometheus.CounterVec
	Entries           *prometheus.CounterVec
	Exits             *prometheus.CounterVec
	PriceFetchFailure *prometheus.CounterVec
	DailyPnL          prometheus.Gauge
	PositionOpen      prometheus.Gauge
	LevelsReady       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Inbound feed messages seen by the engine.",
		}),
		TickRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tick_rate",
			Help: "Inbound feed messages per second over the last reporting window.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Breakout signals by side and origin line.",
		}, []string{"side", "line"}),
		EntriesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_rejected_total",
			Help: "Signals that did not open a position, by reason.",
		}, []string{"reason"}),
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_total",
			Help: "Opened positions by side.",
		}, []string{"side"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exits_total",
			Help: "Closed positions by exit reason.",
		}, []string{"reason"}),
		PriceFetchFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "price_fetch_failures_total",
			Help: "Failed external price reads, by kind (history, entry, exit).",
		}, []string{"kind"}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_pnl",
			Help: "Realised net PnL of the session.",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "position_open",
			Help: "1 while a position is held.",
		}),
		LevelsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "levels_ready",
			Help: "1 once the opening range levels are computed.",
		}),
	}
	reg.MustRegister(
		m.TicksTotal, m.TickRate, m.Signals, m.EntriesRejected, m.Entries,
		m.Exits, m.PriceFetchFailure, m.DailyPnL, m.PositionOpen, m.LevelsReady,
	)
	return m
}

// NewNop returns Metrics registered to a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
