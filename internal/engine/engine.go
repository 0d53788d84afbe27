// Package engine turns the underlying tick stream into ORB option trades.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/orb-options-bot/internal/alert"
	"github.com/your-org/orb-options-bot/internal/benchmark"
	"github.com/your-org/orb-options-bot/internal/config"
	"github.com/your-org/orb-options-bot/internal/dbwriter"
	"github.com/your-org/orb-options-bot/internal/indicator"
	"github.com/your-org/orb-options-bot/internal/metrics"
	"github.com/your-org/orb-options-bot/internal/position"
	"github.com/your-org/orb-options-bot/internal/risk"
	"github.com/your-org/orb-options-bot/internal/signal"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

// DepthMessageType is the feed message type carrying price updates.
const DepthMessageType = "df"

// Tick is one inbound feed message, reduced to the fields the engine reads.
type Tick struct {
	MessageType   string
	InstrumentKey string
	Price         decimal.Decimal
	Timestamp     time.Time
}

// HistoryProvider returns OHLC candles for symbol between from and to.
type HistoryProvider interface {
	Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]indicator.Candle, error)
}

// Config holds the engine's session parameters.
type Config struct {
	InstrumentKey    string // feed token of the watched underlying
	HistorySymbol    string
	CandleResolution string
	Location         *time.Location
	WarmupStart      config.ClockTime
	WarmupEnd        config.ClockTime
	BufferPoints     decimal.Decimal
	TouchEpsilon     decimal.Decimal
	FetchTimeout     time.Duration
	ThroughputEvery  int
	Lifecycle        LifecycleConfig
	Risk             risk.Limits
}

// NewConfig builds the engine Config from the application configuration.
func NewConfig(cfg *config.Config) (Config, error) {
	loc, err := cfg.Session.Location()
	if err != nil {
		return Config{}, fmt.Errorf("load session timezone: %w", err)
	}
	return Config{
		InstrumentKey:    cfg.Instrument.TickToken,
		HistorySymbol:    cfg.Instrument.HistorySymbol,
		CandleResolution: cfg.Instrument.CandleResolution,
		Location:         loc,
		WarmupStart:      cfg.Session.WarmupStart,
		WarmupEnd:        cfg.Session.WarmupEnd,
		BufferPoints:     cfg.Strategy.BufferPoints.Decimal,
		TouchEpsilon:     cfg.Strategy.TouchEpsilon.Decimal,
		FetchTimeout:     cfg.Quote.FetchTimeout(),
		ThroughputEvery:  100,
		Lifecycle: LifecycleConfig{
			LotSize:          cfg.Strategy.LotSize,
			CommissionRate:   cfg.Strategy.CommissionRate.Decimal,
			ProfitTarget:     cfg.Strategy.ProfitTarget.Decimal,
			PriceMoveTrigger: cfg.Strategy.PriceMoveTrigger.Decimal,
			StopOffset:       cfg.Strategy.StopOffset.Decimal,
		},
		Risk: risk.Limits{
			MaxDailyProfit: cfg.Risk.MaxDailyProfit.Decimal,
			MaxDailyLoss:   cfg.Risk.MaxDailyLoss.Decimal,
			MaxCEEntries:   cfg.Risk.MaxCEEntries,
			MaxPEEntries:   cfg.Risk.MaxPEEntries,
		},
	}, nil
}

// Deps are the engine's collaborators. Only History and Prices are required.
type Deps struct {
	History  HistoryProvider
	Prices   PriceFetcher
	Executor ExecutionEngine
	Journal  dbwriter.Repository
	Notifier alert.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Snapshot is a point-in-time copy of the engine state for operators.
type Snapshot struct {
	LevelsReady   bool                  `json:"levels_ready"`
	Levels        *indicator.ORBLevels  `json:"levels,omitempty"`
	SessionFailed bool                  `json:"session_failed"`
	Touch         signal.TouchState     `json:"touch"`
	Risk          risk.State            `json:"risk"`
	Halted        bool                  `json:"halted"`
	HaltReason    string                `json:"halt_reason,omitempty"`
	ActiveTrade   *position.ActiveTrade `json:"active_trade,omitempty"`
	LastPrice     decimal.Decimal       `json:"last_price"`
	LastTickTime  time.Time             `json:"last_tick_time"`
	TicksSeen     int64                 `json:"ticks_seen"`
	TickRate      float64               `json:"tick_rate"`
}

// Engine processes ticks one at a time for a single instrument and session.
type Engine struct {
	cfg       Config
	history   HistoryProvider
	ranges    *indicator.RangeCalculator
	detector  *signal.Detector
	governor  *risk.Governor
	lifecycle *TradeLifecycle
	journal   dbwriter.Repository
	notifier  alert.Notifier
	metrics   *metrics.Metrics
	meter     *benchmark.ThroughputMeter

	// failed is read without the mutex so liveness checks never wait on a tick.
	failed atomic.Bool

	mutex        sync.Mutex
	haltLogged   bool
	lastPrice    decimal.Decimal
	lastTickTime time.Time
}

// New creates an Engine with a fresh session state.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if deps.Journal == nil {
		deps.Journal = dbwriter.NewInMemWriter()
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.NewNoOpNotifier()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	governor := risk.NewGovernor(cfg.Risk)
	m := deps.Metrics
	return &Engine{
		cfg:       cfg,
		history:   deps.History,
		ranges:    indicator.NewRangeCalculator(cfg.BufferPoints),
		detector:  signal.NewDetector(cfg.TouchEpsilon),
		governor:  governor,
		lifecycle: NewTradeLifecycle(cfg.Lifecycle, governor, deps.Prices, deps.Executor, deps.Journal, deps.Notifier, m),
		journal:   deps.Journal,
		notifier:  deps.Notifier,
		metrics:   m,
		meter: benchmark.NewThroughputMeter(cfg.ThroughputEvery, deps.Clock, deps.Logger.Named("throughput"),
			func(rate float64) { m.TickRate.Set(rate) }),
	}
}

// OnTick processes one feed message to completion. It never returns an error:
// malformed messages are ignored and external failures skip the tick.
func (e *Engine) OnTick(ctx context.Context, tick Tick) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.meter.Tick()
	e.metrics.TicksTotal.Inc()

	if tick.MessageType != DepthMessageType || tick.InstrumentKey != e.cfg.InstrumentKey ||
		!tick.Price.IsPositive() || tick.Timestamp.IsZero() {
		return
	}
	if e.failed.Load() {
		return
	}

	t := tick.Timestamp.In(e.cfg.Location)
	e.lastPrice, e.lastTickTime = tick.Price, t

	if !t.After(e.cfg.WarmupEnd.On(t)) {
		return
	}

	levels, ready := e.ranges.Levels()
	if !ready {
		var ok bool
		if levels, ok = e.computeLevels(ctx, t); !ok {
			return
		}
	}

	if _, active := e.lifecycle.ActiveTrade(); active {
		e.lifecycle.Manage(ctx, tick.Price, t)
		return
	}

	if halted, reason := e.governor.Halted(); halted {
		if !e.haltLogged {
			logger.Warnf("%s - DAILY LIMIT REACHED (%s) - No new trades today", t.Format("15:04:05"), reason)
			e.haltLogged = true
		}
		return
	}

	sig := e.detector.OnTick(tick.Price, t, levels)
	if sig == nil {
		return
	}
	e.metrics.Signals.WithLabelValues(string(sig.Side), string(sig.Line)).Inc()
	if _, err := e.lifecycle.Enter(ctx, *sig, levels); err != nil {
		logger.Debugf("Signal %s did not open a position: %v", sig, err)
	}
}

// computeLevels fetches the warm-up candles and computes the session levels.
// A fetch failure is retried on the next tick; an empty window fails the session.
func (e *Engine) computeLevels(ctx context.Context, t time.Time) (indicator.ORBLevels, bool) {
	start, end := e.cfg.WarmupStart.On(t), e.cfg.WarmupEnd.On(t)

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	candles, err := e.history.Candles(fetchCtx, e.cfg.HistorySymbol, e.cfg.CandleResolution, start, end)
	if err != nil {
		logger.Errorf("Failed to fetch history for ORB lines, retrying on next tick: %v", err)
		e.metrics.PriceFetchFailure.WithLabelValues("history").Inc()
		return indicator.ORBLevels{}, false
	}

	levels, err := e.ranges.Compute(candles, start, end)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			e.failed.Store(true)
			logger.Errorf("No data found in the warm-up window (%s-%s), no trading this session: %v", e.cfg.WarmupStart, e.cfg.WarmupEnd, err)
			if nerr := e.notifier.Send("ORB session failed: no candles in warm-up window"); nerr != nil {
				logger.Warnf("Failed to queue alert: %v", nerr)
			}
			return indicator.ORBLevels{}, false
		}
		logger.Errorf("Failed to compute ORB lines: %v", err)
		return indicator.ORBLevels{}, false
	}

	logger.Info("=== ORB LINES CALCULATED ===")
	logger.Infof("High Main Line: %s", levels.HighMain)
	logger.Infof("  - Upper Buffer: %s", levels.HighUpperBuffer)
	logger.Infof("  - Lower Buffer: %s", levels.HighLowerBuffer)
	logger.Infof("Low Main Line: %s", levels.LowMain)
	logger.Infof("  - Upper Buffer: %s", levels.LowUpperBuffer)
	logger.Infof("  - Lower Buffer: %s", levels.LowLowerBuffer)
	logger.Infof("Candles in window: %d", levels.CandleCount)
	logger.Info("===========================")

	e.metrics.LevelsReady.Set(1)
	journalCtx, cancelJournal := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancelJournal()
	if err := e.journal.SaveLevels(journalCtx, dbwriter.LevelsRecord{
		Time:            t,
		Symbol:          e.cfg.HistorySymbol,
		HighMain:        levels.HighMain.InexactFloat64(),
		LowMain:         levels.LowMain.InexactFloat64(),
		HighUpperBuffer: levels.HighUpperBuffer.InexactFloat64(),
		HighLowerBuffer: levels.HighLowerBuffer.InexactFloat64(),
		LowUpperBuffer:  levels.LowUpperBuffer.InexactFloat64(),
		LowLowerBuffer:  levels.LowLowerBuffer.InexactFloat64(),
		BufferPoints:    levels.Buffer.InexactFloat64(),
		CandleCount:     levels.CandleCount,
	}); err != nil {
		logger.Warnf("Failed to journal ORB levels: %v", err)
	}
	if err := e.notifier.Send("ORB levels: " + levels.String()); err != nil {
		logger.Warnf("Failed to queue alert: %v", err)
	}
	return levels, true
}

// Flatten exits any open trade at the current bid, or without an option price
// if the bid cannot be read. Used at shutdown.
func (e *Engine) Flatten(ctx context.Context, reason string, t time.Time) *ExitResult {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	trade, ok := e.lifecycle.ActiveTrade()
	if !ok {
		return nil
	}
	var exit decimal.NullDecimal
	if bid, err := e.lifecycle.prices.ExitPrice(ctx, trade.OptionSymbol); err == nil {
		exit = decimal.NewNullDecimal(bid)
	} else {
		logger.Warnf("Exit price for %s unavailable while flattening: %v", trade.OptionSymbol, err)
	}
	return e.lifecycle.Exit(ctx, reason, e.lastPrice, exit, t.In(e.cfg.Location))
}

// SessionFailed reports whether the session was abandoned for lack of warm-up data.
// Unlike Snapshot it does not wait for an in-flight tick.
func (e *Engine) SessionFailed() bool {
	return e.failed.Load()
}

// Snapshot returns a copy of the session state.
func (e *Engine) Snapshot() Snapshot {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	total, rate := e.meter.Stats()
	halted, reason := e.governor.Halted()
	s := Snapshot{
		SessionFailed: e.failed.Load(),
		Touch:         e.detector.TouchState(),
		Risk:          e.governor.State(),
		Halted:        halted,
		HaltReason:    reason,
		LastPrice:     e.lastPrice,
		LastTickTime:  e.lastTickTime,
		TicksSeen:     total,
		TickRate:      rate,
	}
	if levels, ok := e.ranges.Levels(); ok {
		s.LevelsReady = true
		s.Levels = &levels
	}
	if trade, ok := e.lifecycle.ActiveTrade(); ok {
		s.ActiveTrade = &trade
	}
	return s
}
