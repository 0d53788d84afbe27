package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/your-org/orb-options-bot/internal/config"
	"github.com/your-org/orb-options-bot/internal/dbwriter"
	"github.com/your-org/orb-options-bot/internal/indicator"
	"github.com/your-org/orb-options-bot/internal/metrics"
	"github.com/your-org/orb-options-bot/internal/position"
	"github.com/your-org/orb-options-bot/internal/pricing"
	"github.com/your-org/orb-options-bot/internal/risk"
	"github.com/your-org/orb-options-bot/internal/signal"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(h, m, s int) time.Time { return time.Date(2025, 5, 15, h, m, s, 0, ist) }

// tk builds a depth tick for the watched instrument, timestamped in UTC like the feed.
func tk(h, m, s int, price string) Tick {
	return Tick{MessageType: DepthMessageType, InstrumentKey: "26000", Price: d(price), Timestamp: at(h, m, s).UTC()}
}

type fakePrices struct {
	ask        decimal.Decimal
	bid        decimal.Decimal
	entryErr   error
	bidErr     error
	entryCalls int
	exitCalls  int
}

func (f *fakePrices) EntryPrice(_ context.Context, side signal.Side, _ decimal.Decimal) (pricing.Selection, error) {
	f.entryCalls++
	if f.entryErr != nil {
		return pricing.Selection{}, f.entryErr
	}
	return pricing.Selection{Symbol: "NSE:NIFTY2551522500" + string(side), Strike: d("22500"), Price: f.ask}, nil
}

func (f *fakePrices) ExitPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	f.exitCalls++
	if f.bidErr != nil {
		return decimal.Zero, f.bidErr
	}
	return f.bid, nil
}

type fakeHistory struct {
	candles []indicator.Candle
	calls   int
}

func (f *fakeHistory) Candles(context.Context, string, string, time.Time, time.Time) ([]indicator.Candle, error) {
	f.calls++
	return f.candles, nil
}

type mockHistory struct{ mock.Mock }

func (m *mockHistory) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]indicator.Candle, error) {
	args := m.Called(symbol, resolution, from, to)
	candles, _ := args.Get(0).([]indicator.Candle)
	return candles, args.Error(1)
}

// rangeCandles spans 90..100 inside the 09:15-09:22 window.
func rangeCandles() []indicator.Candle {
	return []indicator.Candle{
		{Time: at(9, 15, 0), Open: d("95"), High: d("100"), Low: d("92"), Close: d("97")},
		{Time: at(9, 16, 0), Open: d("97"), High: d("98"), Low: d("90"), Close: d("91")},
	}
}

func testConfig() Config {
	return Config{
		InstrumentKey:    "26000",
		HistorySymbol:    "NSE:NIFTY50-INDEX",
		CandleResolution: "1",
		Location:         ist,
		WarmupStart:      config.ClockTime{Hour: 9, Minute: 15, Set: true},
		WarmupEnd:        config.ClockTime{Hour: 9, Minute: 22, Set: true},
		BufferPoints:     d("5"),
		TouchEpsilon:     d("0.3"),
		FetchTimeout:     time.Second,
		Lifecycle: LifecycleConfig{
			LotSize:          75,
			CommissionRate:   d("0.0025"),
			ProfitTarget:     d("3000"),
			PriceMoveTrigger: d("5"),
			StopOffset:       d("1"),
		},
		Risk: risk.Limits{
			MaxDailyProfit: d("3000"),
			MaxDailyLoss:   d("-1200"),
			MaxCEEntries:   5,
			MaxPEEntries:   5,
		},
	}
}

type fixture struct {
	engine  *Engine
	prices  *fakePrices
	history *fakeHistory
	journal *dbwriter.InMemWriter
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		prices:  &fakePrices{ask: d("100"), bid: d("100.5")},
		history: &fakeHistory{candles: rangeCandles()},
		journal: dbwriter.NewInMemWriter(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.engine = New(cfg, Deps{
		History: f.history,
		Prices:  f.prices,
		Journal: f.journal,
		Metrics: f.metrics,
	})
	return f
}

// enterCE drives the engine through a HIGH line touch and an upper breakout.
func (f *fixture) enterCE(t *testing.T, ctx context.Context, h, m int) position.ActiveTrade {
	t.Helper()
	f.engine.OnTick(ctx, tk(h, m, 0, "100"))
	f.engine.OnTick(ctx, tk(h, m, 30, "106"))
	trade, ok := f.engine.lifecycle.ActiveTrade()
	require.True(t, ok, "expected an open position after the breakout")
	return trade
}

func TestEngine_TouchThenBreakoutEntersOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	f.engine.OnTick(ctx, tk(9, 30, 0, "100"))
	snap := f.engine.Snapshot()
	require.True(t, snap.LevelsReady)
	assert.True(t, snap.Levels.HighMain.Equal(d("100")))
	assert.True(t, snap.Levels.LowMain.Equal(d("90")))
	assert.True(t, snap.Touch.High.Touched)
	assert.Nil(t, snap.ActiveTrade)
	require.Len(t, f.journal.Levels, 1)

	f.engine.OnTick(ctx, tk(9, 31, 0, "106"))
	snap = f.engine.Snapshot()
	require.NotNil(t, snap.ActiveTrade)
	trade := *snap.ActiveTrade
	assert.Equal(t, signal.SideCE, trade.Side)
	assert.Equal(t, signal.LineHigh, trade.OriginLine)
	assert.True(t, trade.OptionEntryPrice.Equal(d("100")))
	assert.True(t, trade.StopLoss.Equal(d("99")))
	assert.True(t, trade.UnderlyingEntryPrice.Equal(d("106")))
	assert.False(t, snap.Touch.High.Touched, "the breakout consumes the touch")
	assert.Equal(t, 1, snap.Risk.CEEntries)
	assert.Equal(t, 1, snap.Risk.TradeCount)

	// Below the trailing trigger and above the stop: hold.
	f.engine.OnTick(ctx, tk(9, 31, 5, "100.99"))
	_, active := f.engine.lifecycle.ActiveTrade()
	assert.True(t, active)
	assert.Equal(t, 1, f.prices.entryCalls)
	assert.Equal(t, 1, f.prices.exitCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Signals.WithLabelValues("CE", "HIGH")))

	events := f.journal.TradeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, dbwriter.EventEntry, events[0].Event)
	assert.Equal(t, "NSE:NIFTY2551522500CE", events[0].OptionSymbol)
}

func TestEngine_TakeProfitHaltsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.enterCE(t, ctx, 9, 30)

	f.prices.bid = d("141")
	f.engine.OnTick(ctx, tk(9, 32, 0, "110"))

	snap := f.engine.Snapshot()
	assert.Nil(t, snap.ActiveTrade)
	assert.True(t, snap.Risk.DailyPnL.Equal(d("3029.8125")), "got %s", snap.Risk.DailyPnL)
	assert.True(t, snap.Halted)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exits.WithLabelValues(ReasonTakeProfit)))

	events := f.journal.TradeEvents()
	require.Len(t, events, 2)
	assert.Equal(t, ReasonTakeProfit, events[1].Reason)
	assert.InDelta(t, 3029.8125, events[1].NetPnL, 1e-9)

	// Once halted no touch is armed and no entry is attempted.
	f.engine.OnTick(ctx, tk(9, 40, 0, "100"))
	f.engine.OnTick(ctx, tk(9, 40, 30, "106"))
	snap = f.engine.Snapshot()
	assert.False(t, snap.Touch.High.Touched)
	assert.Nil(t, snap.ActiveTrade)
	assert.Equal(t, 1, f.prices.entryCalls)
}

func TestEngine_TrailingStopThenSameMinuteRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.enterCE(t, ctx, 9, 30)

	f.prices.bid = d("105")
	f.engine.OnTick(ctx, tk(9, 33, 0, "108"))
	trade, ok := f.engine.lifecycle.ActiveTrade()
	require.True(t, ok)
	assert.True(t, trade.TrailingAdjusted)
	assert.True(t, trade.StopLoss.Equal(d("101")))

	// The trail happens once; a later spike does not move the stop again.
	f.prices.bid = d("112")
	f.engine.OnTick(ctx, tk(9, 33, 5, "109"))
	trade, _ = f.engine.lifecycle.ActiveTrade()
	assert.True(t, trade.StopLoss.Equal(d("101")))

	f.prices.bid = d("101")
	f.engine.OnTick(ctx, tk(9, 33, 10, "104"))
	snap := f.engine.Snapshot()
	require.Nil(t, snap.ActiveTrade)
	assert.True(t, snap.Risk.DailyPnL.Equal(d("37.3125")), "got %s", snap.Risk.DailyPnL)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exits.WithLabelValues(ReasonStopLoss)))

	// A fresh breakout in the exit minute is rejected and still consumes the touch.
	f.engine.OnTick(ctx, tk(9, 33, 20, "100"))
	f.engine.OnTick(ctx, tk(9, 33, 30, "106"))
	snap = f.engine.Snapshot()
	assert.Nil(t, snap.ActiveTrade)
	assert.False(t, snap.Touch.High.Touched)
	assert.Equal(t, 1, snap.Risk.CEEntries)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EntriesRejected.WithLabelValues("same_minute")))

	// The next minute is allowed.
	f.enterCE(t, ctx, 9, 34)
	assert.Equal(t, 2, f.engine.Snapshot().Risk.CEEntries)
}

func TestEngine_ExitPriceFailureKeepsPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.enterCE(t, ctx, 9, 30)

	f.prices.bidErr = errors.New("quote timeout")
	f.engine.OnTick(ctx, tk(9, 31, 0, "80"))

	_, active := f.engine.lifecycle.ActiveTrade()
	assert.True(t, active)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PriceFetchFailure.WithLabelValues("exit")))

	f.prices.bidErr = nil
	f.prices.bid = d("98")
	f.engine.OnTick(ctx, tk(9, 31, 5, "80"))
	_, active = f.engine.lifecycle.ActiveTrade()
	assert.False(t, active)
}

func TestEngine_EntryPriceFailureDoesNotCountEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.prices.entryErr = pricing.ErrNoChain

	f.engine.OnTick(ctx, tk(9, 30, 0, "100"))
	f.engine.OnTick(ctx, tk(9, 30, 30, "106"))

	snap := f.engine.Snapshot()
	assert.Nil(t, snap.ActiveTrade)
	assert.Equal(t, 0, snap.Risk.CEEntries)
	assert.Equal(t, 0, snap.Risk.TradeCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PriceFetchFailure.WithLabelValues("entry")))
	assert.Empty(t, f.journal.TradeEvents())
}

func TestEngine_HistoryFailureRetriesOnNextTick(t *testing.T) {
	ctx := context.Background()
	hist := &mockHistory{}
	hist.On("Candles", "NSE:NIFTY50-INDEX", "1", at(9, 15, 0), at(9, 22, 0)).
		Return(nil, errors.New("503 service unavailable")).Once()
	hist.On("Candles", "NSE:NIFTY50-INDEX", "1", at(9, 15, 0), at(9, 22, 0)).
		Return(rangeCandles(), nil).Once()

	m := metrics.New(prometheus.NewRegistry())
	e := New(testConfig(), Deps{History: hist, Prices: &fakePrices{}, Metrics: m})

	e.OnTick(ctx, tk(9, 25, 0, "95"))
	assert.False(t, e.Snapshot().LevelsReady)
	assert.False(t, e.Snapshot().SessionFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceFetchFailure.WithLabelValues("history")))

	e.OnTick(ctx, tk(9, 25, 1, "95"))
	assert.True(t, e.Snapshot().LevelsReady)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LevelsReady))

	e.OnTick(ctx, tk(9, 25, 2, "95"))
	hist.AssertExpectations(t)
	hist.AssertNumberOfCalls(t, "Candles", 2)
}

func TestEngine_EmptyWarmupWindowFailsSession(t *testing.T) {
	ctx := context.Background()
	hist := &mockHistory{}
	hist.On("Candles", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]indicator.Candle{{Time: at(9, 25, 0), Open: d("1"), High: d("1"), Low: d("1"), Close: d("1")}}, nil)

	prices := &fakePrices{ask: d("100")}
	e := New(testConfig(), Deps{History: hist, Prices: prices})

	e.OnTick(ctx, tk(9, 30, 0, "100"))
	e.OnTick(ctx, tk(9, 30, 1, "100"))
	e.OnTick(ctx, tk(9, 30, 2, "106"))

	snap := e.Snapshot()
	assert.True(t, snap.SessionFailed)
	assert.False(t, snap.LevelsReady)
	assert.Equal(t, 0, prices.entryCalls)
	hist.AssertNumberOfCalls(t, "Candles", 1)
}

// slowHistory holds the tick inside the history fetch until released.
type slowHistory struct {
	entered chan struct{}
	release chan struct{}
}

func (s *slowHistory) Candles(context.Context, string, string, time.Time, time.Time) ([]indicator.Candle, error) {
	close(s.entered)
	<-s.release
	return nil, nil
}

func TestEngine_SessionFailedDoesNotWaitForTick(t *testing.T) {
	hist := &slowHistory{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(testConfig(), Deps{History: hist, Prices: &fakePrices{}})

	tickDone := make(chan struct{})
	go func() {
		e.OnTick(context.Background(), tk(9, 30, 0, "100"))
		close(tickDone)
	}()
	<-hist.entered

	read := make(chan bool, 1)
	go func() { read <- e.SessionFailed() }()
	select {
	case failed := <-read:
		assert.False(t, failed)
	case <-time.After(2 * time.Second):
		t.Fatal("SessionFailed blocked behind an in-flight tick")
	}

	close(hist.release)
	<-tickDone
	assert.True(t, e.SessionFailed(), "an empty warm-up window fails the session")
	assert.True(t, e.Snapshot().SessionFailed)
}

// stallingJournal never finishes a levels write before its context ends.
type stallingJournal struct {
	*dbwriter.InMemWriter
	hadDeadline bool
}

func (j *stallingJournal) SaveLevels(ctx context.Context, _ dbwriter.LevelsRecord) error {
	_, j.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_LevelsJournalWriteIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 50 * time.Millisecond
	journal := &stallingJournal{InMemWriter: dbwriter.NewInMemWriter()}
	e := New(cfg, Deps{History: &fakeHistory{candles: rangeCandles()}, Prices: &fakePrices{}, Journal: journal})

	done := make(chan struct{})
	go func() {
		e.OnTick(context.Background(), tk(9, 30, 0, "100"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick stalled on the levels journal write")
	}
	assert.True(t, journal.hadDeadline)
	assert.True(t, e.Snapshot().LevelsReady, "levels are kept when journaling fails")
}

func TestEngine_WarmupGateIsStrict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	f.engine.OnTick(ctx, tk(9, 20, 0, "95"))
	f.engine.OnTick(ctx, tk(9, 22, 0, "95"))
	assert.Equal(t, 0, f.history.calls)
	assert.False(t, f.engine.Snapshot().LevelsReady)

	f.engine.OnTick(ctx, tk(9, 22, 1, "95"))
	assert.Equal(t, 1, f.history.calls)
	assert.True(t, f.engine.Snapshot().LevelsReady)
}

func TestEngine_IgnoresMalformedTicks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	good := tk(9, 30, 0, "100")
	wrongType, wrongKey, zeroPrice, noTime := good, good, good, good
	wrongType.MessageType = "tf"
	wrongKey.InstrumentKey = "26009"
	zeroPrice.Price = decimal.Zero
	noTime.Timestamp = time.Time{}

	for _, tick := range []Tick{wrongType, wrongKey, zeroPrice, noTime} {
		f.engine.OnTick(ctx, tick)
	}
	snap := f.engine.Snapshot()
	assert.Equal(t, int64(4), snap.TicksSeen)
	assert.True(t, snap.LastPrice.IsZero())
	assert.Equal(t, 0, f.history.calls)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.TicksTotal))
}

func TestEngine_HaltedSessionStillManagesOpenTrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.enterCE(t, ctx, 9, 30)

	f.engine.governor.RecordExit(d("-1300"), at(9, 20, 0))
	halted, _ := f.engine.governor.Halted()
	require.True(t, halted)

	f.prices.bid = d("98")
	f.engine.OnTick(ctx, tk(9, 35, 0, "96"))
	_, active := f.engine.lifecycle.ActiveTrade()
	assert.False(t, active, "the stop loss still fires while halted")
}

func TestEngine_FlattenWithoutPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	assert.Nil(t, f.engine.Flatten(ctx, ReasonSessionEnd, at(15, 20, 0)))

	f.enterCE(t, ctx, 9, 30)
	f.prices.bidErr = errors.New("market closed")

	res := f.engine.Flatten(ctx, ReasonSessionEnd, at(15, 20, 0).UTC())
	require.NotNil(t, res)
	assert.Nil(t, res.PnL)
	assert.False(t, res.OptionExit.Valid)
	assert.True(t, res.UnderlyingExit.Equal(d("106")))
	assert.True(t, res.DailyPnL.IsZero())
	assert.Equal(t, ist, res.Time.Location())

	snap := f.engine.Snapshot()
	assert.Nil(t, snap.ActiveTrade)
	assert.True(t, snap.Risk.HasExited)

	events := f.journal.TradeEvents()
	require.Len(t, events, 2)
	assert.Equal(t, ReasonSessionEnd, events[1].Reason)
	assert.Zero(t, events[1].NetPnL)
}

func TestEngine_FlattenAtBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.enterCE(t, ctx, 9, 30)
	f.prices.bid = d("110")

	res := f.engine.Flatten(ctx, ReasonSessionEnd, at(15, 20, 0))
	require.NotNil(t, res)
	require.NotNil(t, res.PnL)
	assert.True(t, res.PnL.Net.Equal(d("710.625")))
}

// TestEngine_RandomWalkKeepsRiskInvariants drives the engine with a seeded
// random walk and checks the journal for cap and re-entry violations.
func TestEngine_RandomWalkKeepsRiskInvariants(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Risk.MaxCEEntries, cfg.Risk.MaxPEEntries = 2, 2
	cfg.Risk.MaxDailyProfit, cfg.Risk.MaxDailyLoss = d("1000000"), d("-1000000")

	for seed := uint64(1); seed <= 5; seed++ {
		f := newFixture(t, cfg)
		rng := rand.New(rand.NewPCG(seed, seed*7))
		price := 95.0
		ts := at(9, 22, 1)
		for i := 0; i < 3000; i++ {
			price += rng.Float64()*3 - 1.5
			if price < 70 || price > 120 {
				price = 95
			}
			f.prices.bid = decimal.NewFromFloat(90 + rng.Float64()*20).Round(2)
			f.engine.OnTick(ctx, Tick{
				MessageType:   DepthMessageType,
				InstrumentKey: "26000",
				Price:         decimal.NewFromFloat(price).Round(2),
				Timestamp:     ts,
			})
			ts = ts.Add(time.Duration(1+rng.IntN(20)) * time.Second)
		}

		entries := map[string]int{}
		var lastExit time.Time
		open := false
		for _, ev := range f.journal.TradeEvents() {
			switch ev.Event {
			case dbwriter.EventEntry:
				assert.False(t, open, "seed %d: entry while a position is open", seed)
				open = true
				entries[ev.Side]++
				if !lastExit.IsZero() {
					assert.False(t, ev.Time.Truncate(time.Minute).Equal(lastExit.Truncate(time.Minute)),
						"seed %d: re-entry in exit minute %s", seed, lastExit.Format("15:04"))
				}
			case dbwriter.EventExit:
				assert.True(t, open, "seed %d: exit without a position", seed)
				open = false
				lastExit = ev.Time
			}
		}
		assert.LessOrEqual(t, entries["CE"], 2, "seed %d", seed)
		assert.LessOrEqual(t, entries["PE"], 2, "seed %d", seed)
	}
}
