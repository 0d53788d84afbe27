package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/your-org/orb-options-bot/internal/alert"
	"github.com/your-org/orb-options-bot/internal/dbwriter"
	"github.com/your-org/orb-options-bot/internal/indicator"
	"github.com/your-org/orb-options-bot/internal/metrics"
	"github.com/your-org/orb-options-bot/internal/pnl"
	"github.com/your-org/orb-options-bot/internal/position"
	"github.com/your-org/orb-options-bot/internal/pricing"
	"github.com/your-org/orb-options-bot/internal/risk"
	"github.com/your-org/orb-options-bot/internal/signal"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

// Exit reasons.
const (
	ReasonTakeProfit = "Take Profit"
	ReasonStopLoss   = "Stop Loss Hit"
	ReasonSessionEnd = "Session End"
)

// PriceFetcher reads option prices for entries and exits.
type PriceFetcher interface {
	EntryPrice(ctx context.Context, side signal.Side, underlying decimal.Decimal) (pricing.Selection, error)
	ExitPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LifecycleConfig holds the in-trade parameters.
type LifecycleConfig struct {
	LotSize          int
	CommissionRate   decimal.Decimal
	ProfitTarget     decimal.Decimal // net of commission, currency
	PriceMoveTrigger decimal.Decimal // option points gained before the stop is trailed
	StopOffset       decimal.Decimal // option points from entry
}

// ExitResult describes a closed trade.
type ExitResult struct {
	Trade          position.ActiveTrade
	Reason         string
	UnderlyingExit decimal.Decimal
	OptionExit     decimal.NullDecimal
	PnL            *pnl.Breakdown // nil when the exit had no option price
	DailyPnL       decimal.Decimal
	Time           time.Time
}

// TradeLifecycle owns the single position: entry, trailing stop, profit target and exit.
type TradeLifecycle struct {
	cfg      LifecycleConfig
	governor *risk.Governor
	book     *position.Book
	prices   PriceFetcher
	exec     ExecutionEngine
	calc     *pnl.Calculator
	journal  dbwriter.Repository
	notifier alert.Notifier
	metrics  *metrics.Metrics
	newID    func() string
}

// NewTradeLifecycle creates a TradeLifecycle in the Flat state.
func NewTradeLifecycle(cfg LifecycleConfig, governor *risk.Governor, prices PriceFetcher, exec ExecutionEngine,
	journal dbwriter.Repository, notifier alert.Notifier, m *metrics.Metrics) *TradeLifecycle {
	if exec == nil {
		exec = NewPaperExecutionEngine()
	}
	if journal == nil {
		journal = dbwriter.NewInMemWriter()
	}
	if notifier == nil {
		notifier = alert.NewNoOpNotifier()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &TradeLifecycle{
		cfg:      cfg,
		governor: governor,
		book:     position.NewBook(),
		prices:   prices,
		exec:     exec,
		calc:     pnl.NewCalculator(cfg.LotSize, cfg.CommissionRate),
		journal:  journal,
		notifier: notifier,
		metrics:  m,
		newID:    uuid.NewString,
	}
}

// State returns Flat or Active.
func (l *TradeLifecycle) State() position.State {
	return l.book.State()
}

// ActiveTrade returns a copy of the open trade, or false when Flat.
func (l *TradeLifecycle) ActiveTrade() (position.ActiveTrade, bool) {
	return l.book.Active()
}

// Enter opens a position for sig if the governor allows it and an entry price is available.
// The per-side entry counter is only incremented once the position is open.
func (l *TradeLifecycle) Enter(ctx context.Context, sig signal.Signal, levels indicator.ORBLevels) (*position.ActiveTrade, error) {
	clock := sig.Time.Format("15:04:05")

	if _, active := l.book.Active(); active {
		return nil, position.ErrPositionOpen
	}

	if err := l.governor.CanEnter(sig.Side, sig.Time); err != nil {
		logger.Warnf("%s - TRADE REJECTED - %s %s: %v", clock, sig.Side, sig.Line, err)
		l.metrics.EntriesRejected.WithLabelValues(rejectionLabel(err)).Inc()
		return nil, err
	}

	sel, err := l.prices.EntryPrice(ctx, sig.Side, sig.Price)
	if err != nil {
		logger.Warnf("%s - Cannot enter trade - option details not available: %v", clock, err)
		l.metrics.PriceFetchFailure.WithLabelValues("entry").Inc()
		l.metrics.EntriesRejected.WithLabelValues("price_unavailable").Inc()
		return nil, fmt.Errorf("entry price: %w", err)
	}

	fill, err := l.exec.PlaceOrder(ctx, OrderRequest{
		Symbol:   sel.Symbol,
		Side:     sig.Side,
		Action:   ActionBuy,
		Quantity: l.cfg.LotSize,
		Price:    sel.Price,
		Time:     sig.Time,
	})
	if err != nil {
		logger.Errorf("%s - Entry order for %s failed: %v", clock, sel.Symbol, err)
		l.metrics.EntriesRejected.WithLabelValues("order_failed").Inc()
		return nil, fmt.Errorf("entry order: %w", err)
	}

	trade := position.ActiveTrade{
		ID:                   l.newID(),
		Side:                 sig.Side,
		OriginLine:           sig.Line,
		UnderlyingEntryPrice: sig.Price,
		OptionEntryPrice:     fill.FillPrice,
		Strike:               sel.Strike,
		OptionSymbol:         sel.Symbol,
		StopLoss:             fill.FillPrice.Sub(l.cfg.StopOffset),
		EntryTime:            sig.Time,
		LastOptionPrice:      fill.FillPrice,
	}
	if err := l.book.Open(trade); err != nil {
		return nil, err
	}
	l.governor.RecordEntry(sig.Side)

	l.logEntry(trade, levels)
	l.metrics.Entries.WithLabelValues(string(sig.Side)).Inc()
	l.metrics.PositionOpen.Set(1)
	l.journal.SaveTradeEvent(dbwriter.TradeEvent{
		Time:            sig.Time,
		TradeID:         trade.ID,
		Event:           dbwriter.EventEntry,
		Side:            string(trade.Side),
		OriginLine:      string(trade.OriginLine),
		OptionSymbol:    trade.OptionSymbol,
		Strike:          trade.Strike.InexactFloat64(),
		UnderlyingPrice: trade.UnderlyingEntryPrice.InexactFloat64(),
		OptionPrice:     trade.OptionEntryPrice.InexactFloat64(),
		StopLoss:        trade.StopLoss.InexactFloat64(),
		DailyPnL:        l.governor.State().DailyPnL.InexactFloat64(),
	})
	l.notify(fmt.Sprintf("ENTRY %s %s at %s (from %s line), stop %s", trade.Side, trade.OptionSymbol, trade.OptionEntryPrice, trade.OriginLine, trade.StopLoss))
	return &trade, nil
}

// Manage re-prices the open trade and applies the exit rules in order:
// profit target, one-time trailing stop, stop loss. A failed price read leaves
// the position open. It returns the exit result when the trade was closed.
func (l *TradeLifecycle) Manage(ctx context.Context, underlying decimal.Decimal, t time.Time) *ExitResult {
	trade, ok := l.book.Active()
	if !ok {
		return nil
	}
	clock := t.Format("15:04:05")

	bid, err := l.prices.ExitPrice(ctx, trade.OptionSymbol)
	if err != nil {
		logger.Warnf("%s - Exit price for %s unavailable, keeping position: %v", clock, trade.OptionSymbol, err)
		l.metrics.PriceFetchFailure.WithLabelValues("exit").Inc()
		return nil
	}
	l.book.Update(func(at *position.ActiveTrade) { at.LastOptionPrice = bid })

	breakdown := l.calc.Compute(trade.OptionEntryPrice, bid)
	if breakdown.Net.GreaterThanOrEqual(l.cfg.ProfitTarget) {
		return l.Exit(ctx, ReasonTakeProfit, underlying, decimal.NewNullDecimal(bid), t)
	}

	stop := trade.StopLoss
	if !trade.TrailingAdjusted && breakdown.PointDiff.GreaterThanOrEqual(l.cfg.PriceMoveTrigger) {
		stop = trade.OptionEntryPrice.Add(l.cfg.StopOffset)
		l.book.Update(func(at *position.ActiveTrade) {
			at.StopLoss = stop
			at.TrailingAdjusted = true
		})
		logger.Infof("%s >>> STOP LOSS ADJUSTED: Option price gained %s points, new stop loss set at: %s", clock, breakdown.PointDiff, stop)
	}

	if bid.LessThanOrEqual(stop) {
		return l.Exit(ctx, ReasonStopLoss, underlying, decimal.NewNullDecimal(bid), t)
	}
	return nil
}

// Exit closes the open trade. optionExit may be invalid when no option price is
// available, in which case no PnL is booked but the exit minute is still recorded.
// It is a no-op returning nil when Flat.
func (l *TradeLifecycle) Exit(ctx context.Context, reason string, underlying decimal.Decimal, optionExit decimal.NullDecimal, t time.Time) *ExitResult {
	trade, ok := l.book.Active()
	if !ok {
		return nil
	}

	res := &ExitResult{Reason: reason, UnderlyingExit: underlying, OptionExit: optionExit, Time: t}
	net := decimal.Zero
	if optionExit.Valid {
		fill, err := l.exec.PlaceOrder(ctx, OrderRequest{
			Symbol:   trade.OptionSymbol,
			Side:     trade.Side,
			Action:   ActionSell,
			Quantity: l.cfg.LotSize,
			Price:    optionExit.Decimal,
			Time:     t,
		})
		if err != nil {
			logger.Errorf("%s - Exit order for %s failed, position stays open: %v", t.Format("15:04:05"), trade.OptionSymbol, err)
			return nil
		}
		res.OptionExit = decimal.NewNullDecimal(fill.FillPrice)
		b := l.calc.Compute(trade.OptionEntryPrice, fill.FillPrice)
		res.PnL = &b
		net = b.Net
	}

	closed, ok := l.book.Close()
	if !ok {
		return nil
	}
	if res.OptionExit.Valid {
		closed.LastOptionPrice = res.OptionExit.Decimal
	}
	res.Trade = closed

	l.governor.RecordExit(net, t)
	res.DailyPnL = l.governor.State().DailyPnL

	l.logExit(res)
	l.metrics.Exits.WithLabelValues(reason).Inc()
	l.metrics.PositionOpen.Set(0)
	l.metrics.DailyPnL.Set(res.DailyPnL.InexactFloat64())

	event := dbwriter.TradeEvent{
		Time:            t,
		TradeID:         closed.ID,
		Event:           dbwriter.EventExit,
		Side:            string(closed.Side),
		OriginLine:      string(closed.OriginLine),
		OptionSymbol:    closed.OptionSymbol,
		Strike:          closed.Strike.InexactFloat64(),
		UnderlyingPrice: underlying.InexactFloat64(),
		OptionPrice:     res.OptionExit.Decimal.InexactFloat64(),
		StopLoss:        closed.StopLoss.InexactFloat64(),
		DailyPnL:        res.DailyPnL.InexactFloat64(),
		Reason:          reason,
	}
	if res.PnL != nil {
		event.Commission = res.PnL.Commission.InexactFloat64()
		event.NetPnL = res.PnL.Net.InexactFloat64()
	}
	l.journal.SaveTradeEvent(event)

	msg := fmt.Sprintf("EXIT %s %s: %s, daily PnL %s", closed.Side, closed.OptionSymbol, reason, res.DailyPnL.StringFixed(2))
	if res.PnL != nil {
		msg = fmt.Sprintf("EXIT %s %s at %s: %s, net %s, daily PnL %s", closed.Side, closed.OptionSymbol, res.OptionExit.Decimal, reason, res.PnL.Net.StringFixed(2), res.DailyPnL.StringFixed(2))
	}
	l.notify(msg)

	if halted, why := l.governor.Halted(); halted {
		logger.Warnf("DAILY LIMIT REACHED (%s) - No more trades today", why)
		l.notify("Daily limit reached: " + why)
	}
	return res
}

func (l *TradeLifecycle) logEntry(trade position.ActiveTrade, levels indicator.ORBLevels) {
	line := levels.HighMain
	if trade.OriginLine == signal.LineLow {
		line = levels.LowMain
	}
	st := l.governor.State()
	lim := l.governor.Limits()
	used, limit := st.CEEntries, lim.MaxCEEntries
	if trade.Side == signal.SidePE {
		used, limit = st.PEEntries, lim.MaxPEEntries
	}
	logger.Infof(">>> TRADE ENTRY: %s at %s Main Line (%s)", trade.Side, trade.OriginLine, line)
	logger.Infof("    Underlying Price: %s", trade.UnderlyingEntryPrice)
	logger.Infof("    Option Strike: %s", trade.Strike)
	logger.Infof("    Option Symbol: %s", trade.OptionSymbol)
	logger.Infof("    Option Entry Price: %s", trade.OptionEntryPrice)
	logger.Infof("    Initial Option Stop Loss: %s", trade.StopLoss)
	logger.Infof("    Time: %s", trade.EntryTime.Format("15:04:05"))
	logger.Infof("    Trade count for today: %d", st.TradeCount)
	logger.Infof("    %s entries used: %d/%d", trade.Side, used, limit)
}

func (l *TradeLifecycle) logExit(res *ExitResult) {
	trade := res.Trade
	st := l.governor.State()
	lim := l.governor.Limits()
	used, limit := st.CEEntries, lim.MaxCEEntries
	if trade.Side == signal.SidePE {
		used, limit = st.PEEntries, lim.MaxPEEntries
	}
	logger.Infof("<<< TRADE EXIT: %s", res.Reason)
	logger.Infof("    Option Type: %s", trade.Side)
	logger.Infof("    Option Strike: %s", trade.Strike)
	logger.Infof("    Option Symbol: %s", trade.OptionSymbol)
	logger.Infof("    Entry Underlying Price: %s", trade.UnderlyingEntryPrice)
	logger.Infof("    Exit Underlying Price: %s", res.UnderlyingExit)
	logger.Infof("    Entry Option Price: %s", trade.OptionEntryPrice)
	if res.PnL != nil {
		logger.Infof("    Exit Option Price: %s", res.OptionExit.Decimal)
		logger.Infof("    Option Profit (after commission): %s", res.PnL.Net.StringFixed(2))
		logger.Infof("    Commission charged: %s", res.PnL.Commission.StringFixed(2))
	} else {
		logger.Infof("    Option Exit Price: Not available")
		logger.Infof("    Underlying Movement: %s points", res.UnderlyingExit.Sub(trade.UnderlyingEntryPrice).Abs().StringFixed(2))
	}
	logger.Infof("    Current Daily P&L: %s", res.DailyPnL.StringFixed(2))
	logger.Infof("    Entry Time: %s", trade.EntryTime.Format("15:04:05"))
	logger.Infof("    Exit Time: %s", res.Time.Format("15:04:05"))
	logger.Infof("    No new trades until after %s", st.LastExitMinute.Format("15:04"))
	logger.Infof("    %s entries used: %d/%d", trade.Side, used, limit)
}

func (l *TradeLifecycle) notify(msg string) {
	if err := l.notifier.Send(msg); err != nil {
		logger.Warnf("Failed to queue alert: %v", err)
	}
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, risk.ErrEntryCapReached):
		return "entry_cap"
	case errors.Is(err, risk.ErrSameMinuteReentry):
		return "same_minute"
	case errors.Is(err, risk.ErrDailyLimitReached):
		return "daily_limit"
	default:
		return "other"
	}
}
