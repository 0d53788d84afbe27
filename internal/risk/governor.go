// Package risk enforces the session risk budget: per-side entry caps,
// same-minute re-entry and the daily profit/loss caps.
package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/orb-options-bot/internal/signal"
)

var (
	// ErrEntryCapReached is returned when the side has used all of its entries for the session.
	ErrEntryCapReached = errors.New("entry cap reached")
	// ErrSameMinuteReentry is returned when an entry falls in the minute of the last exit.
	ErrSameMinuteReentry = errors.New("re-entry in the minute of the last exit")
	// ErrDailyLimitReached is returned once daily PnL has left [MaxDailyLoss, MaxDailyProfit].
	ErrDailyLimitReached = errors.New("daily pnl limit reached")
)

// Limits is the session risk budget.
type Limits struct {
	MaxDailyProfit decimal.Decimal
	MaxDailyLoss   decimal.Decimal // negative
	MaxCEEntries   int
	MaxPEEntries   int
}

// State is a snapshot of the governor's counters.
type State struct {
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	CEEntries      int             `json:"ce_entries"`
	PEEntries      int             `json:"pe_entries"`
	TradeCount     int             `json:"trade_count"`
	LastExitMinute time.Time       `json:"last_exit_minute"`
	HasExited      bool            `json:"has_exited"`
}

// Governor gates entries and accumulates realised PnL for one session.
type Governor struct {
	limits Limits
	state  State
	mutex  sync.RWMutex
}

// NewGovernor creates a Governor at session-start state.
func NewGovernor(limits Limits) *Governor {
	return &Governor{limits: limits}
}

// Limits returns the configured limits.
func (g *Governor) Limits() Limits {
	return g.limits
}

// CanEnter reports whether an entry on side at t is allowed. Rejections are
// checked in order: entry cap, same-minute re-entry, daily limit.
func (g *Governor) CanEnter(side signal.Side, t time.Time) error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	switch side {
	case signal.SideCE:
		if g.state.CEEntries >= g.limits.MaxCEEntries {
			return fmt.Errorf("%w: CE %d/%d", ErrEntryCapReached, g.state.CEEntries, g.limits.MaxCEEntries)
		}
	case signal.SidePE:
		if g.state.PEEntries >= g.limits.MaxPEEntries {
			return fmt.Errorf("%w: PE %d/%d", ErrEntryCapReached, g.state.PEEntries, g.limits.MaxPEEntries)
		}
	default:
		return fmt.Errorf("unknown side %q", side)
	}

	if g.state.HasExited && g.state.LastExitMinute.Equal(t.Truncate(time.Minute)) {
		return fmt.Errorf("%w: %s", ErrSameMinuteReentry, g.state.LastExitMinute.Format("15:04"))
	}

	if halted, reason := g.haltedLocked(); halted {
		return fmt.Errorf("%w: %s", ErrDailyLimitReached, reason)
	}
	return nil
}

// RecordEntry increments the per-side counter for an opened position.
func (g *Governor) RecordEntry(side signal.Side) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if side == signal.SideCE {
		g.state.CEEntries++
	} else {
		g.state.PEEntries++
	}
	g.state.TradeCount++
}

// RecordExit adds the trade's net PnL to the daily total and remembers the exit minute.
func (g *Governor) RecordExit(pnl decimal.Decimal, t time.Time) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.state.DailyPnL = g.state.DailyPnL.Add(pnl)
	g.state.LastExitMinute = t.Truncate(time.Minute)
	g.state.HasExited = true
}

// Halted reports whether daily PnL has left the allowed band, with a reason for logging.
func (g *Governor) Halted() (bool, string) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.haltedLocked()
}

func (g *Governor) haltedLocked() (bool, string) {
	if g.state.DailyPnL.GreaterThanOrEqual(g.limits.MaxDailyProfit) {
		return true, fmt.Sprintf("daily profit %s reached cap %s", g.state.DailyPnL.StringFixed(2), g.limits.MaxDailyProfit)
	}
	if g.state.DailyPnL.LessThanOrEqual(g.limits.MaxDailyLoss) {
		return true, fmt.Sprintf("daily loss %s reached cap %s", g.state.DailyPnL.StringFixed(2), g.limits.MaxDailyLoss)
	}
	return false, ""
}

// State returns a copy of the counters.
func (g *Governor) State() State {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.state
}

// Reset restores session-start state.
func (g *Governor) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.state = State{}
}
