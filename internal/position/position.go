// Package position holds the single option position of a session as a tagged state.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/orb-options-bot/internal/signal"
)

// ErrPositionOpen is returned when opening a trade while another is active.
var ErrPositionOpen = errors.New("a position is already open")

// ActiveTrade holds an open long option position.
type ActiveTrade struct {
	ID                   string          `json:"id"`
	Side                 signal.Side     `json:"side"`
	OriginLine           signal.Line     `json:"origin_line"`
	UnderlyingEntryPrice decimal.Decimal `json:"underlying_entry_price"`
	OptionEntryPrice     decimal.Decimal `json:"option_entry_price"`
	Strike               decimal.Decimal `json:"strike"`
	OptionSymbol         string          `json:"option_symbol"`
	StopLoss             decimal.Decimal `json:"stop_loss"`
	TrailingAdjusted     bool            `json:"trailing_adjusted"`
	EntryTime            time.Time       `json:"entry_time"`
	LastOptionPrice      decimal.Decimal `json:"last_option_price"`
}

// String returns a string representation of the trade.
func (t ActiveTrade) String() string {
	return fmt.Sprintf("Trade{%s %s from %s, entry: %s, stop: %s}", t.Side, t.OptionSymbol, t.OriginLine, t.OptionEntryPrice, t.StopLoss)
}

// State is either Flat or Active.
type State interface {
	isState()
}

// Flat means no position is held.
type Flat struct{}

// Active carries the open trade.
type Active struct {
	Trade ActiveTrade
}

func (Flat) isState()   {}
func (Active) isState() {}

// Book holds zero or one active trade.
type Book struct {
	state State
	mutex sync.RWMutex
}

// NewBook creates a Flat book.
func NewBook() *Book {
	return &Book{state: Flat{}}
}

// State returns the current state. The returned Active carries a copy of the trade.
func (b *Book) State() State {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state
}

// Active returns a copy of the open trade, or false when Flat.
func (b *Book) Active() (ActiveTrade, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if a, ok := b.state.(Active); ok {
		return a.Trade, true
	}
	return ActiveTrade{}, false
}

// Open transitions Flat to Active.
func (b *Book) Open(trade ActiveTrade) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if a, ok := b.state.(Active); ok {
		return fmt.Errorf("%w: %s", ErrPositionOpen, a.Trade.ID)
	}
	b.state = Active{Trade: trade}
	return nil
}

// Update applies fn to the open trade. It is a no-op when Flat.
func (b *Book) Update(fn func(*ActiveTrade)) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	a, ok := b.state.(Active)
	if !ok {
		return false
	}
	fn(&a.Trade)
	b.state = a
	return true
}

// Close transitions Active to Flat and returns the closed trade, or false when already Flat.
func (b *Book) Close() (ActiveTrade, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	a, ok := b.state.(Active)
	if !ok {
		return ActiveTrade{}, false
	}
	b.state = Flat{}
	return a.Trade, true
}
