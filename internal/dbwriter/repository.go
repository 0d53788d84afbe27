package dbwriter

import (
	"context"
	"time"
)

// Event types of a TradeEvent.
const (
	EventEntry = "ENTRY"
	EventExit  = "EXIT"
)

// LevelsRecord はセッションのORBレベルです。
type LevelsRecord struct {
	Time            time.Time `db:"time"`
	Symbol          string    `db:"symbol"`
	HighMain        float64   `db:"high_main"`
	LowMain         float64   `db:"low_main"`
	HighUpperBuffer float64   `db:"high_upper_buffer"`
	HighLowerBuffer float64   `db:"high_lower_buffer"`
	LowUpperBuffer  float64   `db:"low_upper_buffer"`
	LowLowerBuffer  float64   `db:"low_lower_buffer"`
	BufferPoints    float64   `db:"buffer_points"`
	CandleCount     int       `db:"candle_count"`
}

// TradeEvent はエントリーまたはエグジットの記録です。
type TradeEvent struct {
	Time            time.Time `db:"time"`
	TradeID         string    `db:"trade_id"`
	Event           string    `db:"event"` // ENTRY or EXIT
	Side            string    `db:"side"`  // CE or PE
	OriginLine      string    `db:"origin_line"`
	OptionSymbol    string    `db:"option_symbol"`
	Strike          float64   `db:"strike"`
	UnderlyingPrice float64   `db:"underlying_price"`
	OptionPrice     float64   `db:"option_price"`
	StopLoss        float64   `db:"stop_loss"`
	Commission      float64   `db:"commission"`
	NetPnL          float64   `db:"net_pnl"`
	DailyPnL        float64   `db:"daily_pnl"`
	Reason          string    `db:"reason"`
}

// Repository is the write-only journal of ORB levels and trade events.
// Implementations must not block the tick path for long.
type Repository interface {
	// SaveLevels writes the session's computed levels.
	SaveLevels(ctx context.Context, levels LevelsRecord) error

	// SaveTradeEvent adds a trade event to the buffer.
	SaveTradeEvent(event TradeEvent)

	// Close flushes any buffered data and releases resources.
	Close()
}
