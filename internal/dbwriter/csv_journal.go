package dbwriter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/orb-options-bot/internal/csvwriter"
)

var csvHeader = append([]string{"record"}, tradeEventColumns...)

// CSVJournal writes levels and trade events to a single CSV file.
// Levels rows use the record type "LEVELS".
type CSVJournal struct {
	w      *csvwriter.Writer
	logger *zap.Logger
}

// NewCSVJournal opens or creates the CSV journal at path.
func NewCSVJournal(path string, logger *zap.Logger) (*CSVJournal, error) {
	w, err := csvwriter.NewWriter(path, csvHeader, logger)
	if err != nil {
		return nil, err
	}
	return &CSVJournal{w: w, logger: logger}, nil
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SaveLevels writes one LEVELS row with the levels summarised in the reason column.
func (j *CSVJournal) SaveLevels(ctx context.Context, l LevelsRecord) error {
	summary := fmt.Sprintf("high=%s low=%s high_buffers=%s/%s low_buffers=%s/%s buffer=%s candles=%d",
		ff(l.HighMain), ff(l.LowMain), ff(l.HighUpperBuffer), ff(l.HighLowerBuffer),
		ff(l.LowUpperBuffer), ff(l.LowLowerBuffer), ff(l.BufferPoints), l.CandleCount)
	record := []string{
		"LEVELS", l.Time.Format(time.RFC3339), "", "", "", "", l.Symbol, "",
		"", "", "", "", "", "", summary,
	}
	if err := j.w.Write(record); err != nil {
		return err
	}
	j.w.Flush()
	return nil
}

// SaveTradeEvent writes one trade event row and flushes it.
func (j *CSVJournal) SaveTradeEvent(e TradeEvent) {
	record := []string{
		"TRADE", e.Time.Format(time.RFC3339), e.TradeID, e.Event, e.Side, e.OriginLine, e.OptionSymbol, ff(e.Strike),
		ff(e.UnderlyingPrice), ff(e.OptionPrice), ff(e.StopLoss), ff(e.Commission), ff(e.NetPnL), ff(e.DailyPnL), e.Reason,
	}
	if err := j.w.Write(record); err != nil {
		j.logger.Error("Failed to write trade event to CSV", zap.Error(err), zap.String("tradeId", e.TradeID))
		return
	}
	j.w.Flush()
}

// Close flushes and closes the file.
func (j *CSVJournal) Close() {
	if err := j.w.Close(); err != nil {
		j.logger.Error("Failed to close CSV journal", zap.Error(err))
	}
}

// multiRepository fans every write out to several journals.
type multiRepository []Repository

// NewMulti returns a Repository writing to all of repos. SaveLevels returns the first error.
func NewMulti(repos ...Repository) Repository {
	return multiRepository(repos)
}

func (m multiRepository) SaveLevels(ctx context.Context, levels LevelsRecord) error {
	var first error
	for _, r := range m {
		if err := r.SaveLevels(ctx, levels); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiRepository) SaveTradeEvent(event TradeEvent) {
	for _, r := range m {
		r.SaveTradeEvent(event)
	}
}

func (m multiRepository) Close() {
	for _, r := range m {
		r.Close()
	}
}
