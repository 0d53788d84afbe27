package dbwriter

import (
	"context"

	"github.com/your-org/orb-options-bot/pkg/logger"
)

// dummyWriter is a no-op implementation of the Repository interface.
// It is used when no journal is configured.
type dummyWriter struct {
	logger logger.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l logger.Logger) Repository {
	l.Info("Creating dummy journal writer because no journal is configured.")
	return &dummyWriter{logger: l}
}

// SaveLevels does nothing and returns nil.
func (d *dummyWriter) SaveLevels(ctx context.Context, levels LevelsRecord) error {
	d.logger.Debugf("Dummy writer: SaveLevels called %+v", levels)
	return nil
}

// SaveTradeEvent does nothing.
func (d *dummyWriter) SaveTradeEvent(event TradeEvent) {
	// No-op
}

// Close does nothing.
func (d *dummyWriter) Close() {
	d.logger.Debug("Dummy writer: Close called")
}
