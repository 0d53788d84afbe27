package dbwriter

import (
	"context"
	"sync"
)

// InMemWriter is an in-memory implementation of the Repository interface for testing.
type InMemWriter struct {
	mu       sync.RWMutex
	Levels   []LevelsRecord
	Events   []TradeEvent
	IsClosed bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{
		Levels: make([]LevelsRecord, 0),
		Events: make([]TradeEvent, 0),
	}
}

// SaveLevels appends the levels to the in-memory slice.
func (w *InMemWriter) SaveLevels(ctx context.Context, levels LevelsRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Levels = append(w.Levels, levels)
	return nil
}

// SaveTradeEvent appends a trade event to the in-memory slice.
func (w *InMemWriter) SaveTradeEvent(event TradeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Events = append(w.Events, event)
}

// TradeEvents returns a copy of the recorded trade events.
func (w *InMemWriter) TradeEvents() []TradeEvent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]TradeEvent, len(w.Events))
	copy(out, w.Events)
	return out
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// Clear resets all the in-memory slices.
func (w *InMemWriter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Levels = make([]LevelsRecord, 0)
	w.Events = make([]TradeEvent, 0)
	w.IsClosed = false
}
