package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/your-org/orb-options-bot/internal/signal"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

// OrderAction is the direction of an option order. Positions are always long premium.
type OrderAction string

const (
	// ActionBuy opens a position.
	ActionBuy OrderAction = "BUY"
	// ActionSell closes a position.
	ActionSell OrderAction = "SELL"
)

// OrderRequest is a market order for one lot of an option contract at a quoted price.
type OrderRequest struct {
	Symbol   string
	Side     signal.Side
	Action   OrderAction
	Quantity int
	Price    decimal.Decimal
	Time     time.Time
}

// OrderResult is the fill reported for an order.
type OrderResult struct {
	OrderID   string
	FillPrice decimal.Decimal
	FilledAt  time.Time
}

// ExecutionEngine defines the interface for order execution.
type ExecutionEngine interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// PaperExecutionEngine fills every order immediately at the quoted price.
type PaperExecutionEngine struct {
	mutex sync.Mutex
	fills []OrderResult
}

// NewPaperExecutionEngine creates a new PaperExecutionEngine.
func NewPaperExecutionEngine() *PaperExecutionEngine {
	return &PaperExecutionEngine{}
}

// PlaceOrder simulates placing an order.
func (e *PaperExecutionEngine) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper order for %s: quantity must be positive, got %d", req.Symbol, req.Quantity)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("paper order for %s: price must be positive, got %s", req.Symbol, req.Price)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate paper order ID: %w", err)
	}
	res := OrderResult{OrderID: id.String(), FillPrice: req.Price, FilledAt: req.Time}

	e.mutex.Lock()
	e.fills = append(e.fills, res)
	e.mutex.Unlock()

	logger.Infof("[Paper] %s %d x %s (%s) filled at %s, order %s", req.Action, req.Quantity, req.Symbol, req.Side, req.Price, res.OrderID)
	return &res, nil
}

// Fills returns a copy of all simulated fills.
func (e *PaperExecutionEngine) Fills() []OrderResult {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	out := make([]OrderResult, len(e.fills))
	copy(out, e.fills)
	return out
}
