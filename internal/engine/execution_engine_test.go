package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/orb-options-bot/internal/signal"
)

func TestPaperExecutionEngine_PlaceOrder(t *testing.T) {
	e := NewPaperExecutionEngine()
	at := time.Date(2025, 5, 15, 9, 31, 0, 0, time.UTC)

	res, err := e.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "NSE:NIFTY2551522500CE", Side: signal.SideCE, Action: ActionBuy,
		Quantity: 75, Price: decimal.NewFromInt(100), Time: at,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(res.OrderID)
	assert.NoError(t, err, "order IDs are UUIDs")
	assert.True(t, res.FillPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, at, res.FilledAt)

	res2, err := e.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "NSE:NIFTY2551522500CE", Side: signal.SideCE, Action: ActionSell,
		Quantity: 75, Price: decimal.NewFromInt(110), Time: at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.NotEqual(t, res.OrderID, res2.OrderID)
	assert.Len(t, e.Fills(), 2)
}

func TestPaperExecutionEngine_RejectsInvalidOrders(t *testing.T) {
	e := NewPaperExecutionEngine()
	_, err := e.PlaceOrder(context.Background(), OrderRequest{Symbol: "X", Quantity: 0, Price: decimal.NewFromInt(1)})
	assert.Error(t, err)
	_, err = e.PlaceOrder(context.Background(), OrderRequest{Symbol: "X", Quantity: 75, Price: decimal.Zero})
	assert.Error(t, err)
	assert.Empty(t, e.Fills())
}
