package executor_test

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/exchange"
	"tradelink/pkg/exchange/sim"
	"tradelink/pkg/executor"
	"tradelink/pkg/journal"
	"tradelink/pkg/risk"
)

const btcPerp = "BTC/USDT:USDT"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func simExecutor(t *testing.T) (*sim.Venue, *exchange.Adapter, *executor.Executor, string) {
	t.Helper()
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, dec("50000")))
	cred := exchange.NewCredential("sim", "paper-1", "key-123456", "secret-abcdef", "", true)
	adapter := exchange.NewAdapter(venue, cred, exchange.WithDefaultSegment(exchange.SegmentFutures))
	require.NoError(t, adapter.Connect(context.Background()))

	dir := t.TempDir()
	w, err := journal.NewWriter(dir)
	require.NoError(t, err)
	e, err := executor.New(adapter, executor.WithRecorder(w))
	require.NoError(t, err)
	return venue, adapter, e, dir
}

func TestSimBracketStopLossCloses(t *testing.T) {
	venue, adapter, e, dir := simExecutor(t)
	ctx := context.Background()

	entry, err := exchange.MarketOrder(btcPerp, exchange.SideBuy, dec("0.1"), exchange.WithSegment(exchange.SegmentFutures))
	require.NoError(t, err)
	res, err := e.PlaceBracket(ctx, executor.BracketSpec{
		Entry:      entry,
		StopLoss:   executor.StopLossSpec{Trigger: dec("49000")},
		TakeProfit: executor.TakeProfitSpec{Price: dec("52000")},
	})
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, exchange.StatusFilled, res.Entry.Status)

	open, err := adapter.GetOpenOrders(ctx, btcPerp)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	require.NoError(t, venue.SetMarkPrice(btcPerp, dec("48900")))
	positions, err := adapter.GetPositions(ctx, btcPerp)
	require.NoError(t, err)
	for _, p := range positions {
		assert.True(t, p.Size.IsZero(), "position closed by stop-loss")
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSimBracketRejectedStopKeepsTakeProfit(t *testing.T) {
	_, adapter, e, _ := simExecutor(t)
	ctx := context.Background()

	entry, err := exchange.LimitOrder(btcPerp, exchange.SideBuy, dec("0.1"), dec("50500"), exchange.WithSegment(exchange.SegmentFutures))
	require.NoError(t, err)
	// The reference is the entry limit, but the limit fills at the 50000
	// mark, so a 50200 stop would be above the fill.
	res, err := e.PlaceBracket(ctx, executor.BracketSpec{
		Entry:      entry,
		StopLoss:   executor.StopLossSpec{Trigger: dec("50200")},
		TakeProfit: executor.TakeProfitSpec{Price: dec("52000")},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotNil(t, res.Entry)
	assert.NotNil(t, res.TakeProfit)
	assert.Nil(t, res.StopLoss)

	open, err := adapter.GetOpenOrders(ctx, btcPerp)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSimReplaceStopLoss(t *testing.T) {
	_, adapter, e, _ := simExecutor(t)
	ctx := context.Background()

	entry, err := exchange.MarketOrder(btcPerp, exchange.SideBuy, dec("0.1"), exchange.WithSegment(exchange.SegmentFutures))
	require.NoError(t, err)
	_, err = e.PlaceBracket(ctx, executor.BracketSpec{
		Entry:      entry,
		StopLoss:   executor.StopLossSpec{Trigger: dec("49000")},
		TakeProfit: executor.TakeProfitSpec{Price: dec("52000")},
	})
	require.NoError(t, err)

	res, err := e.SetStopLoss(ctx, btcPerp, dec("49500"))
	require.NoError(t, err)
	assert.Len(t, res.CancelledIDs, 1)

	open, err := adapter.GetOpenOrders(ctx, btcPerp)
	require.NoError(t, err)
	require.Len(t, open, 2)
	var triggers []string
	for _, o := range open {
		if o.Kind.Triggered() {
			triggers = append(triggers, o.TriggerPrice.String())
		}
	}
	assert.Equal(t, []string{"49500"}, triggers)
}

func TestSimRiskManagedOrder(t *testing.T) {
	_, adapter, e, _ := simExecutor(t)
	ctx := context.Background()
	policy := risk.Policy{MaxPositionSize: dec("0.01")}

	intent, err := exchange.MarketOrder(btcPerp, exchange.SideBuy, dec("0.05"), exchange.WithSegment(exchange.SegmentFutures))
	require.NoError(t, err)
	res, err := e.PlaceOrderWithRiskManagement(ctx, intent, policy)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.False(t, res.Analysis.PositionSizeCheck)

	positions, err := adapter.GetPositions(ctx, btcPerp)
	require.NoError(t, err)
	assert.Empty(t, positions)

	intent.Quantity = dec("0.01")
	res, err = e.PlaceOrderWithRiskManagement(ctx, intent, policy)
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	require.NotNil(t, res.Order)
	assert.Equal(t, exchange.StatusFilled, res.Order.Status)
}
