package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
	"tradelink/pkg/risk"
)

func marketIntent(t *testing.T, qty string, opts ...exchange.IntentOption) exchange.OrderIntent {
	t.Helper()
	opts = append([]exchange.IntentOption{exchange.WithSegment(exchange.SegmentFutures)}, opts...)
	intent, err := exchange.MarketOrder(perp, exchange.SideBuy, d(qty), opts...)
	require.NoError(t, err)
	return intent
}

func TestRiskManagedRejectsOversize(t *testing.T) {
	trader := newFakeTrader()
	e, rec, log := newTestExecutor(t, trader)

	res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.05"), risk.Policy{MaxPositionSize: d("0.01")})
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "exceeds max")
	assert.False(t, res.Analysis.PositionSizeCheck)
	assert.True(t, res.Analysis.LeverageCheck)
	assert.Nil(t, res.Order)
	assert.Zero(t, trader.count("place"))

	assert.Equal(t, []events.Kind{events.KindRiskOrderRejected}, log.kinds())
	last := rec.last()
	assert.Equal(t, journal.KindRiskCheck, last.Kind)
	assert.False(t, last.Success)
	require.NotNil(t, last.Risk)
	assert.False(t, last.Risk.Allowed)
	assert.False(t, last.Risk.Checks["position_size"])
	assert.Empty(t, last.Orders)
}

func TestRiskManagedApproves(t *testing.T) {
	trader := newFakeTrader()
	e, rec, log := newTestExecutor(t, trader)

	res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.5", exchange.WithLeverage(5)),
		risk.Policy{MaxPositionSize: d("1"), MaxLeverage: 10, MaxConcurrentPositions: 3, MaxDailyLossPct: d("5")})
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.True(t, res.Analysis.Allowed)
	require.NotNil(t, res.Order)
	assert.Equal(t, 1, trader.count("place"))
	assert.Equal(t, []events.Kind{events.KindRiskOrderApproved}, log.kinds())

	last := rec.last()
	assert.True(t, last.Success)
	assert.Len(t, last.Orders, 1)
	assert.True(t, last.Risk.Checks["drawdown"])
}

func TestRiskManagedPlaceFailure(t *testing.T) {
	trader := newFakeTrader()
	trader.failPlace["entry"] = exchange.Rejected("insufficient margin")
	e, rec, _ := newTestExecutor(t, trader)

	res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.5"), risk.Policy{})
	assert.ErrorIs(t, err, exchange.ErrRemoteRejection)
	require.NotNil(t, res)
	assert.True(t, res.Analysis.Allowed)
	assert.Nil(t, res.Order)
	assert.False(t, rec.last().Success)
}

func TestConfiguredRiskAppliesSymbolOverride(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(`
risk:
  max_position_size: 1
overrides:
  BTC/USDT:USDT:
    emergency_stop: true
`))
	require.NoError(t, err)
	trader := newFakeTrader()
	e, rec, log := newTestExecutor(t, trader, WithConfig(cfg))

	res, err := e.PlaceOrderWithConfiguredRisk(context.Background(), marketIntent(t, "0.1"))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "emergency stop")
	assert.Zero(t, trader.count("place"))
	assert.Equal(t, []events.Kind{events.KindRiskOrderRejected}, log.kinds())
	assert.False(t, rec.last().Success)

	cfg.Overrides = nil
	res, err = e.PlaceOrderWithConfiguredRisk(context.Background(), marketIntent(t, "2"))
	require.NoError(t, err)
	assert.True(t, res.Rejected, "base max_position_size applies")
	assert.Contains(t, res.Reason, "exceeds max")

	res, err = e.PlaceOrderWithConfiguredRisk(context.Background(), marketIntent(t, "0.5"))
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Equal(t, 1, trader.count("place"))
}

func TestRiskManagedUsesAccountState(t *testing.T) {
	t.Run("existing_exposure_counts", func(t *testing.T) {
		trader := newFakeTrader()
		trader.positions = []exchange.PositionSnapshot{longPosition()}
		e, _, _ := newTestExecutor(t, trader)
		res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.5"), risk.Policy{MaxPositionSize: d("2")})
		require.NoError(t, err)
		assert.True(t, res.Rejected)
		assert.True(t, d("2.5").Equal(res.Analysis.ResultingPositionSize))
	})

	t.Run("daily_loss_against_settle_balance", func(t *testing.T) {
		trader := newFakeTrader()
		pos := longPosition()
		pos.Symbol = "ETH/USDT:USDT"
		pos.UnrealizedPnL = d("-600")
		trader.positions = []exchange.PositionSnapshot{pos}
		trader.balances = []exchange.Balance{{Currency: "BTC", Total: d("1")}, {Currency: "USDT", Total: d("10000")}}
		e, _, _ := newTestExecutor(t, trader)
		res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), risk.Policy{MaxDailyLossPct: d("5")})
		require.NoError(t, err)
		assert.True(t, res.Rejected)
		assert.True(t, d("6").Equal(res.Analysis.DailyLossPct))
	})

	t.Run("balance_failure_skips_loss_checks", func(t *testing.T) {
		trader := newFakeTrader()
		trader.balanceErr = errors.New("timeout")
		e, _, _ := newTestExecutor(t, trader)
		res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), risk.Policy{MaxDailyLossPct: d("5")})
		require.NoError(t, err)
		assert.False(t, res.Rejected)
		require.NotEmpty(t, res.Analysis.Warnings)
		assert.Contains(t, res.Analysis.Warnings[len(res.Analysis.Warnings)-1], "balance unavailable")
	})

	t.Run("position_failure_fails_closed", func(t *testing.T) {
		trader := newFakeTrader()
		trader.posErr = exchange.Rejected("maintenance")
		e, rec, _ := newTestExecutor(t, trader)
		res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), risk.Policy{})
		assert.Nil(t, res)
		assert.Error(t, err)
		assert.Zero(t, trader.count("place"))
		assert.Empty(t, rec.records)
	})
}

func TestRiskManagedDrawdownFromPeak(t *testing.T) {
	trader := newFakeTrader()
	e, _, _ := newTestExecutor(t, trader)
	policy := risk.Policy{MaxDrawdownPct: d("10")}

	res, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), policy)
	require.NoError(t, err)
	assert.False(t, res.Rejected)

	trader.balances = []exchange.Balance{{Currency: "USDT", Total: d("8500")}}
	res, err = e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), policy)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.True(t, d("15").Equal(res.Analysis.DrawdownPct))
	assert.Equal(t, 1, trader.count("place"))
}

func TestRiskManagedInvalidInput(t *testing.T) {
	trader := newFakeTrader()
	e, _, _ := newTestExecutor(t, trader)

	_, err := e.PlaceOrderWithRiskManagement(context.Background(), marketIntent(t, "0.1"), risk.Policy{MaxDrawdownPct: d("150")})
	assert.ErrorIs(t, err, exchange.ErrValidation)

	_, err = e.PlaceOrderWithRiskManagement(context.Background(), exchange.OrderIntent{Symbol: perp}, risk.Policy{})
	assert.ErrorIs(t, err, exchange.ErrValidation)
	assert.Zero(t, trader.networkCalls())
}

func TestEquityFor(t *testing.T) {
	balances := []exchange.Balance{{Currency: "USDC", Total: d("50")}, {Currency: "USDT", Total: d("70")}}
	assert.True(t, d("70").Equal(equityFor("BTC/USDT:USDT", balances)))
	assert.True(t, d("50").Equal(equityFor("ETH/USDC", balances)))
	assert.True(t, equityFor("SOL/EUR", balances).IsZero())
	assert.True(t, d("9").Equal(equityFor("SOL/EUR", []exchange.Balance{{Currency: "USD", Total: d("9")}})))
}
