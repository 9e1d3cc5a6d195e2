package hyperliquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/exchange"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		px         string
		szDecimals int32
		want       string
	}{
		{"50123.7", 5, "50124"},
		{"123456.7", 0, "123457"},
		{"3200.55", 3, "3200.6"},
		{"1.23456", 2, "1.2346"},
		{"0.0123456", 0, "0.012346"},
		{"0.0123456", 2, "0.0123"},
		{"2.50", 1, "2.5"},
		{"0", 1, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.px, func(t *testing.T) {
			assert.Equal(t, tc.want, formatPrice(d(tc.px), tc.szDecimals))
		})
	}
}

func TestFormatSize(t *testing.T) {
	got, err := formatSize(d("0.123456"), 3)
	require.NoError(t, err)
	assert.Equal(t, "0.123", got)

	got, err = formatSize(d("-2"), 0)
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	_, err = formatSize(d("0.0004"), 3)
	assert.ErrorIs(t, err, exchange.ErrRemoteRejection)
}

func TestBuildOrderPayload(t *testing.T) {
	btc := assetInfo{Name: "BTC", Index: 0, SzDecimals: 5}
	slippage := d("0.01")

	t.Run("market_sell", func(t *testing.T) {
		p, err := buildOrderPayload(exchange.OrderRequest{
			Side: exchange.SideSell, Amount: d("0.5"), Pricing: exchange.MarketPricing{},
		}, btc, d("50000"), slippage)
		require.NoError(t, err)
		assert.False(t, p.IsBuy)
		assert.Equal(t, "49500", p.LimitPx)
		assert.Equal(t, tifIOC, p.OrderType.Limit.TIF)
	})

	t.Run("market_without_reference", func(t *testing.T) {
		_, err := buildOrderPayload(exchange.OrderRequest{
			Side: exchange.SideBuy, Amount: d("0.5"), Pricing: exchange.MarketPricing{},
		}, btc, d("0"), slippage)
		assert.ErrorIs(t, err, exchange.ErrRemoteRejection)
	})

	t.Run("buy_stop_above_market_is_stop_loss", func(t *testing.T) {
		p, err := buildOrderPayload(exchange.OrderRequest{
			Side: exchange.SideBuy, Amount: d("0.5"), Pricing: exchange.StopPricing{Trigger: d("51000")}, ReduceOnly: true,
		}, btc, d("50000"), slippage)
		require.NoError(t, err)
		assert.Equal(t, "sl", p.OrderType.Trigger.Tpsl)
		assert.Equal(t, "51510", p.LimitPx)
		assert.Equal(t, "51000", p.OrderType.Trigger.TriggerPx)
	})

	t.Run("client_id", func(t *testing.T) {
		p, err := buildOrderPayload(exchange.OrderRequest{
			Side: exchange.SideBuy, Amount: d("1"), Pricing: exchange.LimitPricing{Price: d("100")}, ClientID: "abc",
		}, btc, d("0"), slippage)
		require.NoError(t, err)
		assert.Equal(t, toCloid("abc"), p.Cloid)
	})
}

func TestBuildCancelAction(t *testing.T) {
	byOid := buildCancelAction(3, "123")
	assert.Equal(t, ActionTypeCancel, byOid.Type)
	assert.Equal(t, []cancelPayload{{Asset: 3, Oid: 123}}, byOid.Cancels)

	byCloid := buildCancelAction(3, "client-1")
	assert.Equal(t, ActionTypeCancelByCloid, byCloid.Type)
	assert.Equal(t, []cancelByCloidPayload{{Asset: 3, Cloid: toCloid("client-1")}}, byCloid.Cancels)
}

func TestToVenueOrder(t *testing.T) {
	vo := toVenueOrder(wireOrder{
		Coin: "SOL", Side: "A", LimitPx: "150.5", Sz: "0", OrigSz: "3", Oid: 42,
		Timestamp: 1709294400000, OrderType: "Take Profit Market", TriggerPx: "150", ReduceOnly: true,
	}, "filled")
	assert.Equal(t, "42", vo.ID)
	assertDecimal(t, "3", vo.Filled)
	assertDecimal(t, "3", vo.Amount)
	assert.Equal(t, exchange.SideSell, exchange.NormalizeSide(vo.Side))
	assert.Equal(t, exchange.OrderStop, exchange.NormalizeKind(vo.Type, exchange.OrderLimit))
	assert.Equal(t, exchange.StatusFilled, exchange.NormalizeStatus(vo.Status, vo.Amount, vo.Filled))
}
