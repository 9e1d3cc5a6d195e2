package exchange

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIntentConstructors(t *testing.T) {
	t.Run("market_defaults_to_spot", func(t *testing.T) {
		intent, err := MarketOrder(" BTC/USDT ", SideBuy, dec("1"))
		require.NoError(t, err)
		assert.Equal(t, "BTC/USDT", intent.Symbol)
		assert.Equal(t, SegmentSpot, intent.Segment)
		assert.Equal(t, OrderMarket, intent.Kind())
		_, ok := intent.LimitPrice()
		assert.False(t, ok)
	})

	t.Run("stop_limit_prices", func(t *testing.T) {
		intent, err := StopLimitOrder("BTC/USDT:USDT", SideSell, dec("0.5"), dec("49000"), dec("48900"),
			WithSegment(SegmentFutures), ReduceOnly(), WithClientID("abc"))
		require.NoError(t, err)
		trigger, ok := intent.TriggerPrice()
		require.True(t, ok)
		assert.True(t, dec("49000").Equal(trigger))
		limit, ok := intent.LimitPrice()
		require.True(t, ok)
		assert.True(t, dec("48900").Equal(limit))
		assert.True(t, intent.ReduceOnly)
		assert.Equal(t, "abc", intent.ClientID)
		assert.True(t, intent.Kind().Triggered())
	})

	t.Run("rejects_invalid", func(t *testing.T) {
		_, err := LimitOrder("BTC/USDT", SideBuy, dec("1"), dec("-1"))
		assert.ErrorIs(t, err, ErrValidation)
		_, err = StopOrder("BTC/USDT", SideBuy, dec("1"), decimal.Zero)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = MarketOrder("BTC/USDT", SideBuy, dec("1"), WithLeverage(-1), WithSegment(SegmentFutures))
		assert.ErrorIs(t, err, ErrValidation)
		_, err = MarketOrder("BTC/USDT", SideBuy, dec("1"), WithSegment("margin"))
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindRemoteRejection, Op: "place_order", Venue: "sim", Msg: "insufficient balance"})
	assert.ErrorIs(t, err, ErrRemoteRejection)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Equal(t, KindRemoteRejection, KindOf(err))
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Equal(t, ErrorKind(0), KindOf(fmt.Errorf("plain")))
}

func TestCredentialRedaction(t *testing.T) {
	cred := NewCredential("Hyperliquid", "main", "0xabcdef123456", "supersecretkey", "pass", true)
	assert.Equal(t, "hyperliquid", cred.Venue())
	for _, s := range []string{cred.String(), fmt.Sprintf("%v", cred), fmt.Sprintf("%+v", cred), fmt.Sprintf("%#v", cred)} {
		assert.NotContains(t, s, "supersecretkey")
		assert.NotContains(t, s, "pass}")
		assert.NotContains(t, s, "0xabcdef123456")
	}
	assert.Equal(t, "supersecretkey", cred.APISecret())
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw    string
		amount string
		filled string
		want   OrderStatus
	}{
		{"NEW", "1", "0", StatusOpen},
		{"open", "1", "0.4", StatusPartiallyFilled},
		{"resting", "1", "0", StatusOpen},
		{"PARTIALLY_FILLED", "1", "0.5", StatusPartiallyFilled},
		{"filled", "1", "1", StatusFilled},
		{"closed", "1", "1", StatusFilled},
		{"canceled", "1", "0", StatusCancelled},
		{"marginCanceled", "1", "0", StatusCancelled},
		{"expired", "1", "0", StatusCancelled},
		{"rejected", "1", "0", StatusRejected},
		{"untriggered", "1", "0", StatusOpen},
		{"", "1", "0", StatusPending},
		{"something-new", "1", "0", StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeStatus(tc.raw, dec(tc.amount), dec(tc.filled)))
		})
	}
}

func TestNormalizeSideAndKind(t *testing.T) {
	assert.Equal(t, SideBuy, NormalizeSide("B"))
	assert.Equal(t, SideSell, NormalizeSide("A"))
	assert.Equal(t, SideSell, NormalizeSide("short"))
	assert.Equal(t, Side(""), NormalizeSide("?"))

	assert.Equal(t, OrderStop, NormalizeKind("Stop Market", OrderLimit))
	assert.Equal(t, OrderStopLimit, NormalizeKind("take_profit_limit", OrderLimit))
	assert.Equal(t, OrderLimit, NormalizeKind("", OrderLimit))
}

func TestTickerReference(t *testing.T) {
	assert.True(t, dec("10").Equal(Ticker{Last: dec("10"), Bid: dec("9")}.Reference()))
	assert.True(t, dec("10").Equal(Ticker{Bid: dec("9"), Ask: dec("11")}.Reference()))
	assert.True(t, dec("11").Equal(Ticker{Ask: dec("11")}.Reference()))
}
