package exchange_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/exchange/sim"
	"tradelink/pkg/ratelimit"
)

const btcPerp = "BTC/USDT:USDT"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingLimiter struct {
	mu    sync.Mutex
	keys  []string
	allow bool
}

func (l *countingLimiter) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allow
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func newConnected(t *testing.T, venue exchange.Venue, opts ...exchange.AdapterOption) *exchange.Adapter {
	t.Helper()
	cred := exchange.NewCredential("sim", "paper-1", "key-123456", "secret-abcdef", "", true)
	a := exchange.NewAdapter(venue, cred, opts...)
	require.NoError(t, a.Connect(context.Background()))
	return a
}

func perpMarket(t *testing.T, side exchange.Side, qty string, opts ...exchange.IntentOption) exchange.OrderIntent {
	t.Helper()
	opts = append([]exchange.IntentOption{exchange.WithSegment(exchange.SegmentFutures)}, opts...)
	intent, err := exchange.MarketOrder(btcPerp, side, d(qty), opts...)
	require.NoError(t, err)
	return intent
}

func TestAdapterConnect(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }

	t.Run("records_clock_offset_and_markets", func(t *testing.T) {
		venue := sim.New(sim.WithClock(clock), sim.WithClockSkew(1500*time.Millisecond))
		a := newConnected(t, venue, exchange.WithClock(clock))

		assert.True(t, a.IsConnected())
		assert.Equal(t, 1500*time.Millisecond, a.ClockOffset())
		assert.Equal(t, base.Add(1500*time.Millisecond), a.Now())
		assert.Len(t, a.Markets(), 5)
	})

	t.Run("market_load_failure_leaves_disconnected", func(t *testing.T) {
		venue := sim.New()
		venue.InjectFault(sim.OpMarkets, errors.New("metadata unavailable"), 1)
		a := exchange.NewAdapter(venue, exchange.NewCredential("sim", "x", "", "", "", false))

		err := a.Connect(context.Background())
		assert.ErrorIs(t, err, exchange.ErrConnection)
		assert.False(t, a.IsConnected())
		assert.Equal(t, 1, venue.Calls(sim.OpTime), "time sync ran before the failure")
	})

	t.Run("time_failure", func(t *testing.T) {
		venue := sim.New()
		venue.InjectFault(sim.OpTime, errors.New("dial tcp: refused"), 1)
		a := exchange.NewAdapter(venue, exchange.NewCredential("sim", "x", "", "", "", false))
		assert.ErrorIs(t, a.Connect(context.Background()), exchange.ErrConnection)
		assert.Equal(t, 0, venue.Calls(sim.OpMarkets))
	})
}

func TestAdapterRequiresConnection(t *testing.T) {
	a := exchange.NewAdapter(sim.New(), exchange.NewCredential("sim", "x", "", "", "", false))
	_, err := a.GetTicker(context.Background(), btcPerp)
	assert.ErrorIs(t, err, exchange.ErrNotConnected)
	assert.False(t, a.TestConnection(context.Background()))
}

func TestAdapterPlaceOrderValidatesLocally(t *testing.T) {
	venue := sim.New()
	limiter := &countingLimiter{allow: true}
	a := newConnected(t, venue, exchange.WithLimiter(limiter))

	cases := map[string]exchange.OrderIntent{
		"missing_symbol":    {Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentSpot},
		"bad_side":          {Symbol: "BTC/USDT", Side: "hold", Quantity: d("1"), Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentSpot},
		"zero_quantity":     {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: decimal.Zero, Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentSpot},
		"missing_kind":      {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: d("1"), Segment: exchange.SegmentSpot},
		"limit_without_px":  {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.LimitPricing{}, Segment: exchange.SegmentSpot},
		"stop_limit_no_px":  {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.StopLimitPricing{Trigger: d("1")}, Segment: exchange.SegmentSpot},
		"unsupported_segm":  {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentOptions},
		"leverage_on_spot":  {Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentSpot, Leverage: 3},
		"leverage_too_high": {Symbol: btcPerp, Side: exchange.SideBuy, Quantity: d("1"), Pricing: exchange.MarketPricing{}, Segment: exchange.SegmentFutures, Leverage: 51},
	}
	for name, intent := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.PlaceOrder(context.Background(), intent)
			assert.ErrorIs(t, err, exchange.ErrValidation)
		})
	}
	assert.Equal(t, 0, venue.Calls(sim.OpPlace))
	assert.Equal(t, 0, venue.Calls(sim.OpLeverage))
	assert.Equal(t, 0, limiter.count(), "no budget consumed by invalid input")
}

func TestAdapterPlaceOrderNormalizes(t *testing.T) {
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, d("50000")))
	bus := events.NewBus()
	sub := bus.Subscribe("test", 16)
	a := newConnected(t, venue, exchange.WithEventSink(bus))
	ctx := context.Background()

	t.Run("market_fill", func(t *testing.T) {
		out, err := a.PlaceOrder(ctx, perpMarket(t, exchange.SideBuy, "0.5", exchange.WithClientID("cid-1")))
		require.NoError(t, err)
		assert.Equal(t, exchange.StatusFilled, out.Status)
		assert.Equal(t, btcPerp, out.Symbol)
		assert.Equal(t, exchange.SideBuy, out.Side)
		assert.Equal(t, exchange.OrderMarket, out.Kind)
		assert.Equal(t, "cid-1", out.ClientID)
		assert.True(t, out.HasFill())
		assert.True(t, d("50000").Equal(out.AveragePrice))

		ev := <-sub.C()
		placed, ok := ev.(events.OrderPlaced)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, out.ID, placed.OrderID)
		assert.Equal(t, "paper-1", placed.CredentialID)
	})

	t.Run("resting_limit", func(t *testing.T) {
		intent, err := exchange.LimitOrder(btcPerp, exchange.SideBuy, d("0.1"), d("45000"), exchange.WithSegment(exchange.SegmentFutures))
		require.NoError(t, err)
		out, err := a.PlaceOrder(ctx, intent)
		require.NoError(t, err)
		assert.Equal(t, exchange.StatusOpen, out.Status)
		assert.Equal(t, exchange.OrderLimit, out.Kind)
		assert.True(t, d("45000").Equal(out.Price))
		assert.True(t, d("0.1").Equal(out.Remaining))
		<-sub.C()

		open, err := a.GetOpenOrders(ctx, btcPerp)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, out.ID, open[0].ID)

		require.NoError(t, a.CancelOrder(ctx, out.ID, btcPerp))
		ev := <-sub.C()
		assert.Equal(t, events.KindOrderCancelled, ev.Kind())

		got, err := a.GetOrder(ctx, out.ID, btcPerp)
		require.NoError(t, err)
		assert.Equal(t, exchange.StatusCancelled, got.Status)
	})

	t.Run("leverage_applied_first", func(t *testing.T) {
		_, err := a.PlaceOrder(ctx, perpMarket(t, exchange.SideBuy, "0.1", exchange.WithLeverage(5)))
		require.NoError(t, err)
		assert.Equal(t, events.KindLeverageChanged, (<-sub.C()).Kind())
		assert.Equal(t, events.KindOrderPlaced, (<-sub.C()).Kind())

		positions, err := a.GetPositions(ctx, btcPerp)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, 5, positions[0].Leverage)
		assert.Equal(t, exchange.PositionLong, positions[0].Side)
		assert.Equal(t, exchange.SegmentFutures, positions[0].Segment)
		assert.True(t, d("0.6").Equal(positions[0].Size))
	})
}

func TestAdapterRemoteRejection(t *testing.T) {
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, d("50000")))
	bus := events.NewBus()
	sub := bus.Subscribe("test", 4)
	a := newConnected(t, venue, exchange.WithEventSink(bus))

	_, err := a.PlaceOrder(context.Background(), perpMarket(t, exchange.SideSell, "1", exchange.ReduceOnly()))
	require.ErrorIs(t, err, exchange.ErrRemoteRejection)

	var typed *exchange.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "reduce-only order has no position to reduce", typed.Msg)
	assert.Equal(t, "place_order", typed.Op)
	assert.Equal(t, "sim", typed.Venue)

	ev := <-sub.C()
	failed, ok := ev.(events.OrderFailed)
	require.True(t, ok)
	assert.Equal(t, btcPerp, failed.Symbol)
}

// statusRejectingVenue acknowledges orders with a rejected status instead of
// an error.
type statusRejectingVenue struct {
	*sim.Venue
}

func (statusRejectingVenue) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.VenueOrder, error) {
	return &exchange.VenueOrder{ID: "77", Symbol: req.Symbol, Side: string(req.Side), Type: "market", Status: "REJECTED", Amount: req.Amount}, nil
}

func TestAdapterRejectedStatusIsRemoteRejection(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe("test", 4)
	a := newConnected(t, statusRejectingVenue{Venue: sim.New()}, exchange.WithEventSink(bus))

	out, err := a.PlaceOrder(context.Background(), perpMarket(t, exchange.SideBuy, "1"))
	require.ErrorIs(t, err, exchange.ErrRemoteRejection)
	assert.Nil(t, out)

	var typed *exchange.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "place_order", typed.Op)
	assert.Contains(t, typed.Msg, "REJECTED")

	ev := <-sub.C()
	assert.Equal(t, events.KindOrderFailed, ev.Kind())
}

func TestAdapterRateLimited(t *testing.T) {
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, d("50000")))
	a := newConnected(t, venue, exchange.WithLimiter(ratelimit.NewWindow(1, time.Minute)))
	ctx := context.Background()

	_, err := a.GetTicker(ctx, btcPerp)
	require.NoError(t, err)
	_, err = a.GetTicker(ctx, btcPerp)
	assert.ErrorIs(t, err, exchange.ErrRateLimited)
	assert.Equal(t, 1, venue.Calls(sim.OpTicker))

	_, err = a.GetBalance(ctx, exchange.SegmentFutures)
	assert.NoError(t, err, "budgets are per endpoint")
}

func TestAdapterLimiterFactory(t *testing.T) {
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, d("50000")))
	var got exchange.RateLimit
	limiter := &countingLimiter{}
	a := newConnected(t, venue, exchange.WithLimiterFactory(func(rl exchange.RateLimit) ratelimit.Limiter {
		got = rl
		return limiter
	}))

	assert.Equal(t, venue.Capabilities().RateLimit, got)
	_, err := a.GetTicker(context.Background(), btcPerp)
	assert.ErrorIs(t, err, exchange.ErrRateLimited)
	assert.Positive(t, limiter.count())
}

func TestAdapterTimeoutIsConnectionError(t *testing.T) {
	venue := sim.New()
	a := newConnected(t, venue, exchange.WithCallTimeout(20*time.Millisecond))
	venue.SetLatency(500 * time.Millisecond)

	_, err := a.GetBalance(context.Background(), exchange.SegmentSpot)
	assert.ErrorIs(t, err, exchange.ErrConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, a.TestConnection(context.Background()))
}

func TestAdapterLeverageRange(t *testing.T) {
	venue := sim.New()
	a := newConnected(t, venue)
	ctx := context.Background()

	assert.ErrorIs(t, a.SetLeverage(ctx, "ETH/USDT:USDT", 0), exchange.ErrValidation)
	assert.ErrorIs(t, a.SetLeverage(ctx, "ETH/USDT:USDT", 26), exchange.ErrValidation, "market cap is below venue cap")
	assert.Equal(t, 0, venue.Calls(sim.OpLeverage))

	assert.NoError(t, a.SetLeverage(ctx, "ETH/USDT:USDT", 25))
	assert.ErrorIs(t, a.SetMarginMode(ctx, "ETH/USDT:USDT", "portfolio"), exchange.ErrValidation)
	assert.NoError(t, a.SetMarginMode(ctx, "ETH/USDT:USDT", exchange.MarginIsolated))
	assert.NoError(t, a.SetPositionMode(ctx, true))
	assert.True(t, venue.Hedged())
}

func TestAdapterCancelAllOrders(t *testing.T) {
	venue := sim.New()
	require.NoError(t, venue.SetMarkPrice(btcPerp, d("50000")))
	a := newConnected(t, venue)
	ctx := context.Background()

	var ids []string
	for _, px := range []string{"40000", "41000", "42000"} {
		intent, err := exchange.LimitOrder(btcPerp, exchange.SideBuy, d("0.01"), d(px), exchange.WithSegment(exchange.SegmentFutures))
		require.NoError(t, err)
		out, err := a.PlaceOrder(ctx, intent)
		require.NoError(t, err)
		ids = append(ids, out.ID)
	}

	cancelled, err := a.CancelAllOrders(ctx, btcPerp)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, cancelled)

	open, err := a.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	history, err := a.GetOrderHistory(ctx, btcPerp, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAdapterProbeSymbol(t *testing.T) {
	venue := sim.New()
	a := newConnected(t, venue)
	ctx := context.Background()

	assert.True(t, a.ProbeSymbol(ctx, btcPerp, exchange.SegmentFutures))
	assert.False(t, a.ProbeSymbol(ctx, btcPerp, exchange.SegmentSpot))
	assert.False(t, a.ProbeSymbol(ctx, "BTC/USDT", exchange.SegmentOptions))
	assert.False(t, a.ProbeSymbol(ctx, "DOGE/USDT", exchange.SegmentSpot), "unknown and unpriced")
}

// zeroSizeVenue reports a flat position alongside a real one.
type zeroSizeVenue struct {
	*sim.Venue
}

func (v zeroSizeVenue) FetchPositions(ctx context.Context, symbols []string) ([]exchange.VenuePosition, error) {
	return []exchange.VenuePosition{
		{Symbol: "BTCUSDT-PERP", Size: decimal.Zero},
		{Symbol: "ETHUSDT-PERP", Size: d("-2"), EntryPrice: d("3000"), MarginMode: "isolated"},
	}, nil
}

func TestAdapterGetPositionsFiltersFlat(t *testing.T) {
	a := newConnected(t, zeroSizeVenue{Venue: sim.New()})
	positions, err := a.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ETH/USDT:USDT", positions[0].Symbol)
	assert.Equal(t, exchange.PositionShort, positions[0].Side)
	assert.True(t, d("2").Equal(positions[0].Size))
	assert.Equal(t, exchange.MarginIsolated, positions[0].MarginMode)
}

type panickyVenue struct {
	*sim.Venue
}

func (panickyVenue) FetchBalance(context.Context, exchange.MarketSegment) ([]exchange.Balance, error) {
	panic("decoder exploded")
}

func TestAdapterTestConnectionNeverPanics(t *testing.T) {
	a := newConnected(t, panickyVenue{Venue: sim.New()})
	assert.NotPanics(t, func() {
		assert.False(t, a.TestConnection(context.Background()))
	})
}

type noPositionModeVenue struct {
	*sim.Venue
}

func (v noPositionModeVenue) Capabilities() exchange.Capabilities {
	caps := v.Venue.Capabilities()
	caps.SupportsPositionMode = false
	return caps
}

func TestAdapterPositionModeUnsupported(t *testing.T) {
	venue := sim.New()
	a := newConnected(t, noPositionModeVenue{Venue: venue})
	assert.ErrorIs(t, a.SetPositionMode(context.Background(), true), exchange.ErrValidation)
	assert.Equal(t, 0, venue.Calls(sim.OpPositionMode))
}

func TestAdapterDisconnectIdempotent(t *testing.T) {
	venue := sim.New()
	a := newConnected(t, venue)
	ctx := context.Background()

	require.NoError(t, a.Disconnect(ctx))
	require.NoError(t, a.Disconnect(ctx))
	assert.False(t, a.IsConnected())
	assert.Equal(t, 1, venue.Closed())

	require.NoError(t, a.Connect(ctx), "reconnect after disconnect")
	assert.True(t, a.TestConnection(ctx))
}
