package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/timex"

	"tradelink/pkg/events"
	"tradelink/pkg/ratelimit"
)

const (
	defaultCallTimeout = 30 * time.Second

	endpointOrder        = "order"
	endpointCancel       = "cancel"
	endpointOrderQuery   = "order_query"
	endpointOpenOrders   = "open_orders"
	endpointHistory      = "order_history"
	endpointBalance      = "balance"
	endpointPositions    = "positions"
	endpointTicker       = "ticker"
	endpointOrderBook    = "orderbook"
	endpointOHLCV        = "ohlcv"
	endpointLeverage     = "leverage"
	endpointMarginMode   = "margin_mode"
	endpointPositionMode = "position_mode"
	endpointHealth       = "health"
)

// AdapterOption customises an Adapter.
type AdapterOption func(*Adapter)

// WithLimiter replaces the limiter derived from the venue's declared budget.
// Use it to share a RedisWindow across processes.
func WithLimiter(l ratelimit.Limiter) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.limiter = l
		}
	}
}

// WithLimiterFactory builds the limiter from the effective budget, after
// file overrides are applied. WithLimiter takes precedence.
func WithLimiterFactory(fn func(RateLimit) ratelimit.Limiter) AdapterOption {
	return func(a *Adapter) { a.newLimiter = fn }
}

// WithEventSink routes lifecycle events to sink.
func WithEventSink(sink events.Sink) AdapterOption {
	return func(a *Adapter) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithCallTimeout bounds every venue call. Expiry surfaces as a connection error.
func WithCallTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.callTimeout = d
		}
	}
}

// WithClock overrides the local time source.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithDefaultSegment sets the segment assumed for symbols that are neither in
// the loaded markets nor self-describing.
func WithDefaultSegment(segment MarketSegment) AdapterOption {
	return func(a *Adapter) {
		if segment.Valid() {
			a.defaultSegment = segment
		}
	}
}

func withDeclaredLimit(requests int, window time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.declared = &RateLimit{Requests: requests, Window: window}
	}
}

// Adapter is the only component that talks to a venue. It validates locally,
// gates every remote call through the limiter, bounds it with a timeout and
// normalizes what comes back. One Adapter serves one credential.
type Adapter struct {
	venue          Venue
	cred           Credential
	limiter        ratelimit.Limiter
	sink           events.Sink
	callTimeout    time.Duration
	now            func() time.Time
	defaultSegment MarketSegment
	declared       *RateLimit
	newLimiter     func(RateLimit) ratelimit.Limiter

	mu        sync.RWMutex
	connected bool
	offset    time.Duration
	markets   map[string]MarketInfo
	ordered   []MarketInfo
}

// NewAdapter wraps venue for cred. Without WithLimiter the venue's declared
// rate limit is enforced in-process.
func NewAdapter(venue Venue, cred Credential, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		venue:          venue,
		cred:           cred,
		sink:           events.Nop(),
		callTimeout:    defaultCallTimeout,
		now:            time.Now,
		defaultSegment: SegmentSpot,
		markets:        make(map[string]MarketInfo),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.limiter == nil {
		rl := venue.Capabilities().RateLimit
		if a.declared != nil {
			rl = *a.declared
		}
		if a.newLimiter != nil {
			a.limiter = a.newLimiter(rl)
		}
		if a.limiter == nil {
			a.limiter = ratelimit.NewWindow(rl.Requests, rl.Window, ratelimit.WithClock(a.now))
		}
	}
	return a
}

func (a *Adapter) Venue() string              { return a.venue.Name() }
func (a *Adapter) CredentialID() string       { return a.cred.ID() }
func (a *Adapter) Capabilities() Capabilities { return a.venue.Capabilities() }

// IsConnected reports whether Connect succeeded and Disconnect has not run since.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// ClockOffset is venue time minus local time as measured by the last Connect.
func (a *Adapter) ClockOffset() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.offset
}

// Now returns local time corrected by the measured venue clock offset.
func (a *Adapter) Now() time.Time {
	return a.now().Add(a.ClockOffset())
}

// Connect synchronises the clock offset and loads market metadata. Either
// step failing leaves the adapter disconnected.
func (a *Adapter) Connect(ctx context.Context) error {
	const op = "connect"
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	before := a.now()
	venueTime, err := a.venue.FetchTime(callCtx)
	if err != nil {
		a.setDisconnected()
		return &Error{Kind: KindConnection, Op: op, Venue: a.Venue(), Msg: "fetch venue time", Err: err}
	}
	after := a.now()
	offset := venueTime.Sub(before.Add(after.Sub(before) / 2))

	markets, err := a.venue.LoadMarkets(callCtx)
	if err != nil {
		a.setDisconnected()
		return &Error{Kind: KindConnection, Op: op, Venue: a.Venue(), Msg: "load markets", Err: err}
	}

	index := make(map[string]MarketInfo, len(markets))
	for _, m := range markets {
		index[m.Symbol] = m
	}

	a.mu.Lock()
	a.connected = true
	a.offset = offset
	a.markets = index
	a.ordered = append([]MarketInfo(nil), markets...)
	a.mu.Unlock()

	logx.WithContext(ctx).Infof("exchange: connected %s/%s markets=%d clock_offset=%s",
		a.Venue(), a.CredentialID(), len(markets), offset)
	return nil
}

// Disconnect releases the venue session. Calls already sent to the venue are
// not affected. Safe to call repeatedly.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mu.Unlock()
	if !wasConnected {
		return nil
	}
	if err := a.venue.Close(); err != nil {
		logx.WithContext(ctx).Errorf("exchange: close %s/%s: %v", a.Venue(), a.CredentialID(), err)
		return &Error{Kind: KindConnection, Op: "disconnect", Venue: a.Venue(), Err: err}
	}
	logx.WithContext(ctx).Infof("exchange: disconnected %s/%s", a.Venue(), a.CredentialID())
	return nil
}

// TestConnection performs a read-only balance probe. It never fails loudly:
// any error or panic is reported as false.
func (a *Adapter) TestConnection(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("exchange: probe %s/%s panicked: %v", a.Venue(), a.CredentialID(), r)
			ok = false
		}
	}()
	if !a.IsConnected() {
		return false
	}
	err := a.call(ctx, "test_connection", endpointHealth, func(ctx context.Context) error {
		_, err := a.venue.FetchBalance(ctx, a.defaultSegment)
		return err
	})
	if err != nil {
		logx.WithContext(ctx).Infof("exchange: probe %s/%s failed: %v", a.Venue(), a.CredentialID(), err)
		return false
	}
	return true
}

// Markets returns the metadata loaded by the last Connect.
func (a *Adapter) Markets() []MarketInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]MarketInfo(nil), a.ordered...)
}

// PlaceOrder validates intent, applies any requested leverage, and submits it.
// Order placement is never retried.
func (a *Adapter) PlaceOrder(ctx context.Context, intent OrderIntent) (*OrderOutcome, error) {
	const op = "place_order"
	out, err := a.placeOrder(ctx, intent)
	if err != nil {
		logx.WithContext(ctx).Errorf("exchange: %s %s %s %s failed: %v",
			a.Venue(), op, intent.Symbol, intent.Side, err)
		a.emit(events.OrderFailed{Source: a.source(), Op: op, Symbol: intent.Symbol, Err: err.Error()})
		return nil, err
	}
	logx.WithContext(ctx).Infof("exchange: %s order %s placed %s %s %s qty=%s status=%s",
		a.Venue(), out.ID, out.Symbol, out.Side, out.Kind, out.Amount, out.Status)
	a.emit(events.OrderPlaced{
		Source:    a.source(),
		OrderID:   out.ID,
		ClientID:  out.ClientID,
		Symbol:    out.Symbol,
		Side:      string(out.Side),
		OrderKind: string(out.Kind),
		Status:    string(out.Status),
		Quantity:  out.Amount.String(),
	})
	return out, nil
}

func (a *Adapter) placeOrder(ctx context.Context, intent OrderIntent) (*OrderOutcome, error) {
	const op = "place_order"
	if err := intent.Validate(); err != nil {
		return nil, a.stamp(op, err)
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	if !a.Capabilities().Supports(intent.Segment) {
		return nil, a.stamp(op, validationf(op, "%s markets are not supported by %s", intent.Segment, a.Venue()))
	}
	if intent.Leverage > 0 {
		if err := a.SetLeverage(ctx, intent.Symbol, intent.Leverage); err != nil {
			return nil, err
		}
	}

	req := OrderRequest{
		Symbol:     a.venue.FormatSymbol(intent.Symbol, intent.Segment),
		Side:       intent.Side,
		Amount:     intent.Quantity,
		Pricing:    intent.Pricing,
		Segment:    intent.Segment,
		ReduceOnly: intent.ReduceOnly,
		ClientID:   intent.ClientID,
		Timestamp:  a.Now(),
	}
	var vo *VenueOrder
	err := a.call(ctx, op, endpointOrder, func(ctx context.Context) error {
		var err error
		vo, err = a.venue.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if vo == nil {
		return nil, &Error{Kind: KindConnection, Op: op, Venue: a.Venue(), Msg: "empty order response"}
	}

	out := a.normalizeOrder(*vo, intent.Symbol, intent.Kind())
	if out.Status == StatusRejected {
		msg := "order " + vo.ID + " rejected with status " + vo.Status
		if vo.ID == "" {
			msg = "order rejected with status " + vo.Status
		}
		return nil, &Error{Kind: KindRemoteRejection, Op: op, Venue: a.Venue(), Msg: msg}
	}
	if out.ClientID == "" {
		out.ClientID = intent.ClientID
	}
	if out.Amount.IsZero() {
		out.Amount = intent.Quantity
		out.Remaining = intent.Quantity.Sub(out.Filled)
	}
	if out.Side == "" {
		out.Side = intent.Side
	}
	if px, ok := intent.LimitPrice(); ok && out.Price.IsZero() {
		out.Price = px
	}
	if px, ok := intent.TriggerPrice(); ok && out.TriggerPrice.IsZero() {
		out.TriggerPrice = px
	}
	out.ReduceOnly = out.ReduceOnly || intent.ReduceOnly
	return &out, nil
}

// CancelOrder cancels one order.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	const op = "cancel_order"
	err := a.cancelOrder(ctx, id, symbol)
	if err != nil {
		logx.WithContext(ctx).Errorf("exchange: %s cancel %s %s failed: %v", a.Venue(), symbol, id, err)
		a.emit(events.OrderFailed{Source: a.source(), Op: op, Symbol: symbol, Err: err.Error()})
		return err
	}
	a.emit(events.OrderCancelled{Source: a.source(), OrderID: id, Symbol: symbol})
	return nil
}

func (a *Adapter) cancelOrder(ctx context.Context, id, symbol string) error {
	const op = "cancel_order"
	if strings.TrimSpace(id) == "" {
		return a.stamp(op, validationf(op, "order id is required"))
	}
	if strings.TrimSpace(symbol) == "" {
		return a.stamp(op, validationf(op, "symbol is required"))
	}
	if err := a.requireConnected(op); err != nil {
		return err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	return a.call(ctx, op, endpointCancel, func(ctx context.Context) error {
		return a.venue.CancelOrder(ctx, id, raw)
	})
}

// CancelAllOrders cancels every open order, optionally for one symbol. It
// returns the IDs that were cancelled; individual failures are joined into
// the error without stopping the sweep.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) ([]string, error) {
	open, err := a.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var (
		cancelled []string
		errs      []error
	)
	for _, o := range open {
		if err := a.CancelOrder(ctx, o.ID, o.Symbol); err != nil {
			errs = append(errs, err)
			continue
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, errors.Join(errs...)
}

// GetOrder fetches one order.
func (a *Adapter) GetOrder(ctx context.Context, id, symbol string) (*OrderOutcome, error) {
	const op = "get_order"
	if strings.TrimSpace(id) == "" {
		return nil, a.stamp(op, validationf(op, "order id is required"))
	}
	if strings.TrimSpace(symbol) == "" {
		return nil, a.stamp(op, validationf(op, "symbol is required"))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	var vo *VenueOrder
	err := a.call(ctx, op, endpointOrderQuery, func(ctx context.Context) error {
		var err error
		vo, err = a.venue.FetchOrder(ctx, id, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	if vo == nil {
		return nil, &Error{Kind: KindRemoteRejection, Op: op, Venue: a.Venue(), Msg: fmt.Sprintf("order %s not found", id)}
	}
	out := a.normalizeOrder(*vo, symbol, "")
	return &out, nil
}

// GetOpenOrders lists resting orders; an empty symbol lists all of them.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]OrderOutcome, error) {
	const op = "get_open_orders"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.formatOptional(symbol)
	var orders []VenueOrder
	err := a.call(ctx, op, endpointOpenOrders, func(ctx context.Context) error {
		var err error
		orders, err = a.venue.FetchOpenOrders(ctx, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.normalizeOrders(orders, symbol), nil
}

// GetOrderHistory lists closed orders since the given time; zero since and
// limit leave the venue defaults.
func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]OrderOutcome, error) {
	const op = "get_order_history"
	if limit < 0 {
		return nil, a.stamp(op, validationf(op, "limit must not be negative, got %d", limit))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.formatOptional(symbol)
	var orders []VenueOrder
	err := a.call(ctx, op, endpointHistory, func(ctx context.Context) error {
		var err error
		orders, err = a.venue.FetchClosedOrders(ctx, raw, since, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.normalizeOrders(orders, symbol), nil
}

// GetBalance reads balances for a segment; empty selects the default.
func (a *Adapter) GetBalance(ctx context.Context, segment MarketSegment) ([]Balance, error) {
	const op = "get_balance"
	if segment == "" {
		segment = a.defaultSegment
	}
	if !segment.Valid() {
		return nil, a.stamp(op, validationf(op, "invalid market segment %q", segment))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	var balances []Balance
	err := a.call(ctx, op, endpointBalance, func(ctx context.Context) error {
		var err error
		balances, err = a.venue.FetchBalance(ctx, segment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// GetPositions returns open positions, optionally for one symbol. Zero-size
// entries reported by the venue are dropped.
func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	const op = "get_positions"
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	var symbols []string
	if symbol != "" {
		symbols = []string{a.venue.FormatSymbol(symbol, a.segmentOf(symbol))}
	}
	var raw []VenuePosition
	err := a.call(ctx, op, endpointPositions, func(ctx context.Context) error {
		var err error
		raw, err = a.venue.FetchPositions(ctx, symbols)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]PositionSnapshot, 0, len(raw))
	for _, p := range raw {
		if p.Size.IsZero() {
			continue
		}
		unified := a.venue.ParseSymbol(p.Symbol)
		if symbol != "" && unified != symbol {
			continue
		}
		positions = append(positions, PositionSnapshot{
			Symbol:        unified,
			Side:          normalizePositionSide(p.Side, p.Size),
			Size:          p.Size.Abs(),
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			Leverage:      p.Leverage,
			MarginMode:    normalizeMarginMode(p.MarginMode),
			Segment:       a.segmentOf(unified),
		})
	}
	return positions, nil
}

// GetTicker reads the ticker for symbol.
func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	const op = "get_ticker"
	if strings.TrimSpace(symbol) == "" {
		return nil, a.stamp(op, validationf(op, "symbol is required"))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	var t *Ticker
	err := a.call(ctx, op, endpointTicker, func(ctx context.Context) error {
		var err error
		t, err = a.venue.FetchTicker(ctx, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &Error{Kind: KindRemoteRejection, Op: op, Venue: a.Venue(), Msg: "no ticker for " + symbol}
	}
	out := *t
	out.Symbol = symbol
	return &out, nil
}

// GetOrderBook reads depth levels per side; 0 leaves the venue default.
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	const op = "get_order_book"
	if strings.TrimSpace(symbol) == "" {
		return nil, a.stamp(op, validationf(op, "symbol is required"))
	}
	if depth < 0 {
		return nil, a.stamp(op, validationf(op, "depth must not be negative, got %d", depth))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	var book *OrderBook
	err := a.call(ctx, op, endpointOrderBook, func(ctx context.Context) error {
		var err error
		book, err = a.venue.FetchOrderBook(ctx, raw, depth)
		return err
	})
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, &Error{Kind: KindRemoteRejection, Op: op, Venue: a.Venue(), Msg: "no order book for " + symbol}
	}
	out := *book
	out.Symbol = symbol
	return &out, nil
}

// GetOHLCV reads candles for interval (e.g. "1m", "1h").
func (a *Adapter) GetOHLCV(ctx context.Context, symbol, interval string, since time.Time, limit int) ([]Candle, error) {
	const op = "get_ohlcv"
	if strings.TrimSpace(symbol) == "" {
		return nil, a.stamp(op, validationf(op, "symbol is required"))
	}
	if strings.TrimSpace(interval) == "" {
		return nil, a.stamp(op, validationf(op, "interval is required"))
	}
	if limit < 0 {
		return nil, a.stamp(op, validationf(op, "limit must not be negative, got %d", limit))
	}
	if err := a.requireConnected(op); err != nil {
		return nil, err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	var candles []Candle
	err := a.call(ctx, op, endpointOHLCV, func(ctx context.Context) error {
		var err error
		candles, err = a.venue.FetchOHLCV(ctx, raw, interval, since, limit)
		return err
	})
	return candles, err
}

// SetLeverage requires 1 <= leverage <= the lower of the venue and market caps.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	const op = "set_leverage"
	err := a.setLeverage(ctx, symbol, leverage)
	if err != nil {
		a.emit(events.OrderFailed{Source: a.source(), Op: op, Symbol: symbol, Err: err.Error()})
		return err
	}
	a.emit(events.LeverageChanged{Source: a.source(), Symbol: symbol, Leverage: leverage})
	return nil
}

func (a *Adapter) setLeverage(ctx context.Context, symbol string, leverage int) error {
	const op = "set_leverage"
	if strings.TrimSpace(symbol) == "" {
		return a.stamp(op, validationf(op, "symbol is required"))
	}
	if leverage < 1 {
		return a.stamp(op, validationf(op, "leverage must be at least 1, got %d", leverage))
	}
	if limit := a.maxLeverage(symbol); limit > 0 && leverage > limit {
		return a.stamp(op, validationf(op, "leverage %d exceeds maximum %d for %s", leverage, limit, symbol))
	}
	if err := a.requireConnected(op); err != nil {
		return err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	return a.call(ctx, op, endpointLeverage, func(ctx context.Context) error {
		return a.venue.SetLeverage(ctx, raw, leverage)
	})
}

// SetMarginMode switches a symbol between isolated and cross margin.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error {
	const op = "set_margin_mode"
	err := a.setMarginMode(ctx, symbol, mode)
	if err != nil {
		a.emit(events.OrderFailed{Source: a.source(), Op: op, Symbol: symbol, Err: err.Error()})
		return err
	}
	a.emit(events.MarginModeChanged{Source: a.source(), Symbol: symbol, Mode: string(mode)})
	return nil
}

func (a *Adapter) setMarginMode(ctx context.Context, symbol string, mode MarginMode) error {
	const op = "set_margin_mode"
	if strings.TrimSpace(symbol) == "" {
		return a.stamp(op, validationf(op, "symbol is required"))
	}
	if !mode.Valid() {
		return a.stamp(op, validationf(op, "invalid margin mode %q", mode))
	}
	if !a.Capabilities().SupportsMarginMode {
		return a.stamp(op, validationf(op, "%s does not support margin mode changes", a.Venue()))
	}
	if err := a.requireConnected(op); err != nil {
		return err
	}
	raw := a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
	return a.call(ctx, op, endpointMarginMode, func(ctx context.Context) error {
		return a.venue.SetMarginMode(ctx, raw, mode)
	})
}

// SetPositionMode switches between hedged and one-way positions.
func (a *Adapter) SetPositionMode(ctx context.Context, hedged bool) error {
	const op = "set_position_mode"
	err := a.setPositionMode(ctx, hedged)
	if err != nil {
		a.emit(events.OrderFailed{Source: a.source(), Op: op, Err: err.Error()})
		return err
	}
	a.emit(events.PositionModeChanged{Source: a.source(), Hedged: hedged})
	return nil
}

func (a *Adapter) setPositionMode(ctx context.Context, hedged bool) error {
	const op = "set_position_mode"
	if !a.Capabilities().SupportsPositionMode {
		return a.stamp(op, validationf(op, "%s does not support position mode changes", a.Venue()))
	}
	if err := a.requireConnected(op); err != nil {
		return err
	}
	return a.call(ctx, op, endpointPositionMode, func(ctx context.Context) error {
		return a.venue.SetPositionMode(ctx, hedged)
	})
}

// ProbeSymbol reports whether this adapter can trade symbol in segment. Known
// active markets answer locally; otherwise a ticker read decides.
func (a *Adapter) ProbeSymbol(ctx context.Context, symbol string, segment MarketSegment) bool {
	if !a.IsConnected() || strings.TrimSpace(symbol) == "" {
		return false
	}
	if segment != "" && !a.Capabilities().Supports(segment) {
		return false
	}
	a.mu.RLock()
	m, known := a.markets[symbol]
	a.mu.RUnlock()
	if known {
		return m.Active && (segment == "" || m.Segment == segment)
	}
	t, err := a.GetTicker(ctx, symbol)
	if err != nil {
		logx.WithContext(ctx).Debugf("exchange: %s probe %s: %v", a.Venue(), symbol, err)
		return false
	}
	return t.Reference().IsPositive()
}

func (a *Adapter) call(ctx context.Context, op, endpoint string, fn func(context.Context) error) error {
	venue := a.Venue()
	if !a.limiter.TryAcquire(a.limitKey(endpoint)) {
		metricCalls.Inc(venue, endpoint, "rate_limited")
		return &Error{Kind: KindRateLimited, Op: op, Venue: venue, Msg: "request budget exhausted for " + endpoint}
	}

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	start := timex.Now()
	err := fn(callCtx)
	metricCallDuration.Observe(timex.Since(start).Milliseconds(), venue, endpoint)
	if err != nil {
		err = a.classify(op, err)
	}
	metricCalls.Inc(venue, endpoint, resultLabel(err))
	return err
}

// classify maps venue errors onto the taxonomy. Anything the venue did not
// mark as a rejection is a transport failure, including timeouts.
func (a *Adapter) classify(op string, err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		return a.stamp(op, typed)
	}
	msg := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &Error{Kind: KindConnection, Op: op, Venue: a.Venue(), Msg: msg, Err: err}
}

func (a *Adapter) stamp(op string, err error) error {
	var typed *Error
	if !errors.As(err, &typed) {
		return err
	}
	cp := *typed
	if cp.Op == "" || cp.Op == "validate" {
		cp.Op = op
	}
	if cp.Venue == "" {
		cp.Venue = a.Venue()
	}
	return &cp
}

func (a *Adapter) requireConnected(op string) error {
	if a.IsConnected() {
		return nil
	}
	return &Error{Kind: KindNotConnected, Op: op, Venue: a.Venue()}
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.callTimeout)
}

func (a *Adapter) limitKey(endpoint string) string {
	return a.Venue() + ":" + a.CredentialID() + "/" + endpoint
}

func (a *Adapter) segmentOf(symbol string) MarketSegment {
	a.mu.RLock()
	m, ok := a.markets[symbol]
	a.mu.RUnlock()
	if ok && m.Segment.Valid() {
		return m.Segment
	}
	if strings.Contains(symbol, ":") {
		return SegmentFutures
	}
	return a.defaultSegment
}

func (a *Adapter) formatOptional(symbol string) string {
	if symbol == "" {
		return ""
	}
	return a.venue.FormatSymbol(symbol, a.segmentOf(symbol))
}

func (a *Adapter) maxLeverage(symbol string) int {
	limit := a.Capabilities().MaxLeverage
	a.mu.RLock()
	m, ok := a.markets[symbol]
	a.mu.RUnlock()
	if ok && m.MaxLeverage > 0 && (limit <= 0 || m.MaxLeverage < limit) {
		limit = m.MaxLeverage
	}
	return limit
}

func (a *Adapter) normalizeOrders(orders []VenueOrder, symbol string) []OrderOutcome {
	out := make([]OrderOutcome, 0, len(orders))
	for _, o := range orders {
		n := a.normalizeOrder(o, "", "")
		if symbol != "" && n.Symbol != symbol {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (a *Adapter) normalizeOrder(vo VenueOrder, symbol string, kind OrderKind) OrderOutcome {
	if vo.Symbol != "" {
		symbol = a.venue.ParseSymbol(vo.Symbol)
	}
	remaining := vo.Remaining
	if remaining.IsZero() && vo.Amount.IsPositive() {
		remaining = decimal.Max(vo.Amount.Sub(vo.Filled), decimal.Zero)
	}
	ts := vo.Timestamp
	if ts.IsZero() {
		ts = a.Now()
	}
	return OrderOutcome{
		ID:           vo.ID,
		ClientID:     vo.ClientID,
		Symbol:       symbol,
		Side:         NormalizeSide(vo.Side),
		Kind:         NormalizeKind(vo.Type, kind),
		Status:       NormalizeStatus(vo.Status, vo.Amount, vo.Filled),
		Amount:       vo.Amount,
		Filled:       vo.Filled,
		Remaining:    remaining,
		Price:        vo.Price,
		TriggerPrice: vo.TriggerPrice,
		AveragePrice: vo.AveragePrice,
		Fee:          vo.Fee,
		ReduceOnly:   vo.ReduceOnly,
		Timestamp:    ts,
	}
}

func (a *Adapter) source() events.Source {
	return events.Source{Venue: a.Venue(), CredentialID: a.CredentialID(), At: a.Now()}
}

func (a *Adapter) emit(ev events.Event) {
	a.sink.Emit(ev)
}

func (a *Adapter) setDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}
