package sim

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

const (
	venueName          = "sim"
	settlementCurrency = "USDT"
	perpSuffix         = "-PERP"
	defaultBookDepth   = 10
)

var (
	defaultInitialEquity = decimal.NewFromInt(100000)
	takerFeeRate         = decimal.RequireFromString("0.0005")
	bookTick             = decimal.RequireFromString("0.0001")
	knownQuotes          = []string{"USDT", "USDC", "USD", "BTC", "ETH"}
)

// Venue is a paper-trading exchange that keeps balances, positions and
// resting orders in memory. Marks are driven by SetMarkPrice; every mark
// update triggers stop orders and fills marketable limits. Positions are
// netted per symbol.
type Venue struct {
	clock     func() time.Time
	skew      time.Duration
	rateLimit exchange.RateLimit

	mu         sync.Mutex
	markets    []exchange.MarketInfo
	marks      map[string]decimal.Decimal
	positions  map[string]*position
	orders     map[string]*order
	leverage   map[string]int
	marginMode map[string]exchange.MarginMode
	ticks      map[string][]tick
	hedged     bool
	cash       decimal.Decimal
	seq        int64

	faults  map[string]*fault
	latency time.Duration
	calls   map[string]int
	closed  int
}

type position struct {
	qty   decimal.Decimal // positive long, negative short
	entry decimal.Decimal
	pnl   decimal.Decimal // realised
}

type tick struct {
	at     time.Time
	price  decimal.Decimal
	volume decimal.Decimal
}

// Option customises a Venue.
type Option func(*Venue)

// WithMarkets replaces the default instrument list.
func WithMarkets(markets ...exchange.MarketInfo) Option {
	return func(v *Venue) { v.markets = append([]exchange.MarketInfo(nil), markets...) }
}

// WithInitialBalance sets the starting settlement balance.
func WithInitialBalance(amount decimal.Decimal) Option {
	return func(v *Venue) { v.cash = amount }
}

// WithClock overrides the venue's time source.
func WithClock(now func() time.Time) Option {
	return func(v *Venue) {
		if now != nil {
			v.clock = now
		}
	}
}

// WithClockSkew makes FetchTime report clock()+skew.
func WithClockSkew(skew time.Duration) Option {
	return func(v *Venue) { v.skew = skew }
}

// WithRateLimit overrides the declared request budget.
func WithRateLimit(rl exchange.RateLimit) Option {
	return func(v *Venue) { v.rateLimit = rl }
}

// New constructs a simulator with default markets and equity.
func New(opts ...Option) *Venue {
	v := &Venue{
		clock:      time.Now,
		rateLimit:  exchange.RateLimit{Requests: 20, Window: time.Second},
		markets:    defaultMarkets(),
		marks:      make(map[string]decimal.Decimal),
		positions:  make(map[string]*position),
		orders:     make(map[string]*order),
		leverage:   make(map[string]int),
		marginMode: make(map[string]exchange.MarginMode),
		ticks:      make(map[string][]tick),
		cash:       defaultInitialEquity,
		faults:     make(map[string]*fault),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func defaultMarkets() []exchange.MarketInfo {
	return []exchange.MarketInfo{
		{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Segment: exchange.SegmentSpot, SizeDecimals: 6, Active: true},
		{Symbol: "ETH/USDT", Base: "ETH", Quote: "USDT", Segment: exchange.SegmentSpot, SizeDecimals: 5, Active: true},
		{Symbol: "BTC/USDT:USDT", Base: "BTC", Quote: "USDT", Segment: exchange.SegmentFutures, MaxLeverage: 50, SizeDecimals: 3, Active: true},
		{Symbol: "ETH/USDT:USDT", Base: "ETH", Quote: "USDT", Segment: exchange.SegmentFutures, MaxLeverage: 25, SizeDecimals: 3, Active: true},
		{Symbol: "SOL/USDT:USDT", Base: "SOL", Quote: "USDT", Segment: exchange.SegmentFutures, MaxLeverage: 20, SizeDecimals: 1, Active: true},
	}
}

func init() {
	exchange.RegisterVenue(venueName, func(cred exchange.Credential, opts exchange.VenueOptions) (exchange.Venue, error) {
		return New(), nil
	})
}

func (v *Venue) Name() string { return venueName }

func (v *Venue) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		Segments:             []exchange.MarketSegment{exchange.SegmentSpot, exchange.SegmentFutures},
		MaxLeverage:          50,
		RateLimit:            v.rateLimit,
		SupportsMarginMode:   true,
		SupportsPositionMode: true,
	}
}

// FormatSymbol renders "BTC/USDT" as "BTCUSDT" and "BTC/USDT:USDT" (or any
// leveraged segment) as "BTCUSDT-PERP".
func (v *Venue) FormatSymbol(symbol string, segment exchange.MarketSegment) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.Contains(s, "/") {
		return s
	}
	perp := segment.Leveraged()
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
		perp = true
	}
	s = strings.ReplaceAll(s, "/", "")
	if perp {
		s += perpSuffix
	}
	return s
}

// ParseSymbol is the inverse of FormatSymbol.
func (v *Venue) ParseSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	perp := strings.HasSuffix(s, perpSuffix)
	s = strings.TrimSuffix(s, perpSuffix)
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			base := strings.TrimSuffix(s, quote)
			if perp {
				return base + "/" + quote + ":" + quote
			}
			return base + "/" + quote
		}
	}
	return raw
}

// SetMarkPrice moves the mark for a unified or raw symbol and matches any
// resting orders against it.
func (v *Venue) SetMarkPrice(symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("sim: mark price must be positive")
	}
	raw := v.rawSymbol(symbol)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[raw] = price
	v.ticks[raw] = append(v.ticks[raw], tick{at: v.clock(), price: price})
	v.matchLocked(raw)
	return nil
}

// Equity returns cash plus unrealised PnL in the settlement currency.
func (v *Venue) Equity() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	unreal, _ := v.exposureLocked()
	return v.cash.Add(unreal)
}

func (v *Venue) FetchTime(ctx context.Context) (time.Time, error) {
	if err := v.enter(ctx, OpTime); err != nil {
		return time.Time{}, err
	}
	return v.clock().Add(v.skew), nil
}

func (v *Venue) LoadMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	if err := v.enter(ctx, OpMarkets); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.MarketInfo(nil), v.markets...), nil
}

// PlaceOrder fills market and marketable limit orders at the mark, rests
// other limits, and arms stop orders until the mark crosses their trigger.
func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.VenueOrder, error) {
	if err := v.enter(ctx, OpPlace); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, exchange.Rejected("order size must be positive")
	}
	if req.Pricing == nil {
		return nil, exchange.Rejected("order type is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	market, ok := v.marketLocked(req.Symbol)
	if !ok {
		return nil, exchange.Rejected("unknown symbol " + req.Symbol)
	}
	if !market.Active {
		return nil, exchange.Rejected("market " + req.Symbol + " is halted")
	}
	mark, hasMark := v.marks[req.Symbol]

	v.seq++
	o := &order{
		id:         strconv.FormatInt(v.seq, 10),
		clientID:   req.ClientID,
		raw:        req.Symbol,
		side:       req.Side,
		kind:       req.Pricing.Kind(),
		amount:     req.Amount,
		reduceOnly: req.ReduceOnly,
		status:     statusNew,
		seq:        v.seq,
		created:    v.clock(),
	}
	switch p := req.Pricing.(type) {
	case exchange.LimitPricing:
		o.price = p.Price
	case exchange.StopPricing:
		o.trigger = p.Trigger
	case exchange.StopLimitPricing:
		o.trigger = p.Trigger
		o.price = p.Price
	}
	o.updated = o.created

	if req.ReduceOnly {
		if err := v.checkReduceOnlyLocked(req.Symbol, req.Side); err != nil {
			return nil, err
		}
	}

	switch o.kind {
	case exchange.OrderMarket:
		if !hasMark {
			return nil, exchange.Rejected("no market price for " + req.Symbol)
		}
		if err := v.executeLocked(o, mark); err != nil {
			return nil, err
		}
	case exchange.OrderLimit:
		if hasMark && o.marketable(mark) {
			if err := v.executeLocked(o, mark); err != nil {
				return nil, err
			}
		}
	case exchange.OrderStop, exchange.OrderStopLimit:
		if hasMark && o.crossed(mark) {
			return nil, exchange.Rejected("order would immediately trigger")
		}
		o.status = statusUntriggered
	}

	v.orders[o.id] = o
	vo := o.toVenue()
	return &vo, nil
}

func (v *Venue) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := v.enter(ctx, OpCancel); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok || (symbol != "" && o.raw != symbol) {
		return exchange.Rejected("order " + id + " not found")
	}
	if !o.open() {
		return exchange.Rejected("order " + id + " is already " + o.status)
	}
	o.status = statusCanceled
	o.updated = v.clock()
	return nil
}

func (v *Venue) FetchOrder(ctx context.Context, id, symbol string) (*exchange.VenueOrder, error) {
	if err := v.enter(ctx, OpFetchOrder); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok || (symbol != "" && o.raw != symbol) {
		return nil, exchange.Rejected("order " + id + " not found")
	}
	vo := o.toVenue()
	return &vo, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.VenueOrder, error) {
	if err := v.enter(ctx, OpOpenOrders); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collectLocked(func(o *order) bool {
		return o.open() && (symbol == "" || o.raw == symbol)
	}, time.Time{}, 0), nil
}

func (v *Venue) FetchClosedOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]exchange.VenueOrder, error) {
	if err := v.enter(ctx, OpClosedOrders); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collectLocked(func(o *order) bool {
		return !o.open() && (symbol == "" || o.raw == symbol)
	}, since, limit), nil
}

// FetchBalance reports the settlement currency only; spot fills are
// margined like perpetuals.
func (v *Venue) FetchBalance(ctx context.Context, segment exchange.MarketSegment) ([]exchange.Balance, error) {
	if err := v.enter(ctx, OpBalance); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	unreal, used := v.exposureLocked()
	total := v.cash.Add(unreal)
	return []exchange.Balance{{
		Currency: settlementCurrency,
		Total:    total,
		Free:     decimal.Max(total.Sub(used), decimal.Zero),
		Used:     used,
	}}, nil
}

func (v *Venue) FetchPositions(ctx context.Context, symbols []string) ([]exchange.VenuePosition, error) {
	if err := v.enter(ctx, OpPositions); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]exchange.VenuePosition, 0, len(v.positions))
	for raw, p := range v.positions {
		if len(want) > 0 && !want[raw] {
			continue
		}
		mark := v.markLocked(raw)
		out = append(out, exchange.VenuePosition{
			Symbol:        raw,
			Size:          p.qty,
			EntryPrice:    p.entry,
			MarkPrice:     mark,
			UnrealizedPnL: p.qty.Mul(mark.Sub(p.entry)),
			RealizedPnL:   p.pnl,
			Leverage:      v.leverageLocked(raw),
			MarginMode:    string(v.marginModeLocked(raw)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (v *Venue) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if err := v.enter(ctx, OpTicker); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	mark, ok := v.marks[symbol]
	if !ok {
		return nil, exchange.Rejected("no market price for " + symbol)
	}
	spread := mark.Mul(bookTick)
	high, low, volume := v.dayRangeLocked(symbol)
	return &exchange.Ticker{
		Symbol:    symbol,
		Bid:       mark.Sub(spread),
		Ask:       mark.Add(spread),
		Last:      mark,
		High:      high,
		Low:       low,
		Volume:    volume,
		Timestamp: v.clock(),
	}, nil
}

// FetchOrderBook synthesises depth levels one tick apart around the mark.
func (v *Venue) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	if err := v.enter(ctx, OpOrderBook); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = defaultBookDepth
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	mark, ok := v.marks[symbol]
	if !ok {
		return nil, exchange.Rejected("no market price for " + symbol)
	}
	step := mark.Mul(bookTick)
	book := &exchange.OrderBook{Symbol: symbol, Timestamp: v.clock()}
	for i := 1; i <= depth; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		size := decimal.NewFromInt(int64(i))
		book.Bids = append(book.Bids, exchange.PriceLevel{Price: mark.Sub(offset), Amount: size})
		book.Asks = append(book.Asks, exchange.PriceLevel{Price: mark.Add(offset), Amount: size})
	}
	return book, nil
}

// FetchOHLCV aggregates mark updates and fills into candles.
func (v *Venue) FetchOHLCV(ctx context.Context, symbol, interval string, since time.Time, limit int) ([]exchange.Candle, error) {
	if err := v.enter(ctx, OpOHLCV); err != nil {
		return nil, err
	}
	step, err := exchange.ParseInterval(interval)
	if err != nil {
		return nil, exchange.Rejected(err.Error())
	}
	v.mu.Lock()
	ticks := append([]tick(nil), v.ticks[symbol]...)
	v.mu.Unlock()
	return aggregate(ticks, step, since, limit), nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := v.enter(ctx, OpLeverage); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	market, ok := v.marketLocked(symbol)
	if !ok {
		return exchange.Rejected("unknown symbol " + symbol)
	}
	if !market.Segment.Leveraged() {
		return exchange.Rejected("leverage is not available on spot market " + symbol)
	}
	if market.MaxLeverage > 0 && leverage > market.MaxLeverage {
		return exchange.Rejected(fmt.Sprintf("leverage %d exceeds %d for %s", leverage, market.MaxLeverage, symbol))
	}
	v.leverage[symbol] = leverage
	return nil
}

func (v *Venue) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	if err := v.enter(ctx, OpMarginMode); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.marketLocked(symbol); !ok {
		return exchange.Rejected("unknown symbol " + symbol)
	}
	if p, ok := v.positions[symbol]; ok && !p.qty.IsZero() {
		return exchange.Rejected("cannot change margin mode with an open position")
	}
	v.marginMode[symbol] = mode
	return nil
}

// SetPositionMode records the flag; positions stay netted.
func (v *Venue) SetPositionMode(ctx context.Context, hedged bool) error {
	if err := v.enter(ctx, OpPositionMode); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.positions) > 0 {
		return exchange.Rejected("cannot change position mode with open positions")
	}
	v.hedged = hedged
	return nil
}

// Hedged reports the last position mode set.
func (v *Venue) Hedged() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hedged
}

func (v *Venue) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed++
	return nil
}

// Closed reports how many times Close was called.
func (v *Venue) Closed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *Venue) rawSymbol(symbol string) string {
	segment := exchange.SegmentSpot
	if strings.Contains(symbol, ":") {
		segment = exchange.SegmentFutures
	}
	return v.FormatSymbol(symbol, segment)
}

func (v *Venue) marketLocked(raw string) (exchange.MarketInfo, bool) {
	for _, m := range v.markets {
		if v.FormatSymbol(m.Symbol, m.Segment) == raw {
			return m, true
		}
	}
	return exchange.MarketInfo{}, false
}

func (v *Venue) markLocked(raw string) decimal.Decimal {
	if mark, ok := v.marks[raw]; ok {
		return mark
	}
	if p, ok := v.positions[raw]; ok {
		return p.entry
	}
	return decimal.Zero
}

func (v *Venue) leverageLocked(raw string) int {
	if lev, ok := v.leverage[raw]; ok && lev > 0 {
		return lev
	}
	return 1
}

func (v *Venue) marginModeLocked(raw string) exchange.MarginMode {
	if mode, ok := v.marginMode[raw]; ok {
		return mode
	}
	return exchange.MarginCross
}

// exposureLocked returns total unrealised PnL and margin in use.
func (v *Venue) exposureLocked() (decimal.Decimal, decimal.Decimal) {
	unreal := decimal.Zero
	used := decimal.Zero
	for raw, p := range v.positions {
		mark := v.markLocked(raw)
		unreal = unreal.Add(p.qty.Mul(mark.Sub(p.entry)))
		notional := p.qty.Abs().Mul(mark)
		used = used.Add(notional.Div(decimal.NewFromInt(int64(v.leverageLocked(raw)))))
	}
	return unreal, used
}

func (v *Venue) dayRangeLocked(raw string) (high, low, volume decimal.Decimal) {
	cutoff := v.clock().Add(-24 * time.Hour)
	for _, t := range v.ticks[raw] {
		if t.at.Before(cutoff) {
			continue
		}
		if high.IsZero() || t.price.GreaterThan(high) {
			high = t.price
		}
		if low.IsZero() || t.price.LessThan(low) {
			low = t.price
		}
		volume = volume.Add(t.volume)
	}
	return high, low, volume
}

func (v *Venue) collectLocked(keep func(*order) bool, since time.Time, limit int) []exchange.VenueOrder {
	matched := make([]*order, 0)
	for _, o := range v.orders {
		if keep(o) && !o.created.Before(since) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]exchange.VenueOrder, 0, len(matched))
	for _, o := range matched {
		out = append(out, o.toVenue())
	}
	return out
}
