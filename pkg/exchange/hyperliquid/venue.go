package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

const (
	quoteCurrency     = "USDC"
	defaultBookDepth  = 20
	defaultCandleRows = 500
)

var _ exchange.Venue = (*Venue)(nil)

func (v *Venue) Name() string { return venueName }

// Capabilities reports perpetual futures only. MaxLeverage follows the
// universe once markets have been loaded.
func (v *Venue) Capabilities() exchange.Capabilities {
	v.assetMu.RLock()
	maxLev := v.maxLev
	v.assetMu.RUnlock()
	return exchange.Capabilities{
		Segments:           []exchange.MarketSegment{exchange.SegmentFutures},
		MaxLeverage:        maxLev,
		RateLimit:          exchange.RateLimit{Requests: 20, Window: time.Second},
		SupportsMarginMode: true,
	}
}

// FormatSymbol maps "BTC/USDC:USDC" to the coin name "BTC".
func (v *Venue) FormatSymbol(symbol string, _ exchange.MarketSegment) string {
	s := strings.TrimSpace(symbol)
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return s
}

func (v *Venue) ParseSymbol(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "/") {
		return raw
	}
	return raw + "/" + quoteCurrency + ":" + quoteCurrency
}

// FetchTime reads the server clock from the Date header of a meta request.
func (v *Venue) FetchTime(ctx context.Context) (time.Time, error) {
	served, err := v.info(ctx, InfoRequest{Type: "meta"}, nil)
	if err != nil {
		return time.Time{}, err
	}
	if served.IsZero() {
		return v.clock(), nil
	}
	return served, nil
}

func (v *Venue) LoadMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	assets, err := v.refreshAssets(ctx)
	if err != nil {
		return nil, err
	}
	markets := make([]exchange.MarketInfo, 0, len(assets))
	for _, a := range assets {
		markets = append(markets, exchange.MarketInfo{
			Symbol:       v.ParseSymbol(a.Name),
			Base:         a.Name,
			Quote:        quoteCurrency,
			Segment:      exchange.SegmentFutures,
			MaxLeverage:  a.MaxLeverage,
			SizeDecimals: a.SzDecimals,
			Active:       !a.Delisted,
		})
	}
	return markets, nil
}

func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.VenueOrder, error) {
	asset, err := v.asset(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	var ref decimal.Decimal
	if _, isLimit := req.Pricing.(exchange.LimitPricing); !isLimit {
		if ref, err = v.mid(ctx, asset); err != nil {
			return nil, err
		}
	}
	slippage, err := decimal.NewFromString(v.slippage)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: invalid slippage %q: %w", v.slippage, err)
	}
	payload, err := buildOrderPayload(req, asset, ref, slippage)
	if err != nil {
		return nil, err
	}
	statuses, err := v.submit(ctx, buildPlaceOrderAction(payload))
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, errors.New("hyperliquid: order response carried no status")
	}
	st := statuses[0]
	if st.Error != "" {
		return nil, exchange.Rejected(st.Error)
	}

	amount := parseDecimal(payload.Sz)
	out := &exchange.VenueOrder{
		ClientID:   req.ClientID,
		Symbol:     asset.Name,
		Side:       string(req.Side),
		Type:       pricingLabel(req.Pricing),
		Amount:     amount,
		Remaining:  amount,
		ReduceOnly: req.ReduceOnly,
		Timestamp:  req.Timestamp,
	}
	if t := payload.OrderType.Trigger; t != nil {
		out.TriggerPrice = parseDecimal(t.TriggerPx)
		if !t.IsMarket {
			out.Price = parseDecimal(payload.LimitPx)
		}
	} else if _, isMarket := req.Pricing.(exchange.MarketPricing); !isMarket {
		out.Price = parseDecimal(payload.LimitPx)
	}

	switch {
	case st.Filled != nil:
		out.ID = fmt.Sprint(st.Filled.Oid)
		out.Filled = parseDecimal(st.Filled.TotalSz)
		out.AveragePrice = parseDecimal(st.Filled.AvgPx)
		out.Remaining = decimal.Max(amount.Sub(out.Filled), decimal.Zero)
		switch {
		case out.Remaining.IsZero():
			out.Status = "filled"
		case payload.OrderType.Limit != nil && payload.OrderType.Limit.TIF == tifIOC:
			out.Status = "canceled"
		default:
			out.Status = "open"
		}
	case st.Resting != nil:
		out.ID = fmt.Sprint(st.Resting.Oid)
		out.Status = "open"
		if payload.OrderType.Trigger != nil {
			out.Status = "untriggered"
		}
	default:
		return nil, fmt.Errorf("hyperliquid: unexpected order status for %s", asset.Name)
	}
	return out, nil
}

func (v *Venue) CancelOrder(ctx context.Context, id, symbol string) error {
	asset, err := v.asset(ctx, symbol)
	if err != nil {
		return err
	}
	statuses, err := v.submit(ctx, buildCancelAction(asset.Index, id))
	if err != nil {
		return err
	}
	if len(statuses) > 0 && statuses[0].Error != "" {
		return exchange.Rejected(statuses[0].Error)
	}
	return nil
}

func (v *Venue) FetchOrder(ctx context.Context, id, symbol string) (*exchange.VenueOrder, error) {
	var resp orderStatusResponse
	if _, err := v.info(ctx, InfoRequest{Type: "orderStatus", User: v.Address(), Oid: orderRef(id)}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "order" || resp.Order == nil {
		return nil, exchange.Rejected(fmt.Sprintf("unknown order %s", id))
	}
	vo := toVenueOrder(resp.Order.Order, resp.Order.Status)
	return &vo, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.VenueOrder, error) {
	var open []wireOrder
	if _, err := v.info(ctx, InfoRequest{Type: "frontendOpenOrders", User: v.Address()}, &open); err != nil {
		return nil, err
	}
	out := make([]exchange.VenueOrder, 0, len(open))
	for _, o := range open {
		if symbol != "" && !strings.EqualFold(o.Coin, symbol) {
			continue
		}
		status := "open"
		if o.IsTrigger {
			status = "untriggered"
		}
		out = append(out, toVenueOrder(o, status))
	}
	return out, nil
}

// FetchClosedOrders returns terminal orders oldest first, keeping the latest
// update per order.
func (v *Venue) FetchClosedOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]exchange.VenueOrder, error) {
	var history []orderWithStatus
	if _, err := v.info(ctx, InfoRequest{Type: "historicalOrders", User: v.Address()}, &history); err != nil {
		return nil, err
	}
	latest := make(map[int64]orderWithStatus, len(history))
	for _, h := range history {
		if symbol != "" && !strings.EqualFold(h.Order.Coin, symbol) {
			continue
		}
		if !since.IsZero() && h.StatusTimestamp < since.UnixMilli() {
			continue
		}
		if prev, ok := latest[h.Order.Oid]; ok && prev.StatusTimestamp > h.StatusTimestamp {
			continue
		}
		latest[h.Order.Oid] = h
	}
	closed := make([]orderWithStatus, 0, len(latest))
	for _, h := range latest {
		vo := toVenueOrder(h.Order, h.Status)
		if exchange.NormalizeStatus(vo.Status, vo.Amount, vo.Filled).Terminal() {
			closed = append(closed, h)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		if closed[i].StatusTimestamp == closed[j].StatusTimestamp {
			return closed[i].Order.Oid < closed[j].Order.Oid
		}
		return closed[i].StatusTimestamp < closed[j].StatusTimestamp
	})
	if limit > 0 && len(closed) > limit {
		closed = closed[len(closed)-limit:]
	}
	out := make([]exchange.VenueOrder, 0, len(closed))
	for _, h := range closed {
		out = append(out, toVenueOrder(h.Order, h.Status))
	}
	return out, nil
}

// FetchBalance reports the perpetual margin account in USDC whatever the
// segment asked for; the venue has no other.
func (v *Venue) FetchBalance(ctx context.Context, _ exchange.MarketSegment) ([]exchange.Balance, error) {
	state, err := v.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	return []exchange.Balance{{
		Currency: quoteCurrency,
		Total:    parseDecimal(state.MarginSummary.AccountValue),
		Free:     parseDecimal(state.Withdrawable),
		Used:     parseDecimal(state.MarginSummary.TotalMarginUsed),
	}}, nil
}

func (v *Venue) FetchPositions(ctx context.Context, symbols []string) ([]exchange.VenuePosition, error) {
	state, err := v.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[canonicalAssetKey(s)] = true
	}
	out := make([]exchange.VenuePosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		if len(want) > 0 && !want[canonicalAssetKey(p.Coin)] {
			continue
		}
		size := parseDecimal(p.Szi)
		var mark decimal.Decimal
		if !size.IsZero() {
			mark = parseDecimal(p.PositionValue).Div(size.Abs())
		}
		out = append(out, exchange.VenuePosition{
			Symbol:        p.Coin,
			Size:          size,
			EntryPrice:    parseDecimal(p.EntryPx),
			MarkPrice:     mark,
			UnrealizedPnL: parseDecimal(p.UnrealizedPnl),
			Leverage:      p.Leverage.Value,
			MarginMode:    p.Leverage.Type,
		})
	}
	return out, nil
}

// FetchTicker combines the asset context (mark, volume, previous day) with
// the top of the book.
func (v *Venue) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	assets, err := v.refreshAssets(ctx)
	if err != nil {
		return nil, err
	}
	var asset *assetInfo
	for i := range assets {
		if canonicalAssetKey(assets[i].Name) == canonicalAssetKey(symbol) {
			asset = &assets[i]
			break
		}
	}
	if asset == nil {
		return nil, exchange.Rejected(fmt.Sprintf("unknown asset %s", symbol))
	}
	book, err := v.FetchOrderBook(ctx, asset.Name, 1)
	if err != nil {
		return nil, err
	}
	t := &exchange.Ticker{
		Symbol:    asset.Name,
		Last:      parseDecimal(asset.MarkPx),
		Volume:    parseDecimal(asset.DayBaseVlm),
		Timestamp: book.Timestamp,
	}
	if len(book.Bids) > 0 {
		t.Bid = book.Bids[0].Price
	}
	if len(book.Asks) > 0 {
		t.Ask = book.Asks[0].Price
	}
	return t, nil
}

func (v *Venue) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	asset, err := v.asset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = defaultBookDepth
	}
	var raw l2Book
	if _, err := v.info(ctx, InfoRequest{Type: "l2Book", Coin: asset.Name}, &raw); err != nil {
		return nil, err
	}
	book := &exchange.OrderBook{Symbol: asset.Name, Timestamp: time.UnixMilli(raw.Time).UTC()}
	side := func(levels []l2BookLevel) []exchange.PriceLevel {
		if len(levels) > depth {
			levels = levels[:depth]
		}
		out := make([]exchange.PriceLevel, 0, len(levels))
		for _, l := range levels {
			out = append(out, exchange.PriceLevel{Price: parseDecimal(l.Px), Amount: parseDecimal(l.Sz)})
		}
		return out
	}
	if len(raw.Levels) > 0 {
		book.Bids = side(raw.Levels[0])
	}
	if len(raw.Levels) > 1 {
		book.Asks = side(raw.Levels[1])
	}
	return book, nil
}

func (v *Venue) FetchOHLCV(ctx context.Context, symbol, interval string, since time.Time, limit int) ([]exchange.Candle, error) {
	step, err := exchange.ParseInterval(interval)
	if err != nil {
		return nil, exchange.Rejected(err.Error())
	}
	asset, err := v.asset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	rows := limit
	if rows <= 0 {
		rows = defaultCandleRows
	}
	end := v.clock()
	start := since
	if start.IsZero() {
		start = end.Add(-step * time.Duration(rows))
	}
	var raw []wireCandle
	req := InfoRequest{Type: "candleSnapshot", Req: &candleRequest{
		Coin:      asset.Name,
		Interval:  interval,
		StartTime: start.UnixMilli(),
		EndTime:   end.UnixMilli(),
	}}
	if _, err := v.info(ctx, req, &raw); err != nil {
		return nil, err
	}
	candles := make([]exchange.Candle, 0, len(raw))
	for _, c := range raw {
		candles = append(candles, exchange.Candle{
			Time:   time.UnixMilli(c.OpenTime).UTC(),
			Open:   parseDecimal(c.Open),
			High:   parseDecimal(c.High),
			Low:    parseDecimal(c.Low),
			Close:  parseDecimal(c.Close),
			Volume: parseDecimal(c.Volume),
		})
	}
	if limit > 0 && len(candles) > limit {
		if since.IsZero() {
			candles = candles[len(candles)-limit:]
		} else {
			candles = candles[:limit]
		}
	}
	return candles, nil
}

// SetLeverage keeps the coin's current margin mode.
func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	asset, err := v.asset(ctx, symbol)
	if err != nil {
		return err
	}
	if asset.MaxLeverage > 0 && leverage > asset.MaxLeverage {
		return exchange.Rejected(fmt.Sprintf("leverage %d exceeds %s maximum of %d", leverage, asset.Name, asset.MaxLeverage))
	}
	mode := v.currentMarginMode(asset)
	if _, err := v.submit(ctx, buildLeverageAction(asset.Index, mode == exchange.MarginCross, leverage)); err != nil {
		return err
	}
	v.settingsMu.Lock()
	v.leverage[asset.Name] = leverage
	v.settingsMu.Unlock()
	return nil
}

// SetMarginMode re-submits the coin's leverage with the new mode. When no
// leverage is known for the coin, the open position's or 1x is used.
func (v *Venue) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	asset, err := v.asset(ctx, symbol)
	if err != nil {
		return err
	}
	if asset.OnlyIsolated && mode == exchange.MarginCross {
		return exchange.Rejected(fmt.Sprintf("%s only supports isolated margin", asset.Name))
	}
	leverage, err := v.knownLeverage(ctx, asset)
	if err != nil {
		return err
	}
	if _, err := v.submit(ctx, buildLeverageAction(asset.Index, mode == exchange.MarginCross, leverage)); err != nil {
		return err
	}
	v.settingsMu.Lock()
	v.marginMode[asset.Name] = mode
	v.leverage[asset.Name] = leverage
	v.settingsMu.Unlock()
	return nil
}

// SetPositionMode accepts one-way mode only.
func (v *Venue) SetPositionMode(_ context.Context, hedged bool) error {
	if hedged {
		return exchange.Rejected("hyperliquid accounts are one-way only")
	}
	return nil
}

func (v *Venue) clearinghouse(ctx context.Context) (*clearinghouseState, error) {
	var state clearinghouseState
	if _, err := v.info(ctx, InfoRequest{Type: "clearinghouseState", User: v.Address()}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// mid is the current mid price, falling back to the cached context.
func (v *Venue) mid(ctx context.Context, asset assetInfo) (decimal.Decimal, error) {
	var mids map[string]string
	if _, err := v.info(ctx, InfoRequest{Type: "allMids"}, &mids); err != nil {
		return decimal.Zero, err
	}
	if px := parseDecimal(mids[asset.Name]); px.IsPositive() {
		return px, nil
	}
	for _, s := range []string{asset.MidPx, asset.MarkPx, asset.OraclePx} {
		if px := parseDecimal(s); px.IsPositive() {
			return px, nil
		}
	}
	return decimal.Zero, nil
}

func (v *Venue) currentMarginMode(asset assetInfo) exchange.MarginMode {
	v.settingsMu.Lock()
	defer v.settingsMu.Unlock()
	if mode, ok := v.marginMode[asset.Name]; ok {
		return mode
	}
	if asset.OnlyIsolated {
		return exchange.MarginIsolated
	}
	return exchange.MarginCross
}

func (v *Venue) knownLeverage(ctx context.Context, asset assetInfo) (int, error) {
	v.settingsMu.Lock()
	leverage := v.leverage[asset.Name]
	v.settingsMu.Unlock()
	if leverage > 0 {
		return leverage, nil
	}
	positions, err := v.FetchPositions(ctx, []string{asset.Name})
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Leverage > 0 {
			return p.Leverage, nil
		}
	}
	return 1, nil
}

func pricingLabel(p exchange.Pricing) string {
	switch p.(type) {
	case exchange.MarketPricing:
		return "market"
	case exchange.LimitPricing:
		return "limit"
	case exchange.StopPricing:
		return "stop_market"
	case exchange.StopLimitPricing:
		return "stop_limit"
	}
	return ""
}
