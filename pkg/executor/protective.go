package executor

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
)

// SetStopLoss replaces the stop-loss of the open position on symbol.
func (e *Executor) SetStopLoss(ctx context.Context, symbol string, trigger decimal.Decimal) (*ProtectiveResult, error) {
	return e.replaceProtective(ctx, LegStopLoss, symbol, trigger)
}

// SetTakeProfit replaces the take-profit of the open position on symbol.
func (e *Executor) SetTakeProfit(ctx context.Context, symbol string, price decimal.Decimal) (*ProtectiveResult, error) {
	return e.replaceProtective(ctx, LegTakeProfit, symbol, price)
}

// replaceProtective validates price against the position's entry, cancels
// the existing protective orders of the same leg and places the new one.
// Cancel failures are logged and do not block the new order.
func (e *Executor) replaceProtective(ctx context.Context, leg Leg, symbol string, price decimal.Decimal) (*ProtectiveResult, error) {
	op := "set_" + string(leg)
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, exchange.Invalidf(op, "symbol is required")
	}
	if !price.IsPositive() {
		return nil, exchange.Invalidf(op, "price must be positive, got %s", price)
	}

	positions, err := e.trader.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pos, ok := findPosition(positions, symbol)
	if !ok {
		return nil, exchange.Invalidf(op, "no open position on %s", symbol)
	}
	if err := checkProtectiveSide(op, leg, pos, price); err != nil {
		return nil, err
	}

	res := &ProtectiveResult{}
	open, err := e.trader.GetOpenOrders(ctx, symbol)
	if err != nil {
		logx.WithContext(ctx).Errorf("executor: %s %s: list open orders: %v", op, symbol, err)
	}
	for _, o := range open {
		if protectiveLeg(o, pos) != leg {
			continue
		}
		if err := e.trader.CancelOrder(ctx, o.ID, symbol); err != nil {
			logx.WithContext(ctx).Errorf("executor: %s %s: cancel previous order %s: %v", op, symbol, o.ID, err)
			continue
		}
		res.CancelledIDs = append(res.CancelledIDs, o.ID)
	}

	segment := pos.Segment
	if segment == "" {
		segment = exchange.SegmentFutures
	}
	var pricing exchange.Pricing
	if leg == LegStopLoss {
		pricing = stopLossPricing(StopLossSpec{Trigger: price, Kind: exchange.OrderStop})
	} else {
		pricing = takeProfitPricing(TakeProfitSpec{Price: price, Kind: e.cfg.TakeProfitKind, LimitPrice: price})
	}
	intent, err := protectiveIntent(symbol, pos.Side.EntrySide().Opposite(), pos.Size.Abs(), pricing, segment, legClientID(e.newID(), leg))
	if err != nil {
		return nil, err
	}
	order, placeErr := e.trader.PlaceOrder(ctx, intent)
	res.Order = order

	kind := journal.KindStopLoss
	if leg == LegTakeProfit {
		kind = journal.KindTakeProfit
	}
	rec := &journal.Record{
		Kind:      kind,
		Symbol:    symbol,
		Success:   placeErr == nil,
		Orders:    []journal.OrderEntry{orderEntry(leg, order, placeErr)},
		Cancelled: res.CancelledIDs,
	}
	if placeErr != nil {
		rec.Errors = []string{placeErr.Error()}
	}
	e.record(ctx, rec)

	if placeErr != nil {
		return res, placeErr
	}
	logx.WithContext(ctx).Infof("executor: %s %s at %s order=%s cancelled=%v", op, symbol, price, order.ID, res.CancelledIDs)
	return res, nil
}

func findPosition(positions []exchange.PositionSnapshot, symbol string) (exchange.PositionSnapshot, bool) {
	for _, p := range positions {
		if !p.Size.IsZero() && strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return exchange.PositionSnapshot{}, false
}

// checkProtectiveSide requires a long's stop below entry and target above
// it; reversed for shorts.
func checkProtectiveSide(op string, leg Leg, pos exchange.PositionSnapshot, price decimal.Decimal) error {
	if !pos.EntryPrice.IsPositive() {
		return nil
	}
	long := pos.Side != exchange.PositionShort
	below := price.LessThan(pos.EntryPrice)
	above := price.GreaterThan(pos.EntryPrice)
	switch {
	case leg == LegStopLoss && long && !below:
		return exchange.Invalidf(op, "stop-loss %s must be below long entry %s", price, pos.EntryPrice)
	case leg == LegStopLoss && !long && !above:
		return exchange.Invalidf(op, "stop-loss %s must be above short entry %s", price, pos.EntryPrice)
	case leg == LegTakeProfit && long && !above:
		return exchange.Invalidf(op, "take-profit %s must be above long entry %s", price, pos.EntryPrice)
	case leg == LegTakeProfit && !long && !below:
		return exchange.Invalidf(op, "take-profit %s must be below short entry %s", price, pos.EntryPrice)
	}
	return nil
}

// protectiveLeg classifies an open order as a stop-loss or take-profit of
// pos, or "" when it is neither. Client IDs set by this package win; other
// orders are judged by side and price relative to entry.
func protectiveLeg(o exchange.OrderOutcome, pos exchange.PositionSnapshot) Leg {
	if o.Side != pos.Side.EntrySide().Opposite() {
		return ""
	}
	switch {
	case strings.HasSuffix(o.ClientID, "-sl"):
		return LegStopLoss
	case strings.HasSuffix(o.ClientID, "-tp"):
		return LegTakeProfit
	}
	if !pos.EntryPrice.IsPositive() {
		return ""
	}
	long := pos.Side != exchange.PositionShort
	if o.Kind.Triggered() {
		px := o.TriggerPrice
		if !px.IsPositive() {
			return ""
		}
		if long == px.LessThan(pos.EntryPrice) {
			return LegStopLoss
		}
		return LegTakeProfit
	}
	if o.Kind == exchange.OrderLimit && o.ReduceOnly {
		if long == o.Price.GreaterThan(pos.EntryPrice) {
			return LegTakeProfit
		}
	}
	return ""
}
