package executor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
)

const opBracket = "place_bracket"

func newGroupID() string { return uuid.NewString() }

// legClientID derives a protective leg's client order ID from the group.
func legClientID(group string, leg Leg) string {
	switch leg {
	case LegStopLoss:
		return group + "-sl"
	case LegTakeProfit:
		return group + "-tp"
	default:
		return group
	}
}

// bracketPlan is a fully validated bracket.
type bracketPlan struct {
	entry  exchange.OrderIntent
	sl     StopLossSpec
	tp     TakeProfitSpec
	ref    decimal.Decimal
	group  string
	closer exchange.Side
}

// PlaceBracket places the entry, then the stop-loss, then the take-profit.
// Invalid specs fail with a validation error before any order is sent.
// Once the entry is attempted the outcome is always a result: a failed entry
// skips both protective legs, and a failed protective leg does not stop the
// other one.
func (e *Executor) PlaceBracket(ctx context.Context, spec BracketSpec) (*BracketResult, error) {
	plan, err := e.planBracket(ctx, spec)
	if err != nil {
		metricBrackets.Inc(e.trader.Venue(), "invalid")
		return nil, err
	}
	res := &BracketResult{GroupID: plan.group, Reference: plan.ref}

	entry, err := e.trader.PlaceOrder(ctx, plan.entry)
	if err == nil {
		err = deadEntry(entry)
	}
	if err != nil {
		res.Errors = append(res.Errors, LegError{Leg: LegEntry, Err: err})
		e.finishBracket(ctx, plan, res)
		return res, nil
	}
	res.Entry = entry

	qty := plan.entry.Quantity
	if entry.Filled.IsPositive() {
		qty = entry.Filled
	}
	var fillErr map[Leg]error
	if entry.HasFill() {
		fillErr = checkAgainstFill(plan, entry.AveragePrice)
	}

	if err := fillErr[LegStopLoss]; err != nil {
		res.Errors = append(res.Errors, LegError{Leg: LegStopLoss, Err: err})
	} else if res.StopLoss, err = e.placeProtective(ctx, plan, LegStopLoss, qty); err != nil {
		res.Errors = append(res.Errors, LegError{Leg: LegStopLoss, Err: err})
	}

	if err := fillErr[LegTakeProfit]; err != nil {
		res.Errors = append(res.Errors, LegError{Leg: LegTakeProfit, Err: err})
	} else if res.TakeProfit, err = e.placeProtective(ctx, plan, LegTakeProfit, qty); err != nil {
		res.Errors = append(res.Errors, LegError{Leg: LegTakeProfit, Err: err})
	}

	res.Success = res.Entry != nil && res.StopLoss != nil && res.TakeProfit != nil
	e.finishBracket(ctx, plan, res)
	return res, nil
}

// deadEntry reports an acknowledged entry that can never open a position:
// rejected, or cancelled before any fill.
func deadEntry(o *exchange.OrderOutcome) error {
	switch {
	case o == nil:
		return exchange.Rejected("entry order returned no outcome")
	case o.Status == exchange.StatusRejected:
		return exchange.Rejected("entry order " + o.ID + " was rejected")
	case o.Status == exchange.StatusCancelled && !o.Filled.IsPositive():
		return exchange.Rejected("entry order " + o.ID + " was cancelled without a fill")
	}
	return nil
}

func (e *Executor) planBracket(ctx context.Context, spec BracketSpec) (*bracketPlan, error) {
	if err := spec.Entry.Validate(); err != nil {
		return nil, err
	}
	if spec.Entry.ReduceOnly {
		return nil, exchange.Invalidf(opBracket, "bracket entry cannot be reduce-only")
	}
	plan := &bracketPlan{entry: spec.Entry, sl: spec.StopLoss, tp: spec.TakeProfit, closer: spec.Entry.Side.Opposite()}

	if plan.sl.Kind == "" {
		plan.sl.Kind = e.cfg.StopLossKind
	}
	switch plan.sl.Kind {
	case exchange.OrderStop:
	case exchange.OrderStopLimit:
		if !plan.sl.LimitPrice.IsPositive() {
			return nil, exchange.Invalidf(opBracket, "stop-limit stop-loss requires a positive limit price")
		}
	default:
		return nil, exchange.Invalidf(opBracket, "stop-loss kind must be stop or stop_limit, got %q", plan.sl.Kind)
	}
	if !plan.sl.Trigger.IsPositive() {
		return nil, exchange.Invalidf(opBracket, "stop-loss trigger must be positive, got %s", plan.sl.Trigger)
	}
	if plan.sl.Kind == exchange.OrderStopLimit {
		if err := checkStopLimit(plan.closer, plan.sl.Trigger, plan.sl.LimitPrice); err != nil {
			return nil, err
		}
	}

	if plan.tp.Kind == "" {
		plan.tp.Kind = e.cfg.TakeProfitKind
	}
	if plan.tp.Kind != exchange.OrderLimit && plan.tp.Kind != exchange.OrderStopLimit {
		return nil, exchange.Invalidf(opBracket, "take-profit kind must be limit or stop_limit, got %q", plan.tp.Kind)
	}
	if !plan.tp.Price.IsPositive() {
		return nil, exchange.Invalidf(opBracket, "take-profit price must be positive, got %s", plan.tp.Price)
	}
	if plan.tp.Kind == exchange.OrderStopLimit && !plan.tp.LimitPrice.IsPositive() {
		plan.tp.LimitPrice = plan.tp.Price
	}
	if spec.ReferencePrice.IsNegative() {
		return nil, exchange.Invalidf(opBracket, "reference price must not be negative, got %s", spec.ReferencePrice)
	}

	ref, err := e.referencePrice(ctx, spec)
	if err != nil {
		return nil, err
	}
	plan.ref = ref
	if err := checkPrices(spec.Entry.Side, ref, plan.sl.Trigger, plan.tp.Price); err != nil {
		return nil, err
	}

	plan.group = strings.TrimSpace(spec.Entry.ClientID)
	if plan.group == "" {
		plan.group = e.newID()
		plan.entry.ClientID = plan.group
	}
	return plan, nil
}

// referencePrice picks the price protective legs are checked against: the
// explicit reference, else the entry's own limit or trigger, else the ticker.
func (e *Executor) referencePrice(ctx context.Context, spec BracketSpec) (decimal.Decimal, error) {
	if spec.ReferencePrice.IsPositive() {
		return spec.ReferencePrice, nil
	}
	if px, ok := spec.Entry.LimitPrice(); ok {
		return px, nil
	}
	if px, ok := spec.Entry.TriggerPrice(); ok {
		return px, nil
	}
	ticker, err := e.trader.GetTicker(ctx, spec.Entry.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	ref := ticker.Reference()
	if !ref.IsPositive() {
		return decimal.Zero, exchange.Invalidf(opBracket, "no reference price available for %s", spec.Entry.Symbol)
	}
	return ref, nil
}

// checkStopLimit keeps a stop-limit exit marketable once triggered: a sell
// limit may not sit above its trigger, a buy limit not below it.
func checkStopLimit(side exchange.Side, trigger, limit decimal.Decimal) error {
	if side == exchange.SideSell && limit.GreaterThan(trigger) {
		return exchange.Invalidf(opBracket, "sell stop-loss limit %s must not be above trigger %s", limit, trigger)
	}
	if side == exchange.SideBuy && limit.LessThan(trigger) {
		return exchange.Invalidf(opBracket, "buy stop-loss limit %s must not be below trigger %s", limit, trigger)
	}
	return nil
}

// checkPrices enforces SL < ref < TP for longs and TP < ref < SL for shorts.
func checkPrices(side exchange.Side, ref, sl, tp decimal.Decimal) error {
	if side == exchange.SideBuy {
		if !sl.LessThan(ref) {
			return exchange.Invalidf(opBracket, "long stop-loss %s must be below reference %s", sl, ref)
		}
		if !tp.GreaterThan(ref) {
			return exchange.Invalidf(opBracket, "long take-profit %s must be above reference %s", tp, ref)
		}
		return nil
	}
	if !sl.GreaterThan(ref) {
		return exchange.Invalidf(opBracket, "short stop-loss %s must be above reference %s", sl, ref)
	}
	if !tp.LessThan(ref) {
		return exchange.Invalidf(opBracket, "short take-profit %s must be below reference %s", tp, ref)
	}
	return nil
}

// checkAgainstFill re-runs the price relationship per leg against the
// confirmed fill price.
func checkAgainstFill(plan *bracketPlan, fill decimal.Decimal) map[Leg]error {
	out := make(map[Leg]error, 2)
	long := plan.entry.Side == exchange.SideBuy
	if long && !plan.sl.Trigger.LessThan(fill) || !long && !plan.sl.Trigger.GreaterThan(fill) {
		out[LegStopLoss] = exchange.Invalidf(opBracket, "stop-loss %s is on the wrong side of fill %s", plan.sl.Trigger, fill)
	}
	if long && !plan.tp.Price.GreaterThan(fill) || !long && !plan.tp.Price.LessThan(fill) {
		out[LegTakeProfit] = exchange.Invalidf(opBracket, "take-profit %s is on the wrong side of fill %s", plan.tp.Price, fill)
	}
	return out
}

func (e *Executor) placeProtective(ctx context.Context, plan *bracketPlan, leg Leg, qty decimal.Decimal) (*exchange.OrderOutcome, error) {
	var pricing exchange.Pricing
	switch leg {
	case LegStopLoss:
		pricing = stopLossPricing(plan.sl)
	default:
		pricing = takeProfitPricing(plan.tp)
	}
	intent, err := protectiveIntent(plan.entry.Symbol, plan.closer, qty, pricing, plan.entry.Segment, legClientID(plan.group, leg))
	if err != nil {
		return nil, err
	}
	return e.trader.PlaceOrder(ctx, intent)
}

func stopLossPricing(sl StopLossSpec) exchange.Pricing {
	if sl.Kind == exchange.OrderStopLimit {
		return exchange.StopLimitPricing{Trigger: sl.Trigger, Price: sl.LimitPrice}
	}
	return exchange.StopPricing{Trigger: sl.Trigger}
}

func takeProfitPricing(tp TakeProfitSpec) exchange.Pricing {
	if tp.Kind == exchange.OrderStopLimit {
		return exchange.StopLimitPricing{Trigger: tp.Price, Price: tp.LimitPrice}
	}
	return exchange.LimitPricing{Price: tp.Price}
}

// protectiveIntent closes exposure: reduce-only wherever positions carry
// leverage.
func protectiveIntent(symbol string, side exchange.Side, qty decimal.Decimal, pricing exchange.Pricing, segment exchange.MarketSegment, clientID string) (exchange.OrderIntent, error) {
	opts := []exchange.IntentOption{exchange.WithSegment(segment), exchange.WithClientID(clientID)}
	if segment.Leveraged() {
		opts = append(opts, exchange.ReduceOnly())
	}
	return exchange.NewIntent(symbol, side, qty, pricing, opts...)
}

func (e *Executor) finishBracket(ctx context.Context, plan *bracketPlan, res *BracketResult) {
	errs := make([]string, 0, len(res.Errors))
	for _, le := range res.Errors {
		errs = append(errs, le.Error())
	}

	switch {
	case res.Success:
		metricBrackets.Inc(e.trader.Venue(), "ok")
		logx.WithContext(ctx).Infof("executor: bracket %s %s placed entry=%s sl=%s tp=%s",
			plan.group, plan.entry.Symbol, res.Entry.ID, res.StopLoss.ID, res.TakeProfit.ID)
	case res.Entry == nil:
		metricBrackets.Inc(e.trader.Venue(), "failed")
		logx.WithContext(ctx).Errorf("executor: bracket %s %s entry failed: %v", plan.group, plan.entry.Symbol, errs)
	default:
		metricBrackets.Inc(e.trader.Venue(), "partial")
		logx.WithContext(ctx).Errorw("executor: bracket completed with errors",
			logx.Field("group", plan.group),
			logx.Field("symbol", plan.entry.Symbol),
			logx.Field("entry", res.Entry.ID),
			logx.Field("errors", errs))
		e.sink.Emit(events.BracketCompletedWithErrors{
			Source:       e.source(),
			Symbol:       plan.entry.Symbol,
			EntryOrderID: res.Entry.ID,
			Errors:       errs,
		})
	}

	legErr := func(leg Leg) error {
		for _, le := range res.Errors {
			if le.Leg == leg {
				return le.Err
			}
		}
		return nil
	}
	orders := []journal.OrderEntry{orderEntry(LegEntry, res.Entry, legErr(LegEntry))}
	if res.Entry != nil {
		orders = append(orders,
			orderEntry(LegStopLoss, res.StopLoss, legErr(LegStopLoss)),
			orderEntry(LegTakeProfit, res.TakeProfit, legErr(LegTakeProfit)))
	}
	e.record(ctx, &journal.Record{
		Kind:    journal.KindBracket,
		Symbol:  plan.entry.Symbol,
		Success: res.Success,
		Orders:  orders,
		Errors:  errs,
		Extra: map[string]any{
			"group_id":  plan.group,
			"reference": plan.ref.String(),
		},
	})
}
