package sim

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

// Raw venue status strings; the adapter normalizes them.
const (
	statusNew         = "new"
	statusUntriggered = "untriggered"
	statusTriggered   = "triggered"
	statusFilled      = "filled"
	statusCanceled    = "canceled"
	statusRejected    = "rejected"
)

type order struct {
	id         string
	clientID   string
	raw        string
	side       exchange.Side
	kind       exchange.OrderKind
	amount     decimal.Decimal
	filled     decimal.Decimal
	price      decimal.Decimal
	trigger    decimal.Decimal
	avg        decimal.Decimal
	fee        decimal.Decimal
	reduceOnly bool
	status     string
	seq        int64
	created    time.Time
	updated    time.Time
}

func (o *order) open() bool {
	return o.status == statusNew || o.status == statusUntriggered || o.status == statusTriggered
}

// marketable reports whether a limit order would execute at mark.
func (o *order) marketable(mark decimal.Decimal) bool {
	if o.side == exchange.SideBuy {
		return mark.LessThanOrEqual(o.price)
	}
	return mark.GreaterThanOrEqual(o.price)
}

// crossed reports whether a stop order's trigger is reached at mark. Buy
// stops fire on the way up, sell stops on the way down.
func (o *order) crossed(mark decimal.Decimal) bool {
	if o.side == exchange.SideBuy {
		return mark.GreaterThanOrEqual(o.trigger)
	}
	return mark.LessThanOrEqual(o.trigger)
}

func (o *order) typeString() string {
	switch o.kind {
	case exchange.OrderStop:
		return "stop_market"
	case exchange.OrderStopLimit:
		return "stop_limit"
	default:
		return string(o.kind)
	}
}

func (o *order) toVenue() exchange.VenueOrder {
	return exchange.VenueOrder{
		ID:           o.id,
		ClientID:     o.clientID,
		Symbol:       o.raw,
		Side:         string(o.side),
		Type:         o.typeString(),
		Status:       o.status,
		Amount:       o.amount,
		Filled:       o.filled,
		Remaining:    decimal.Max(o.amount.Sub(o.filled), decimal.Zero),
		Price:        o.price,
		TriggerPrice: o.trigger,
		AveragePrice: o.avg,
		Fee:          o.fee,
		ReduceOnly:   o.reduceOnly,
		Timestamp:    o.updated,
	}
}

// matchLocked walks resting orders for raw in arrival order, arming stops
// whose trigger has been crossed and filling marketable limits.
func (v *Venue) matchLocked(raw string) {
	mark, ok := v.marks[raw]
	if !ok {
		return
	}
	resting := make([]*order, 0)
	for _, o := range v.orders {
		if o.raw == raw && o.open() {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool { return resting[i].seq < resting[j].seq })

	for _, o := range resting {
		if o.status == statusUntriggered {
			if !o.crossed(mark) {
				continue
			}
			o.status = statusTriggered
			o.updated = v.clock()
			if o.kind == exchange.OrderStop {
				v.settleLocked(o, mark)
				continue
			}
		}
		if o.marketable(mark) {
			v.settleLocked(o, o.price)
		}
	}
}

// settleLocked executes a resting order. A reduce-only order whose position
// is gone is cancelled, and one that fails margin checks is rejected.
func (v *Venue) settleLocked(o *order, price decimal.Decimal) {
	if o.reduceOnly {
		if err := v.checkReduceOnlyLocked(o.raw, o.side); err != nil {
			o.status = statusCanceled
			o.updated = v.clock()
			return
		}
	}
	if err := v.executeLocked(o, price); err != nil {
		o.status = statusRejected
		o.updated = v.clock()
	}
}

func (v *Venue) checkReduceOnlyLocked(raw string, side exchange.Side) error {
	p, ok := v.positions[raw]
	if !ok || p.qty.IsZero() {
		return exchange.Rejected("reduce-only order has no position to reduce")
	}
	if (side == exchange.SideBuy) == p.qty.IsPositive() {
		return exchange.Rejected("reduce-only order would increase position")
	}
	return nil
}

// executeLocked fills o in full at price, clamping reduce-only orders to the
// open position.
func (v *Venue) executeLocked(o *order, price decimal.Decimal) error {
	qty := o.amount.Sub(o.filled)
	if !o.reduceOnly {
		if err := v.checkMarginLocked(o.raw, qty, price); err != nil {
			return err
		}
	}
	executed, fee := v.applyFillLocked(o.raw, o.side, qty, price, o.reduceOnly)
	o.filled = o.filled.Add(executed)
	o.avg = price
	o.fee = o.fee.Add(fee)
	o.status = statusFilled
	o.updated = v.clock()
	v.ticks[o.raw] = append(v.ticks[o.raw], tick{at: o.updated, price: price, volume: executed})
	return nil
}

func (v *Venue) checkMarginLocked(raw string, qty, price decimal.Decimal) error {
	unreal, used := v.exposureLocked()
	free := v.cash.Add(unreal).Sub(used)
	required := qty.Mul(price).Div(decimal.NewFromInt(int64(v.leverageLocked(raw))))
	if required.GreaterThan(free) {
		return exchange.Rejected("insufficient margin: required " + required.StringFixed(2) + ", free " + free.StringFixed(2))
	}
	return nil
}

// applyFillLocked books a fill into the netted position, realising PnL on
// the closed portion and charging the taker fee. It returns the executed
// quantity and fee.
func (v *Venue) applyFillLocked(raw string, side exchange.Side, qty, price decimal.Decimal, reduceOnly bool) (decimal.Decimal, decimal.Decimal) {
	p := v.positions[raw]
	if p == nil {
		p = &position{}
		v.positions[raw] = p
	}
	current := p.qty
	delta := qty
	if side == exchange.SideSell {
		delta = qty.Neg()
	}
	if reduceOnly && delta.Abs().GreaterThan(current.Abs()) {
		delta = current.Neg()
	}

	realized := decimal.Zero
	if !current.IsZero() && current.Sign() != delta.Sign() {
		closing := decimal.Min(current.Abs(), delta.Abs())
		realized = closing.Mul(price.Sub(p.entry))
		if current.IsNegative() {
			realized = realized.Neg()
		}
	}

	next := current.Add(delta)
	switch {
	case current.IsZero():
		p.entry = price
	case current.Sign() == delta.Sign():
		p.entry = current.Mul(p.entry).Add(delta.Mul(price)).Div(next)
	case next.IsZero():
		p.entry = decimal.Zero
	case next.Sign() != current.Sign():
		p.entry = price
	}
	p.qty = next
	p.pnl = p.pnl.Add(realized)

	executed := delta.Abs()
	fee := executed.Mul(price).Mul(takerFeeRate)
	v.cash = v.cash.Add(realized).Sub(fee)
	if p.qty.IsZero() {
		delete(v.positions, raw)
	}
	return executed, fee
}
