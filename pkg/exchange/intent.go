package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Pricing carries the price fields one order kind requires. The set of
// implementations is closed: MarketPricing, LimitPricing, StopPricing and
// StopLimitPricing.
type Pricing interface {
	Kind() OrderKind
	validate(op string) error
}

// MarketPricing executes at the prevailing price.
type MarketPricing struct{}

// LimitPricing rests at Price.
type LimitPricing struct {
	Price decimal.Decimal
}

// StopPricing becomes a market order once Trigger is crossed.
type StopPricing struct {
	Trigger decimal.Decimal
}

// StopLimitPricing becomes a limit order at Price once Trigger is crossed.
type StopLimitPricing struct {
	Trigger decimal.Decimal
	Price   decimal.Decimal
}

func (MarketPricing) Kind() OrderKind    { return OrderMarket }
func (LimitPricing) Kind() OrderKind     { return OrderLimit }
func (StopPricing) Kind() OrderKind      { return OrderStop }
func (StopLimitPricing) Kind() OrderKind { return OrderStopLimit }

func (MarketPricing) validate(string) error { return nil }

func (p LimitPricing) validate(op string) error {
	if !p.Price.IsPositive() {
		return validationf(op, "limit price must be positive, got %s", p.Price)
	}
	return nil
}

func (p StopPricing) validate(op string) error {
	if !p.Trigger.IsPositive() {
		return validationf(op, "stop trigger price must be positive, got %s", p.Trigger)
	}
	return nil
}

func (p StopLimitPricing) validate(op string) error {
	if !p.Trigger.IsPositive() {
		return validationf(op, "stop trigger price must be positive, got %s", p.Trigger)
	}
	if !p.Price.IsPositive() {
		return validationf(op, "stop-limit price must be positive, got %s", p.Price)
	}
	return nil
}

// OrderIntent is a venue-agnostic order request. It is a value type; copy
// freely.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Pricing    Pricing
	Segment    MarketSegment
	Leverage   int // 0 leaves the venue setting untouched
	ClientID   string
	ReduceOnly bool
}

// Validate checks every field that can be checked without the venue.
func (i OrderIntent) Validate() error {
	const op = "validate"
	if strings.TrimSpace(i.Symbol) == "" {
		return validationf(op, "symbol is required")
	}
	if !i.Side.Valid() {
		return validationf(op, "invalid side %q", i.Side)
	}
	if !i.Quantity.IsPositive() {
		return validationf(op, "quantity must be positive, got %s", i.Quantity)
	}
	if i.Pricing == nil {
		return validationf(op, "order kind is required")
	}
	if err := i.Pricing.validate(op); err != nil {
		return err
	}
	if !i.Segment.Valid() {
		return validationf(op, "invalid market segment %q", i.Segment)
	}
	if i.Leverage < 0 {
		return validationf(op, "leverage must not be negative, got %d", i.Leverage)
	}
	if i.Leverage > 0 && !i.Segment.Leveraged() {
		return validationf(op, "leverage is not applicable to %s markets", i.Segment)
	}
	return nil
}

// Kind returns the order kind implied by the pricing variant.
func (i OrderIntent) Kind() OrderKind {
	if i.Pricing == nil {
		return ""
	}
	return i.Pricing.Kind()
}

// LimitPrice returns the limit price for limit and stop-limit orders.
func (i OrderIntent) LimitPrice() (decimal.Decimal, bool) {
	switch p := i.Pricing.(type) {
	case LimitPricing:
		return p.Price, true
	case StopLimitPricing:
		return p.Price, true
	}
	return decimal.Zero, false
}

// TriggerPrice returns the trigger for stop and stop-limit orders.
func (i OrderIntent) TriggerPrice() (decimal.Decimal, bool) {
	switch p := i.Pricing.(type) {
	case StopPricing:
		return p.Trigger, true
	case StopLimitPricing:
		return p.Trigger, true
	}
	return decimal.Zero, false
}

// IntentOption customises an intent built by one of the constructors.
type IntentOption func(*OrderIntent)

// WithSegment selects the market segment. Constructors default to spot.
func WithSegment(segment MarketSegment) IntentOption {
	return func(i *OrderIntent) { i.Segment = segment }
}

// WithLeverage requests a leverage change before placement.
func WithLeverage(leverage int) IntentOption {
	return func(i *OrderIntent) { i.Leverage = leverage }
}

// WithClientID sets the client correlation ID echoed by the venue.
func WithClientID(id string) IntentOption {
	return func(i *OrderIntent) { i.ClientID = id }
}

// ReduceOnly marks the order as position-reducing only.
func ReduceOnly() IntentOption {
	return func(i *OrderIntent) { i.ReduceOnly = true }
}

// NewIntent builds and validates an intent for any pricing variant.
func NewIntent(symbol string, side Side, quantity decimal.Decimal, pricing Pricing, opts ...IntentOption) (OrderIntent, error) {
	intent := OrderIntent{
		Symbol:   strings.TrimSpace(symbol),
		Side:     side,
		Quantity: quantity,
		Pricing:  pricing,
		Segment:  SegmentSpot,
	}
	for _, opt := range opts {
		opt(&intent)
	}
	if err := intent.Validate(); err != nil {
		return OrderIntent{}, err
	}
	return intent, nil
}

// MarketOrder builds a validated market order intent.
func MarketOrder(symbol string, side Side, quantity decimal.Decimal, opts ...IntentOption) (OrderIntent, error) {
	return NewIntent(symbol, side, quantity, MarketPricing{}, opts...)
}

// LimitOrder builds a validated limit order intent.
func LimitOrder(symbol string, side Side, quantity, price decimal.Decimal, opts ...IntentOption) (OrderIntent, error) {
	return NewIntent(symbol, side, quantity, LimitPricing{Price: price}, opts...)
}

// StopOrder builds a validated stop-market order intent.
func StopOrder(symbol string, side Side, quantity, trigger decimal.Decimal, opts ...IntentOption) (OrderIntent, error) {
	return NewIntent(symbol, side, quantity, StopPricing{Trigger: trigger}, opts...)
}

// StopLimitOrder builds a validated stop-limit order intent.
func StopLimitOrder(symbol string, side Side, quantity, trigger, price decimal.Decimal, opts ...IntentOption) (OrderIntent, error) {
	return NewIntent(symbol, side, quantity, StopLimitPricing{Trigger: trigger, Price: price}, opts...)
}
