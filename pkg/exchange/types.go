package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Core trading domain types shared by the adapter and every venue.
// Prices and quantities are decimals end to end; venues convert at the wire.

// Credential is the authentication material for one venue account. Fields
// are unexported so the secret can only be read deliberately, and the
// formatting verbs redact it.
type Credential struct {
	venue      string
	id         string
	apiKey     string
	apiSecret  string
	passphrase string
	sandbox    bool
}

// NewCredential builds a credential. Venue names are case-insensitive.
func NewCredential(venue, id, apiKey, apiSecret, passphrase string, sandbox bool) Credential {
	return Credential{
		venue:      strings.ToLower(strings.TrimSpace(venue)),
		id:         strings.TrimSpace(id),
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		passphrase: strings.TrimSpace(passphrase),
		sandbox:    sandbox,
	}
}

func (c Credential) Venue() string      { return c.venue }
func (c Credential) ID() string         { return c.id }
func (c Credential) APIKey() string     { return c.apiKey }
func (c Credential) APISecret() string  { return c.apiSecret }
func (c Credential) Passphrase() string { return c.passphrase }
func (c Credential) Sandbox() bool      { return c.sandbox }

// String never includes the secret or passphrase.
func (c Credential) String() string {
	return fmt.Sprintf("credential{venue=%s id=%s key=%s sandbox=%t}", c.venue, c.id, redact(c.apiKey), c.sandbox)
}

// GoString keeps %#v from printing the struct fields.
func (c Credential) GoString() string { return c.String() }

func redact(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:4] + "***"
}

// Side represents order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind enumerates supported order types.
type OrderKind string

const (
	OrderMarket    OrderKind = "market"
	OrderLimit     OrderKind = "limit"
	OrderStop      OrderKind = "stop"
	OrderStopLimit OrderKind = "stop_limit"
)

// Triggered reports whether the kind rests until a trigger price is crossed.
func (k OrderKind) Triggered() bool { return k == OrderStop || k == OrderStopLimit }

// MarketSegment selects spot, perpetual/futures or options markets.
type MarketSegment string

const (
	SegmentSpot    MarketSegment = "spot"
	SegmentFutures MarketSegment = "futures"
	SegmentOptions MarketSegment = "options"
)

// Valid reports whether m is a known segment.
func (m MarketSegment) Valid() bool {
	switch m {
	case SegmentSpot, SegmentFutures, SegmentOptions:
		return true
	}
	return false
}

// Leveraged is true for segments where positions carry leverage and
// protective orders should be reduce-only.
func (m MarketSegment) Leveraged() bool { return m == SegmentFutures || m == SegmentOptions }

// OrderStatus is the canonical lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusOpen            OrderStatus = "open"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further fills can occur.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// MarginMode is isolated or cross margin.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// Valid reports whether m is a known margin mode.
func (m MarginMode) Valid() bool { return m == MarginIsolated || m == MarginCross }

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// EntrySide is the order side that opened a position of this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// OrderOutcome is the normalized result of an order call. Zero decimals mean
// the venue did not report the figure.
type OrderOutcome struct {
	ID           string
	ClientID     string
	Symbol       string
	Side         Side
	Kind         OrderKind
	Status       OrderStatus
	Amount       decimal.Decimal
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	AveragePrice decimal.Decimal
	Fee          decimal.Decimal
	ReduceOnly   bool
	Timestamp    time.Time
}

// HasFill reports whether any quantity executed at a known price.
func (o OrderOutcome) HasFill() bool {
	return o.Filled.IsPositive() && o.AveragePrice.IsPositive()
}

// PositionSnapshot is a read-only view of an open position.
type PositionSnapshot struct {
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Leverage      int
	MarginMode    MarginMode
	Segment       MarketSegment
}

// Balance is one currency's account balance.
type Balance struct {
	Currency string
	Total    decimal.Decimal
	Free     decimal.Decimal
	Used     decimal.Decimal
}

// Ticker is a top-of-book and last-trade summary.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Reference returns the best available price for sizing and validation:
// last trade, else mid, else whichever side is quoted.
func (t Ticker) Reference() decimal.Decimal {
	switch {
	case t.Last.IsPositive():
		return t.Last
	case t.Bid.IsPositive() && t.Ask.IsPositive():
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	case t.Bid.IsPositive():
		return t.Bid
	default:
		return t.Ask
	}
}

// PriceLevel is one aggregated order book level.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook holds bids (descending) and asks (ascending).
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// MarketInfo describes one tradable instrument.
type MarketInfo struct {
	Symbol       string
	Base         string
	Quote        string
	Segment      MarketSegment
	MaxLeverage  int
	SizeDecimals int32
	Active       bool
}

// RateLimit is a venue's declared request budget.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Capabilities describes what a venue supports.
type Capabilities struct {
	Segments             []MarketSegment
	MaxLeverage          int
	RateLimit            RateLimit
	SupportsMarginMode   bool
	SupportsPositionMode bool
}

// Supports reports whether segment is tradable on the venue.
func (c Capabilities) Supports(segment MarketSegment) bool {
	for _, s := range c.Segments {
		if s == segment {
			return true
		}
	}
	return false
}
