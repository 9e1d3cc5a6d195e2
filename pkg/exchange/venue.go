package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Venue is the remote trading capability of one exchange account. Symbols
// passed in are already in venue format (see FormatSymbol); results carry raw
// venue strings which the Adapter normalizes.
//
// Venues report a declined call with Rejected(msg). Any other error is
// treated as a transport failure.
type Venue interface {
	Name() string
	Capabilities() Capabilities

	// FormatSymbol maps a unified symbol ("BTC/USDT", "BTC/USDT:USDT") to the
	// venue's own notation. ParseSymbol is its inverse. Both are pure.
	FormatSymbol(symbol string, segment MarketSegment) string
	ParseSymbol(raw string) string

	FetchTime(ctx context.Context) (time.Time, error)
	LoadMarkets(ctx context.Context) ([]MarketInfo, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*VenueOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (*VenueOrder, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error)
	FetchClosedOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]VenueOrder, error)

	FetchBalance(ctx context.Context, segment MarketSegment) ([]Balance, error)
	FetchPositions(ctx context.Context, symbols []string) ([]VenuePosition, error)

	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, since time.Time, limit int) ([]Candle, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error
	SetPositionMode(ctx context.Context, hedged bool) error

	Close() error
}

// OrderRequest is the shaped order handed to a venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Amount     decimal.Decimal
	Pricing    Pricing
	Segment    MarketSegment
	ReduceOnly bool
	ClientID   string
	// Timestamp is the skew-corrected request time.
	Timestamp time.Time
}

// VenueOrder is an order as reported by the venue, before normalization.
type VenueOrder struct {
	ID           string
	ClientID     string
	Symbol       string
	Side         string
	Type         string
	Status       string
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

// VenuePosition is a position as reported by the venue. Side may be empty
// when the venue encodes direction in the sign of Size.
type VenuePosition struct {
	Symbol        string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Leverage      int
	MarginMode    string
}

// VenueOptions tune venue construction.
type VenueOptions struct {
	Timeout time.Duration
	// BaseURL overrides the venue endpoint; empty selects production or
	// sandbox from the credential.
	BaseURL string
}

// VenueBuilder constructs a Venue bound to one credential.
type VenueBuilder func(cred Credential, opts VenueOptions) (Venue, error)

var (
	venueRegistry   = make(map[string]VenueBuilder)
	venueRegistryMu sync.RWMutex
)

// RegisterVenue associates a builder with a venue type.
func RegisterVenue(typeName string, builder VenueBuilder) {
	venueRegistryMu.Lock()
	defer venueRegistryMu.Unlock()
	venueRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupVenueBuilder(typeName string) (VenueBuilder, bool) {
	venueRegistryMu.RLock()
	defer venueRegistryMu.RUnlock()
	builder, ok := venueRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// RegisteredVenues lists the venue types available in this binary.
func RegisteredVenues() []string {
	venueRegistryMu.RLock()
	defer venueRegistryMu.RUnlock()
	names := make([]string, 0, len(venueRegistry))
	for name := range venueRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewVenue builds the venue named by cred.Venue().
func NewVenue(cred Credential, opts VenueOptions) (Venue, error) {
	builder, ok := lookupVenueBuilder(cred.Venue())
	if !ok {
		return nil, fmt.Errorf("exchange: unsupported venue %q", cred.Venue())
	}
	venue, err := builder(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("exchange: build venue %s/%s: %w", cred.Venue(), cred.ID(), err)
	}
	return venue, nil
}
