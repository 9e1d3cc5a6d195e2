package exchange

import (
	"context"
	"time"
)

// Client exposes trading capabilities in a venue-agnostic fashion. Adapter is
// the implementation; consumers should depend on the narrowest subset they
// need.
type Client interface {
	Venue() string
	CredentialID() string
	Capabilities() Capabilities

	// Session lifecycle.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	TestConnection(ctx context.Context) bool
	Now() time.Time
	ClockOffset() time.Duration

	// Order management.
	PlaceOrder(ctx context.Context, intent OrderIntent) (*OrderOutcome, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) ([]string, error)
	GetOrder(ctx context.Context, id, symbol string) (*OrderOutcome, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderOutcome, error)
	GetOrderHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]OrderOutcome, error)

	// Account and positions.
	GetBalance(ctx context.Context, segment MarketSegment) ([]Balance, error)
	GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error
	SetPositionMode(ctx context.Context, hedged bool) error

	// Market data.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	GetOHLCV(ctx context.Context, symbol, interval string, since time.Time, limit int) ([]Candle, error)
	Markets() []MarketInfo
	ProbeSymbol(ctx context.Context, symbol string, segment MarketSegment) bool
}

var _ Client = (*Adapter)(nil)
