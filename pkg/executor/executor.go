package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
)

// Trader is the subset of exchange.Client the executor drives.
type Trader interface {
	Venue() string
	CredentialID() string
	Now() time.Time
	PlaceOrder(ctx context.Context, intent exchange.OrderIntent) (*exchange.OrderOutcome, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderOutcome, error)
	GetPositions(ctx context.Context, symbol string) ([]exchange.PositionSnapshot, error)
	GetBalance(ctx context.Context, segment exchange.MarketSegment) ([]exchange.Balance, error)
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
}

var _ Trader = exchange.Client(nil)

// Recorder persists execution records. journal.Writer implements it.
type Recorder interface {
	Write(rec *journal.Record) (string, error)
}

// Option customises an Executor.
type Option func(*Executor)

// WithConfig sets default protective kinds. Risk policies are passed per call.
func WithConfig(cfg *Config) Option {
	return func(e *Executor) {
		if cfg != nil {
			cfg.applyDefaults()
			e.cfg = cfg
		}
	}
}

// WithRecorder appends every bracket, protective replace and risk decision
// to rec.
func WithRecorder(rec Recorder) Option {
	return func(e *Executor) { e.recorder = rec }
}

// WithEventSink routes bracket and risk events to sink.
func WithEventSink(sink events.Sink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithIDGenerator replaces the bracket group ID source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// Executor runs multi-leg order protocols against one Trader. It is safe
// for concurrent use; legs of one bracket are always sequential.
type Executor struct {
	trader   Trader
	cfg      *Config
	recorder Recorder
	sink     events.Sink
	newID    func() string

	peakMu sync.Mutex
	peak   decimal.Decimal
}

// New constructs an Executor over trader.
func New(trader Trader, opts ...Option) (*Executor, error) {
	if trader == nil {
		return nil, errors.New("executor: trader is required")
	}
	e := &Executor{
		trader: trader,
		cfg:    &Config{StopLossKind: exchange.OrderStop, TakeProfitKind: exchange.OrderLimit},
		sink:   events.Nop(),
		newID:  newGroupID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() *Config { return e.cfg }

func (e *Executor) source() events.Source {
	return events.Source{Venue: e.trader.Venue(), CredentialID: e.trader.CredentialID(), At: e.trader.Now()}
}

func (e *Executor) record(ctx context.Context, rec *journal.Record) {
	if e.recorder == nil {
		return
	}
	rec.Venue = e.trader.Venue()
	rec.CredentialID = e.trader.CredentialID()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.trader.Now()
	}
	if _, err := e.recorder.Write(rec); err != nil {
		logx.WithContext(ctx).Errorf("executor: journal %s %s: %v", rec.Kind, rec.Symbol, err)
	}
}

func orderEntry(leg Leg, o *exchange.OrderOutcome, err error) journal.OrderEntry {
	entry := journal.OrderEntry{Leg: string(leg)}
	if o != nil {
		entry.OrderID = o.ID
		entry.ClientID = o.ClientID
		entry.Side = string(o.Side)
		entry.Kind = string(o.Kind)
		entry.Status = string(o.Status)
		entry.Quantity = o.Amount.String()
		if !o.Price.IsZero() {
			entry.Price = o.Price.String()
		}
		if !o.TriggerPrice.IsZero() {
			entry.Trigger = o.TriggerPrice.String()
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}
