package executor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
	"tradelink/pkg/journal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeTrader records every call and fails placements whose client ID
// matches a scripted failure.
type fakeTrader struct {
	mu        sync.Mutex
	placed    []exchange.OrderIntent
	cancelled []string
	calls     map[string]int

	failPlace   map[string]error // keyed by client ID suffix: "entry", "sl", "tp"
	failCancel  error
	fillPrice   decimal.Decimal
	ticker      *exchange.Ticker
	tickerErr   error
	positions   []exchange.PositionSnapshot
	posErr      error
	balances    []exchange.Balance
	balanceErr  error
	openOrders  []exchange.OrderOutcome
	nextOrderID int
	// entryStatus overrides the status acknowledged for entry orders.
	entryStatus exchange.OrderStatus
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{
		calls:     make(map[string]int),
		failPlace: make(map[string]error),
		balances:  []exchange.Balance{{Currency: "USDT", Total: d("10000")}},
	}
}

func (f *fakeTrader) Venue() string        { return "fake" }
func (f *fakeTrader) CredentialID() string { return "acct" }
func (f *fakeTrader) Now() time.Time       { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func (f *fakeTrader) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTrader) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func legOf(clientID string) string {
	switch {
	case strings.HasSuffix(clientID, "-sl"):
		return "sl"
	case strings.HasSuffix(clientID, "-tp"):
		return "tp"
	default:
		return "entry"
	}
}

func (f *fakeTrader) PlaceOrder(_ context.Context, intent exchange.OrderIntent) (*exchange.OrderOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["place"]++
	f.placed = append(f.placed, intent)
	if err := f.failPlace[legOf(intent.ClientID)]; err != nil {
		return nil, err
	}
	f.nextOrderID++
	out := &exchange.OrderOutcome{
		ID:         strconv.Itoa(f.nextOrderID),
		ClientID:   intent.ClientID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Kind:       intent.Kind(),
		Status:     exchange.StatusOpen,
		Amount:     intent.Quantity,
		Remaining:  intent.Quantity,
		ReduceOnly: intent.ReduceOnly,
	}
	if px, ok := intent.LimitPrice(); ok {
		out.Price = px
	}
	if px, ok := intent.TriggerPrice(); ok {
		out.TriggerPrice = px
	}
	if intent.Kind() == exchange.OrderMarket && f.fillPrice.IsPositive() {
		out.Status = exchange.StatusFilled
		out.Filled = intent.Quantity
		out.Remaining = decimal.Zero
		out.AveragePrice = f.fillPrice
	}
	if f.entryStatus != "" && legOf(intent.ClientID) == "entry" {
		out.Status = f.entryStatus
		out.Filled = decimal.Zero
		out.Remaining = intent.Quantity
		out.AveragePrice = decimal.Zero
	}
	return out, nil
}

func (f *fakeTrader) CancelOrder(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cancel"]++
	if f.failCancel != nil {
		return f.failCancel
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeTrader) GetOpenOrders(context.Context, string) ([]exchange.OrderOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["open_orders"]++
	return f.openOrders, nil
}

func (f *fakeTrader) GetPositions(context.Context, string) ([]exchange.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["positions"]++
	return f.positions, f.posErr
}

func (f *fakeTrader) GetBalance(context.Context, exchange.MarketSegment) ([]exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["balance"]++
	return f.balances, f.balanceErr
}

func (f *fakeTrader) GetTicker(context.Context, string) (*exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ticker"]++
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	if f.ticker == nil {
		return nil, exchange.Rejected("no ticker")
	}
	return f.ticker, nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []journal.Record
}

func (m *memoryRecorder) Write(rec *journal.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return "", nil
}

func (m *memoryRecorder) last() journal.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Emit(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, 0, len(l.evs))
	for _, ev := range l.evs {
		out = append(out, ev.Kind())
	}
	return out
}
