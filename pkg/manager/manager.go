package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"
	"github.com/zeromicro/go-zero/core/threading"
	"github.com/zeromicro/go-zero/core/timex"

	"tradelink/pkg/events"
	"tradelink/pkg/exchange"
)

// ErrClosed is returned once Shutdown has started.
var ErrClosed = errors.New("manager: shut down")

// AdapterFactory abstracts client construction so Manager stays decoupled
// from venue wiring and tests can supply scripted clients.
type AdapterFactory interface {
	NewClient(cred exchange.Credential) (exchange.Client, error)
}

// AdapterFactoryFunc adapts a function to AdapterFactory.
type AdapterFactoryFunc func(cred exchange.Credential) (exchange.Client, error)

// NewClient calls f.
func (f AdapterFactoryFunc) NewClient(cred exchange.Credential) (exchange.Client, error) {
	return f(cred)
}

// ConfigFactory builds adapters through cfg so per-credential timeouts and
// rate limits apply. opts are appended to every adapter.
func ConfigFactory(cfg *exchange.Config, opts ...exchange.AdapterOption) AdapterFactory {
	return AdapterFactoryFunc(func(cred exchange.Credential) (exchange.Client, error) {
		a, err := cfg.BuildAdapter(cred, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}

// TickerFactory creates the tickers driving health probes and reconnect
// delays.
type TickerFactory func(d time.Duration) timex.Ticker

// Option customises a Manager.
type Option func(*Manager)

// WithConfig sets probe and reconnect settings.
func WithConfig(cfg *Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.cfg = cfg
		}
	}
}

// WithEventSink routes connection events to sink.
func WithEventSink(sink events.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithRecordStore mirrors every record transition to store.
func WithRecordStore(store RecordStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTickerFactory replaces timex.NewTicker.
func WithTickerFactory(fn TickerFactory) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newTicker = fn
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// supervision is one generation of background work for a connection.
// Re-initializing or disconnecting stops it; loops of a stopped generation
// never write to the record again.
type supervision struct {
	client       exchange.Client
	quit         chan struct{}
	once         sync.Once
	reconnecting *syncx.AtomicBool
}

func newSupervision(client exchange.Client) *supervision {
	return &supervision{client: client, quit: make(chan struct{}), reconnecting: syncx.NewAtomicBool()}
}

func (s *supervision) stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.quit) })
}

type connection struct {
	client exchange.Client
	rec    ConnectionRecord
	sup    *supervision
}

// Manager owns the adapters for every configured credential, probes them
// periodically and reconnects with bounded retries. It is the only writer of
// connection state.
type Manager struct {
	factory   AdapterFactory
	cfg       *Config
	sink      events.Sink
	store     RecordStore
	newTicker TickerFactory
	now       func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	routines *threading.RoutineGroup

	mu     sync.RWMutex
	conns  map[Key]*connection
	order  []Key
	closed bool
}

// New constructs a Manager. Lifecycle is owned by the caller, which must
// call Shutdown.
func New(factory AdapterFactory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("manager: adapter factory is required")
	}
	m := &Manager{
		factory:   factory,
		cfg:       DefaultConfig(),
		sink:      events.Nop(),
		store:     newNoopRecordStore(),
		newTicker: timex.NewTicker,
		now:       time.Now,
		routines:  threading.NewRoutineGroup(),
		conns:     make(map[Key]*connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Config returns the supervisor configuration.
func (m *Manager) Config() *Config { return m.cfg }

// Initialize connects cred and starts supervising it. Failures are reported
// in the result and leave the record Disconnected. Re-initializing a key
// replaces its adapter and keeps its record; a failed re-initialize releases
// the previous adapter.
func (m *Manager) Initialize(ctx context.Context, venue string, cred exchange.Credential) InitResult {
	const op = "initialize"
	key := newKey(venue, cred.ID())
	if key.Venue == "" || key.CredentialID == "" {
		return InitResult{Record: ConnectionRecord{Venue: key.Venue, CredentialID: key.CredentialID, State: StateDisconnected},
			Err: exchange.Invalidf(op, "venue and credential id are required")}
	}
	if cred.Venue() != key.Venue {
		return InitResult{Record: ConnectionRecord{Venue: key.Venue, CredentialID: key.CredentialID, State: StateDisconnected},
			Err: exchange.Invalidf(op, "credential %s belongs to venue %q, not %q", key.CredentialID, cred.Venue(), key.Venue)}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return InitResult{Record: ConnectionRecord{Venue: key.Venue, CredentialID: key.CredentialID, State: StateDisconnected}, Err: ErrClosed}
	}
	c, ok := m.conns[key]
	if !ok {
		now := m.now()
		c = &connection{rec: ConnectionRecord{Venue: key.Venue, CredentialID: key.CredentialID, CreatedAt: now}}
		m.conns[key] = c
		m.order = append(m.order, key)
	}
	previous := c.sup
	c.sup = nil
	rec := m.setLocked(c, func(r *ConnectionRecord) {
		r.State = StateConnecting
		r.Live = false
	})
	m.mu.Unlock()
	previous.stop()
	m.persist(ctx, rec)

	client, err := m.connect(ctx, cred)

	m.mu.Lock()
	if m.closed && err == nil {
		err = ErrClosed
	}
	if err != nil {
		var stale exchange.Client
		if c.sup == nil {
			// No live supervision owns the previous adapter any more.
			stale, c.client = c.client, nil
		}
		rec = m.setLocked(c, func(r *ConnectionRecord) {
			r.State = StateDisconnected
			r.Live = false
			r.LastError = err.Error()
		})
		m.mu.Unlock()
		if client != nil {
			_ = client.Disconnect(ctx)
		}
		if stale != nil && stale != client {
			if derr := stale.Disconnect(ctx); derr != nil {
				logx.WithContext(ctx).Errorf("manager: release previous adapter for %s: %v", key, derr)
			}
		}
		m.persist(ctx, rec)
		logx.WithContext(ctx).Errorf("manager: initialize %s failed: %v", key, err)
		return InitResult{Record: rec, Err: err}
	}

	old := c.client
	c.client = client
	if c.sup != nil {
		// A concurrent Initialize for the same key won the race; replace it.
		c.sup.stop()
	}
	sup := newSupervision(client)
	c.sup = sup
	rec = m.setLocked(c, func(r *ConnectionRecord) {
		now := m.now()
		r.State = StateConnected
		r.Live = true
		r.LastConnectedAt = now
		r.LastCheckedAt = now
		r.LastError = ""
		r.ReconnectAttempts = 0
		r.Capabilities = client.Capabilities()
	})
	m.routines.RunSafe(func() { m.superviseHealth(c, sup) })
	m.mu.Unlock()

	if old != nil && old != client {
		if err := old.Disconnect(ctx); err != nil {
			logx.WithContext(ctx).Errorf("manager: release previous adapter for %s: %v", key, err)
		}
	}
	m.persist(ctx, rec)
	m.sink.Emit(events.ConnectionEstablished{Source: m.source(key)})
	logx.WithContext(ctx).Infof("manager: %s connected", key)
	return InitResult{Record: rec, Client: client}
}

// connect builds the client and runs Connect followed by TestConnection.
func (m *Manager) connect(ctx context.Context, cred exchange.Credential) (exchange.Client, error) {
	client, err := m.factory.NewClient(cred)
	if err != nil {
		return nil, fmt.Errorf("manager: build adapter: %w", err)
	}
	if client == nil {
		return nil, errors.New("manager: adapter factory returned nil client")
	}
	if err := m.attempt(ctx, client); err != nil {
		return client, err
	}
	return client, nil
}

func (m *Manager) attempt(ctx context.Context, client exchange.Client) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Health.Timeout)
	defer cancel()
	if !client.TestConnection(probeCtx) {
		return &exchange.Error{Kind: exchange.KindConnection, Op: "test_connection", Venue: client.Venue(), Msg: "connection test failed"}
	}
	return nil
}

// superviseHealth probes the connection on every tick until sup stops.
func (m *Manager) superviseHealth(c *connection, sup *supervision) {
	ticker := m.newTicker(m.cfg.Health.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-sup.quit:
			return
		case <-ticker.Chan():
			m.probe(c, sup)
		}
	}
}

func (m *Manager) probe(c *connection, sup *supervision) {
	if sup.reconnecting.True() {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.Health.Timeout)
	ok := sup.client.TestConnection(ctx)
	cancel()

	var (
		ev        events.Event
		reconnect bool
		changed   bool
	)
	rec, current := m.update(c, sup, func(r *ConnectionRecord) {
		r.LastCheckedAt = m.now()
		switch {
		case ok && r.State != StateConnected:
			r.State = StateConnected
			r.Live = true
			r.LastConnectedAt = r.LastCheckedAt
			r.LastError = ""
			r.ReconnectAttempts = 0
			ev = events.ConnectionRestored{Source: m.source(r.Key())}
			changed = true
		case !ok && r.State == StateConnected:
			r.State = StateDegraded
			r.Live = false
			r.LastError = "health probe failed"
			ev = events.ConnectionLost{Source: m.source(r.Key()), Err: r.LastError}
			changed = true
			reconnect = true
		case !ok:
			reconnect = r.State == StateDegraded
		}
	})
	if !current {
		return
	}
	if changed {
		m.persist(m.ctx, rec)
		m.sink.Emit(ev)
		logx.Infof("manager: %s probe changed state to %s", rec.Key(), rec.State)
	}
	if reconnect {
		m.startReconnect(c, sup)
	}
}

// startReconnect runs at most one reconnect loop per supervision.
func (m *Manager) startReconnect(c *connection, sup *supervision) {
	if !sup.reconnecting.CompareAndSwap(false, true) {
		return
	}
	m.routines.RunSafe(func() {
		defer sup.reconnecting.Set(false)
		m.reconnect(c, sup)
	})
}

// reconnect retries Connect and TestConnection up to MaxAttempts times.
// Exhaustion leaves the record Disconnected and ends supervision.
func (m *Manager) reconnect(c *connection, sup *supervision) {
	venue := sup.client.Venue()
	attempts := m.cfg.Reconnect.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if !m.wait(sup, m.cfg.Reconnect.Delay(attempt)) {
			return
		}
		if _, ok := m.update(c, sup, func(r *ConnectionRecord) {
			r.State = StateReconnecting
			r.ReconnectAttempts = attempt
		}); !ok {
			return
		}

		lastErr = m.attempt(m.ctx, sup.client)
		if lastErr == nil {
			metricReconnects.Inc(venue, "ok")
			sup.reconnecting.Set(false)
			rec, ok := m.update(c, sup, func(r *ConnectionRecord) {
				r.State = StateConnected
				r.Live = true
				r.LastConnectedAt = m.now()
				r.LastCheckedAt = r.LastConnectedAt
				r.LastError = ""
				r.ReconnectAttempts = 0
				r.Capabilities = sup.client.Capabilities()
			})
			if ok {
				m.persist(m.ctx, rec)
				m.sink.Emit(events.ConnectionRestored{Source: m.source(rec.Key()), Attempts: attempt})
				logx.Infof("manager: %s reconnected after %d attempt(s)", rec.Key(), attempt)
			}
			return
		}

		metricReconnects.Inc(venue, "failed")
		rec, ok := m.update(c, sup, func(r *ConnectionRecord) {
			r.State = StateDegraded
			r.LastError = lastErr.Error()
		})
		if !ok {
			return
		}
		m.persist(m.ctx, rec)
		logx.Errorf("manager: %s reconnect attempt %d/%d failed: %v", rec.Key(), attempt, attempts, lastErr)
	}

	rec, ok := m.update(c, sup, func(r *ConnectionRecord) {
		r.State = StateDisconnected
		r.Live = false
		if lastErr != nil {
			r.LastError = fmt.Sprintf("reconnect gave up after %d attempts: %v", attempts, lastErr)
		} else {
			r.LastError = "reconnect disabled"
		}
	})
	if !ok {
		return
	}
	sup.stop()
	m.persist(m.ctx, rec)
	m.sink.Emit(events.ConnectionLost{Source: m.source(rec.Key()), Err: rec.LastError, Exhausted: true})
	logx.Errorf("manager: %s is disconnected: %s", rec.Key(), rec.LastError)
}

// wait blocks for one tick of d, returning false when supervision stops first.
func (m *Manager) wait(sup *supervision, d time.Duration) bool {
	ticker := m.newTicker(d)
	defer ticker.Stop()
	select {
	case <-sup.quit:
		return false
	case <-ticker.Chan():
		return true
	}
}

// update applies fn when sup is still the connection's current supervision.
func (m *Manager) update(c *connection, sup *supervision, fn func(*ConnectionRecord)) (ConnectionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.sup != sup {
		return c.rec, false
	}
	return m.setLocked(c, fn), true
}

func (m *Manager) setLocked(c *connection, fn func(*ConnectionRecord)) ConnectionRecord {
	fn(&c.rec)
	c.rec.UpdatedAt = m.now()
	observeLive(c.rec)
	return c.rec
}

func (m *Manager) persist(ctx context.Context, rec ConnectionRecord) {
	logPersistenceError(ctx, m.store.SaveRecord(ctx, rec), rec)
}

func (m *Manager) source(key Key) events.Source {
	return events.Source{Venue: key.Venue, CredentialID: key.CredentialID, At: m.now()}
}

func notConnected(op string, key Key) error {
	return &exchange.Error{Kind: exchange.KindNotConnected, Op: op, Venue: key.Venue,
		Msg: fmt.Sprintf("no live connection for credential %q", key.CredentialID)}
}

// GetExchange returns the live client for the credential. With an empty
// credential ID it returns the first live client of the venue in
// initialization order.
func (m *Manager) GetExchange(venue, credentialID string) (exchange.Client, error) {
	key := newKey(venue, credentialID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if key.CredentialID != "" {
		if c, ok := m.conns[key]; ok && c.rec.Live && c.client != nil {
			return c.client, nil
		}
		return nil, notConnected("get_exchange", key)
	}
	for _, k := range m.order {
		if k.Venue != key.Venue {
			continue
		}
		if c := m.conns[k]; c.rec.Live && c.client != nil {
			return c.client, nil
		}
	}
	return nil, notConnected("get_exchange", key)
}

// GetExchangeForSymbol returns the first live client that serves symbol on
// segment. Probe failures of individual clients are skipped.
func (m *Manager) GetExchangeForSymbol(ctx context.Context, symbol string, segment exchange.MarketSegment) (exchange.Client, bool) {
	m.mu.RLock()
	live := make([]exchange.Client, 0, len(m.order))
	for _, k := range m.order {
		if c := m.conns[k]; c.rec.Live && c.client != nil {
			live = append(live, c.client)
		}
	}
	m.mu.RUnlock()

	for _, client := range live {
		if client.ProbeSymbol(ctx, symbol, segment) {
			return client, true
		}
	}
	return nil, false
}

// Disconnect stops supervising the credential and releases its adapter. The
// record is kept and marked Disconnected.
func (m *Manager) Disconnect(ctx context.Context, venue, credentialID string) error {
	key := newKey(venue, credentialID)
	m.mu.Lock()
	c, ok := m.conns[key]
	if !ok {
		m.mu.Unlock()
		return notConnected("disconnect", key)
	}
	m.mu.Unlock()
	return m.disconnect(ctx, c)
}

func (m *Manager) disconnect(ctx context.Context, c *connection) error {
	m.mu.Lock()
	sup, client := c.sup, c.client
	c.sup = nil
	rec := m.setLocked(c, func(r *ConnectionRecord) {
		r.State = StateDisconnected
		r.Live = false
	})
	m.mu.Unlock()

	sup.stop()
	var err error
	if client != nil {
		err = client.Disconnect(ctx)
	}
	m.persist(ctx, rec)
	logx.WithContext(ctx).Infof("manager: %s disconnected", rec.Key())
	return err
}

// Records returns every record in initialization order.
func (m *Manager) Records() []ConnectionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConnectionRecord, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.conns[k].rec)
	}
	return out
}

// Record returns the record for one credential.
func (m *Manager) Record(venue, credentialID string) (ConnectionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[newKey(venue, credentialID)]
	if !ok {
		return ConnectionRecord{}, false
	}
	return c.rec, true
}

// Shutdown stops all supervision, disconnects every adapter and waits for
// background loops until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*connection, 0, len(m.order))
	for _, k := range m.order {
		conns = append(conns, m.conns[k])
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := m.disconnect(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancel()

	done := make(chan struct{})
	threading.GoSafe(func() {
		m.routines.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("manager: wait for background loops: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
