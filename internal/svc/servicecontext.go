package svc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tradelink/internal/config"
	"tradelink/internal/repo"
	"tradelink/pkg/events"
	exchangepkg "tradelink/pkg/exchange"
	_ "tradelink/pkg/exchange/hyperliquid"
	_ "tradelink/pkg/exchange/sim"
	executorpkg "tradelink/pkg/executor"
	"tradelink/pkg/journal"
	managerpkg "tradelink/pkg/manager"
	"tradelink/pkg/ratelimit"
)

type ServiceContext struct {
	Config config.Config

	Bus            *events.Bus
	ExchangeConfig *exchangepkg.Config
	ManagerConfig  *managerpkg.Config
	ExecutorConfig *executorpkg.Config
	Manager        *managerpkg.Manager
	// Journal is nil unless the executor section names a journal_dir.
	Journal *journal.Writer

	// Optional infrastructure, present only when configured.
	Redis  *redis.Redis
	DBConn sqlx.SqlConn
	Repos  *repo.Set

	mu        sync.Mutex
	executors map[managerpkg.Key]boundExecutor
}

type boundExecutor struct {
	client exchangepkg.Client
	exec   *executorpkg.Executor
}

func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	if err != nil {
		logx.Must(err)
	}
	return svc
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	if c.ExchangeConfig() == nil {
		return nil, errors.New("svc: exchange config not hydrated")
	}
	svc := &ServiceContext{
		Config:         c,
		Bus:            events.NewBus(),
		ExchangeConfig: c.ExchangeConfig(),
		ManagerConfig:  c.ManagerConfig(),
		ExecutorConfig: c.ExecutorConfig(),
		executors:      make(map[managerpkg.Key]boundExecutor),
	}
	if svc.ExecutorConfig != nil && svc.ExecutorConfig.JournalDir != "" {
		w, err := journal.NewWriter(svc.ExecutorConfig.JournalDir)
		if err != nil {
			return nil, err
		}
		svc.Journal = w
	}

	// Only connect to Postgres when DSN provided; records otherwise live in memory.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		if raw, err := conn.RawDB(); err == nil {
			raw.SetMaxOpenConns(c.Postgres.MaxOpen)
			raw.SetMaxIdleConns(c.Postgres.MaxIdle)
		}
		repos, err := repo.New(repo.Dependencies{DBConn: conn})
		if err != nil {
			return nil, err
		}
		svc.DBConn = conn
		svc.Repos = repos
	}

	adapterOpts := []exchangepkg.AdapterOption{exchangepkg.WithEventSink(svc.Bus)}
	if c.RateLimit.Shared {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("svc: redis: %w", err)
		}
		svc.Redis = rds
		adapterOpts = append(adapterOpts, exchangepkg.WithLimiterFactory(sharedLimiter(rds, c.RateLimit.KeyPrefix)))
	}

	managerOpts := []managerpkg.Option{
		managerpkg.WithConfig(svc.ManagerConfig),
		managerpkg.WithEventSink(svc.Bus),
	}
	if svc.Repos != nil {
		managerOpts = append(managerOpts, managerpkg.WithRecordStore(svc.Repos.Connections))
	}
	m, err := managerpkg.New(managerpkg.ConfigFactory(svc.ExchangeConfig, adapterOpts...), managerOpts...)
	if err != nil {
		return nil, err
	}
	svc.Manager = m
	return svc, nil
}

func sharedLimiter(rds *redis.Redis, prefix string) func(exchangepkg.RateLimit) ratelimit.Limiter {
	return func(rl exchangepkg.RateLimit) ratelimit.Limiter {
		if rl.Requests <= 0 || rl.Window <= 0 {
			return ratelimit.Unlimited{}
		}
		return ratelimit.NewRedisWindow(rds, rl.Requests, rl.Window, prefix)
	}
}

// PrepareStorage creates the record table when Postgres is configured.
func (s *ServiceContext) PrepareStorage(ctx context.Context) error {
	if s.Repos == nil {
		return nil
	}
	return s.Repos.Connections.EnsureSchema(ctx)
}

// StoredRecords lists the persisted connection records, including those
// left by earlier runs. Without Postgres it returns the manager's records.
func (s *ServiceContext) StoredRecords(ctx context.Context) ([]managerpkg.ConnectionRecord, error) {
	if s.Repos == nil {
		return s.Manager.Records(), nil
	}
	return s.Repos.Connections.List(ctx)
}

// StoredRecord returns the persisted record for one credential, or
// repo.ErrRecordNotFound.
func (s *ServiceContext) StoredRecord(ctx context.Context, venue, credentialID string) (*managerpkg.ConnectionRecord, error) {
	if s.Repos == nil {
		rec, ok := s.Manager.Record(venue, credentialID)
		if !ok {
			return nil, repo.ErrRecordNotFound
		}
		return &rec, nil
	}
	return s.Repos.Connections.Find(ctx, venue, credentialID)
}

// AutoConnect initializes every credential marked auto_connect, default
// first. Failures are reported in the results, never returned.
func (s *ServiceContext) AutoConnect(ctx context.Context) []managerpkg.InitResult {
	var results []managerpkg.InitResult
	for _, id := range s.ExchangeConfig.IDs() {
		p := s.ExchangeConfig.Credentials[id]
		if p == nil || !p.AutoConnect {
			continue
		}
		cred, err := s.ExchangeConfig.Credential(id)
		if err != nil {
			results = append(results, managerpkg.InitResult{Err: err})
			continue
		}
		res := s.Manager.Initialize(ctx, p.Venue, cred)
		if res.Err != nil {
			logx.WithContext(ctx).Errorf("svc: auto-connect %s/%s failed: %v", p.Venue, id, res.Err)
		}
		results = append(results, res)
	}
	return results
}

// Executor returns the executor bound to the live client for venue and
// credentialID. The executor is rebuilt when the connection was
// re-initialized with a new client.
func (s *ServiceContext) Executor(venue, credentialID string) (*executorpkg.Executor, error) {
	client, err := s.Manager.GetExchange(venue, credentialID)
	if err != nil {
		return nil, err
	}
	key := managerpkg.Key{Venue: client.Venue(), CredentialID: client.CredentialID()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.executors[key]; ok && b.client == client {
		return b.exec, nil
	}
	opts := []executorpkg.Option{
		executorpkg.WithConfig(s.ExecutorConfig),
		executorpkg.WithEventSink(s.Bus),
	}
	if s.Journal != nil {
		opts = append(opts, executorpkg.WithRecorder(s.Journal))
	}
	exec, err := executorpkg.New(client, opts...)
	if err != nil {
		return nil, err
	}
	s.executors[key] = boundExecutor{client: client, exec: exec}
	return exec, nil
}

// Close stops supervision, disconnects every client and releases the bus.
func (s *ServiceContext) Close(ctx context.Context) error {
	err := s.Manager.Shutdown(ctx)
	s.Bus.Close()
	return err
}
