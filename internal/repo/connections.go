package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tradelink/pkg/exchange"
	"tradelink/pkg/manager"
)

// ConnectionsSchema creates the connection_records table.
const ConnectionsSchema = `
CREATE TABLE IF NOT EXISTS connection_records (
    venue              TEXT        NOT NULL,
    credential_id      TEXT        NOT NULL,
    state              TEXT        NOT NULL,
    live               BOOLEAN     NOT NULL DEFAULT FALSE,
    last_connected_at  TIMESTAMPTZ,
    last_checked_at    TIMESTAMPTZ,
    last_error         TEXT        NOT NULL DEFAULT '',
    reconnect_attempts INTEGER     NOT NULL DEFAULT 0,
    segments           TEXT[]      NOT NULL DEFAULT '{}',
    max_leverage       INTEGER     NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (venue, credential_id)
)`

// ErrRecordNotFound is returned by Find when no row matches.
var ErrRecordNotFound = errors.New("repo: connection record not found")

// ConnectionsRepo persists supervisor diagnostics so they survive restarts.
// It satisfies manager.RecordStore.
type ConnectionsRepo interface {
	EnsureSchema(ctx context.Context) error
	SaveRecord(ctx context.Context, rec manager.ConnectionRecord) error
	Find(ctx context.Context, venue, credentialID string) (*manager.ConnectionRecord, error)
	List(ctx context.Context) ([]manager.ConnectionRecord, error)
}

var _ manager.RecordStore = ConnectionsRepo(nil)

type connectionRow struct {
	Venue             string         `db:"venue"`
	CredentialID      string         `db:"credential_id"`
	State             string         `db:"state"`
	Live              bool           `db:"live"`
	LastConnectedAt   sql.NullTime   `db:"last_connected_at"`
	LastCheckedAt     sql.NullTime   `db:"last_checked_at"`
	LastError         string         `db:"last_error"`
	ReconnectAttempts int64          `db:"reconnect_attempts"`
	Segments          pq.StringArray `db:"segments"`
	MaxLeverage       int64          `db:"max_leverage"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

const connectionColumns = `venue, credential_id, state, live, last_connected_at, last_checked_at,
    last_error, reconnect_attempts, segments, max_leverage, created_at, updated_at`

type connectionsRepo struct {
	conn sqlx.SqlConn
}

func newConnectionsRepo(deps Dependencies) ConnectionsRepo {
	return &connectionsRepo{conn: deps.DBConn}
}

func (r *connectionsRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.conn.ExecCtx(ctx, ConnectionsSchema); err != nil {
		return fmt.Errorf("connectionsRepo.EnsureSchema: %w", err)
	}
	return nil
}

func (r *connectionsRepo) SaveRecord(ctx context.Context, rec manager.ConnectionRecord) error {
	query := `
INSERT INTO connection_records (` + connectionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (venue, credential_id) DO UPDATE SET
    state = EXCLUDED.state,
    live = EXCLUDED.live,
    last_connected_at = EXCLUDED.last_connected_at,
    last_checked_at = EXCLUDED.last_checked_at,
    last_error = EXCLUDED.last_error,
    reconnect_attempts = EXCLUDED.reconnect_attempts,
    segments = EXCLUDED.segments,
    max_leverage = EXCLUDED.max_leverage,
    updated_at = EXCLUDED.updated_at`

	segments := make([]string, 0, len(rec.Capabilities.Segments))
	for _, s := range rec.Capabilities.Segments {
		segments = append(segments, string(s))
	}
	_, err := r.conn.ExecCtx(ctx, query,
		rec.Venue,
		rec.CredentialID,
		string(rec.State),
		rec.Live,
		nullTime(rec.LastConnectedAt),
		nullTime(rec.LastCheckedAt),
		rec.LastError,
		rec.ReconnectAttempts,
		pq.Array(segments),
		rec.Capabilities.MaxLeverage,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("connectionsRepo.SaveRecord %s/%s: %w", rec.Venue, rec.CredentialID, err)
	}
	return nil
}

func (r *connectionsRepo) Find(ctx context.Context, venue, credentialID string) (*manager.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + `
FROM connection_records
WHERE venue = $1 AND credential_id = $2`

	var row connectionRow
	err := r.conn.QueryRowCtx(ctx, &row, query, venue, credentialID)
	switch {
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, ErrRecordNotFound
	case err != nil:
		return nil, fmt.Errorf("connectionsRepo.Find query: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

func (r *connectionsRepo) List(ctx context.Context) ([]manager.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + `
FROM connection_records
ORDER BY venue, credential_id`

	var rows []connectionRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("connectionsRepo.List query: %w", err)
	}
	result := make([]manager.ConnectionRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.record())
	}
	return result, nil
}

func (row connectionRow) record() manager.ConnectionRecord {
	rec := manager.ConnectionRecord{
		Venue:             row.Venue,
		CredentialID:      row.CredentialID,
		State:             manager.State(row.State),
		Live:              row.Live,
		LastError:         row.LastError,
		ReconnectAttempts: int(row.ReconnectAttempts),
		Capabilities:      exchange.Capabilities{MaxLeverage: int(row.MaxLeverage)},
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.LastConnectedAt.Valid {
		rec.LastConnectedAt = row.LastConnectedAt.Time
	}
	if row.LastCheckedAt.Valid {
		rec.LastCheckedAt = row.LastCheckedAt.Time
	}
	for _, s := range row.Segments {
		rec.Capabilities.Segments = append(rec.Capabilities.Segments, exchange.MarketSegment(s))
	}
	return rec
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
