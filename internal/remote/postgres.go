package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/floodsync/internal/ir"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sync_records (
    id         TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sync_records_collection_idx ON sync_records (collection);
`

const (
	pgFetch = `SELECT value FROM sync_records WHERE collection = $1 ORDER BY id`

	pgUpsert = `
INSERT INTO sync_records (id, collection, value, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (id) DO UPDATE SET value = excluded.value, updated_at = now()`

	pgSwap = `
INSERT INTO sync_records (id, collection, value, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (id) DO UPDATE SET value = excluded.value, updated_at = now()
WHERE sync_records.value ->> $4::text = $5::text`

	pgIncrement = `
INSERT INTO sync_records (id, collection, value, updated_at)
VALUES ($1, $2,
    jsonb_set($3::jsonb, ARRAY[$4::text],
        to_jsonb(COALESCE(($3::jsonb ->> $4::text)::bigint, 0) + 1)),
    now())
ON CONFLICT (id) DO UPDATE SET
    value = jsonb_set(sync_records.value, ARRAY[$4::text],
        to_jsonb(COALESCE((sync_records.value ->> $4::text)::bigint, 0) + 1)),
    updated_at = now()
RETURNING value`

	pgDelete = `DELETE FROM sync_records WHERE id = $1`
)

// PostgresMirror stores every collection in the sync_records table.
type PostgresMirror struct {
	pool    *pgxpool.Pool
	channel string
}

// DialPostgres opens a pool, verifies it and ensures the table exists.
func DialPostgres(ctx context.Context, rawURL, channel string, timeout time.Duration) (*PostgresMirror, error) {
	cfg, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "floodsync"
	cfg.ConnConfig.ConnectTimeout = timeout

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, cfg)
	if err != nil {
		return nil, wrap("connect", "", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, wrap("ping", "", err)
	}
	if _, err := pool.Exec(dialCtx, pgSchema); err != nil {
		pool.Close()
		return nil, wrap("schema", "", err)
	}
	return &PostgresMirror{pool: pool, channel: channel}, nil
}

func (m *PostgresMirror) Fetch(ctx context.Context, coll ir.Collection) ([]json.RawMessage, error) {
	rows, err := m.pool.Query(ctx, pgFetch, string(coll))
	if err != nil {
		return nil, wrap("fetch", coll, err)
	}
	defer rows.Close()

	out := make([]json.RawMessage, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrap("fetch", coll, err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("fetch", coll, err)
	}
	return out, nil
}

func (m *PostgresMirror) Upsert(ctx context.Context, coll ir.Collection, id string, value json.RawMessage) error {
	_, err := m.pool.Exec(ctx, pgUpsert, coll.RowID(id), string(coll), string(value))
	return wrap("upsert", coll, err)
}

func (m *PostgresMirror) Swap(ctx context.Context, coll ir.Collection, id string, guard Guard, value json.RawMessage) (bool, error) {
	tag, err := m.pool.Exec(ctx, pgSwap, coll.RowID(id), string(coll), string(value), guard.Field, guard.Equals)
	if err != nil {
		return false, wrap("swap", coll, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (m *PostgresMirror) Increment(ctx context.Context, coll ir.Collection, id, field string, seed json.RawMessage) (json.RawMessage, error) {
	var raw []byte
	err := m.pool.QueryRow(ctx, pgIncrement, coll.RowID(id), string(coll), string(seed), field).Scan(&raw)
	if err != nil {
		return nil, wrap("increment", coll, err)
	}
	return json.RawMessage(raw), nil
}

func (m *PostgresMirror) Delete(ctx context.Context, coll ir.Collection, id string) error {
	_, err := m.pool.Exec(ctx, pgDelete, coll.RowID(id))
	return wrap("delete", coll, err)
}

func (m *PostgresMirror) Close() error {
	m.pool.Close()
	return nil
}

// Announce sends a NOTIFY on the broadcast channel.
func (m *PostgresMirror) Announce(ctx context.Context) error {
	if m.channel == "" {
		return nil
	}
	_, err := m.pool.Exec(ctx, `SELECT pg_notify($1, 'UPDATE')`, m.channel)
	return wrap("announce", "", err)
}

// Listen holds one pooled connection in LISTEN mode until ctx is done.
func (m *PostgresMirror) Listen(ctx context.Context, fn func()) error {
	if m.channel == "" {
		<-ctx.Done()
		return nil
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return wrap("listen", "", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{m.channel}.Sanitize()); err != nil {
		return wrap("listen", "", err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return wrap("listen", "", err)
		}
		fn()
	}
}

var (
	_ Mirror    = (*PostgresMirror)(nil)
	_ Announcer = (*PostgresMirror)(nil)
)
