// Package metastore implements the optional out-of-scope-boundary adapter
// to an auxiliary relational metadata store: session display name and
// channel binding lookups, consumed only by the Context Builder. Absent a
// configured DSN, callers use the raw session identifier instead.
package metastore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no directory entry exists for a session.
var ErrNotFound = errors.New("metastore: session not found")

// Entry is a session's resolved identity.
type Entry struct {
	SessionID   string
	DisplayName string
	Channel     string
}

// SessionDirectory resolves a session identifier to a display name and
// channel binding.
type SessionDirectory interface {
	Resolve(ctx context.Context, sessionID string) (Entry, error)
	Bind(ctx context.Context, sessionID, displayName, channel string) error
}

// Postgres is a pgx-backed SessionDirectory.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the directory table exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p := &Postgres{pool: pool}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS session_directory (
	session_id   TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	channel      TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	return err
}

// Resolve looks up a session's directory entry. Returns ErrNotFound when
// the session has never been bound.
func (p *Postgres) Resolve(ctx context.Context, sessionID string) (Entry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT session_id, display_name, channel FROM session_directory WHERE session_id = $1`, sessionID)

	var e Entry
	if err := row.Scan(&e.SessionID, &e.DisplayName, &e.Channel); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// Bind upserts a session's display name and channel binding.
func (p *Postgres) Bind(ctx context.Context, sessionID, displayName, channel string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO session_directory (session_id, display_name, channel, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (session_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	channel = EXCLUDED.channel,
	updated_at = NOW()`,
		sessionID, displayName, channel)
	return err
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
