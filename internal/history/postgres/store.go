// Package postgres provides a PostgreSQL-backed [history.Store]. The schema
// is created on startup via CREATE TABLE IF NOT EXISTS, so no external
// migration tooling is required.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxscribe/internal/history"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

const ddlDictations = `
CREATE TABLE IF NOT EXISTS dictations (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    raw_text     TEXT         NOT NULL DEFAULT '',
    language     TEXT         NOT NULL DEFAULT '',
    focused_app  TEXT         NOT NULL DEFAULT '',
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dictations_created_at
    ON dictations (created_at);

CREATE INDEX IF NOT EXISTS idx_dictations_fts
    ON dictations USING GIN (to_tsvector('english', text));
`

// Store persists dictation history in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlDictations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO dictations
		    (session_id, text, raw_text, language, focused_app, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Text,
		e.RawText,
		e.Language,
		e.FocusedApp,
		e.AudioDuration.Nanoseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("history store: save: %w", err)
	}
	return nil
}

// Recent implements [history.Store]. It returns up to limit entries, newest
// first; limit <= 0 selects a default of 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT session_id, text, raw_text, language, focused_app, duration_ns, created_at
		FROM   dictations
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var e history.Entry
		var durationNs int64
		if err := rows.Scan(&e.SessionID, &e.Text, &e.RawText, &e.Language, &e.FocusedApp, &durationNs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history store: scan: %w", err)
		}
		e.AudioDuration = time.Duration(durationNs)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history store: iterate: %w", err)
	}
	return entries, nil
}
