// Package postgres provides a PostgreSQL-backed KeyValueStore for ocrsched.
//
// State lives in a single key/value table. This gives durability across
// restarts and shared state across instances; the quota record itself is
// still written whole, so concurrent writers resolve as last-writer-wins.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scandesk/ocrsched"
)

// Store is a PostgreSQL-backed KeyValueStore.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

var _ ocrsched.KeyValueStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTable sets the table name (default "ocrsched_kv").
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// New creates a new PostgreSQL-backed KeyValueStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:  pool,
		table: "ocrsched_kv",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the backing table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ocrsched/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ocrsched/postgres: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.table)
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("ocrsched/postgres: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, q, key); err != nil {
		return fmt.Errorf("ocrsched/postgres: remove %s: %w", key, err)
	}
	return nil
}
