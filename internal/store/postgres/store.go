// Package postgres is the relational persistence layer backing the
// pre-gen job engine, profile manager, and comparison session manager.
// It owns the schema and the row-level CRUD each component needs.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds a single connection pool shared by every table group
// (profiles, module bindings, pre-gen jobs/items, comparison
// sessions/variants/ratings). All methods are safe for concurrent use;
// pgxpool itself is the only synchronization primitive required; each
// update's transaction provides all the locking the row-level state
// machines need.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies connectivity, and runs Migrate.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
