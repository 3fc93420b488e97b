// Package storage provides the PostgreSQL storage layer for Shirushi.
//
// It manages connection pooling via pgxpool, a forward-only migration
// runner for the embedded schema, and the query methods backing the
// registry and tracking store contracts.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoshizora-ml/shirushi/internal/registry"
	"github.com/hoshizora-ml/shirushi/internal/tracking"
)

// DB wraps a pgxpool.Pool. It implements both registry.Store and
// tracking.Store.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool.
// dsn may point at PgBouncer or directly at Postgres.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

var (
	_ registry.Store = (*DB)(nil)
	_ tracking.Store = (*DB)(nil)
)
