// Package store implements the coordination database: the persistent schema
// and atomic operations that every other component builds on (claim,
// election, reclaim). It is the only package that issues SQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a PostgreSQL connection pool with the handful of helpers the
// coordination operations need. It holds no coordination-specific state;
// Store builds the operation surface on top of it.
type Pool struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool against connString and verifies
// connectivity with a ping. The connection string format is standard
// PostgreSQL:
//
//	postgresql://[user[:password]@][host][:port][/dbname][?param1=value1&...]
func Open(ctx context.Context, connString string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.pool.Close()
}

// Exec runs a statement that returns no rows.
func (p *Pool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

// Query runs a statement that returns rows. The caller must close the
// returned pgx.Rows.
func (p *Pool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Raw exposes the underlying pool for operations that need transactions.
func (p *Pool) Raw() *pgxpool.Pool {
	return p.pool
}
