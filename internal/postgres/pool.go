// Package postgres provides the shared pgx connection pool with
// tracing, logging, and per-query metrics instrumentation.
package postgres

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects to PostgreSQL with the otelpgx span tracer wrapped
// in the structured query logger. Stores share one pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}
