// Package postgres builds the instrumented pgx connection pool shared by
// the alert store and the directory reader.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options configures NewPool.
type Options struct {
	URL      string
	MaxConns int32

	// SlowQuery is the duration above which successful queries are logged.
	// Failed queries are always logged. 0 logs every query.
	SlowQuery time.Duration
}

// NewPool parses the connection string, installs the otelpgx tracer wrapped
// with query logging and metrics, and verifies connectivity.
func NewPool(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = opts.MaxConns
	}
	pcfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
