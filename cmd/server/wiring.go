package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/alerting"
	"github.com/linnemanlabs/warden/internal/alerting/memstore"
	"github.com/linnemanlabs/warden/internal/alerting/pgstore"
	wc "github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/directory"
	"github.com/linnemanlabs/warden/internal/postgres"
)

// directorySource is everything the pipeline reads from the external directory.
type directorySource interface {
	alerting.MaintenanceSource
	alerting.ScheduleSource
	alerting.SiteSource
	alerting.ClientSource
}

// openStorage picks the alert store and directory. With a database both come
// from postgres on one shared pool, otherwise from memory and an optional
// YAML directory file. The returned close func is always non-nil.
func openStorage(ctx context.Context, appCfg *wc.Config, L log.Logger) (alerting.Store, directorySource, func(), error) {
	if appCfg.DatabaseURL == "" {
		store := memstore.New()
		if appCfg.DirectoryFile == "" {
			L.Info(ctx, "using in-memory store with empty directory (no database-url or directory-file configured)")
			return store, directory.Empty(), func() {}, nil
		}
		d, err := directory.Load(appCfg.DirectoryFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("directory: %w", err)
		}
		L.Info(ctx, "using in-memory store with directory file", "directory_file", appCfg.DirectoryFile)
		return store, d, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Options{
		URL:       appCfg.DatabaseURL,
		MaxConns:  int32(appCfg.DBMaxConns), //nolint:gosec // G115: bounded to 1..1000 by Validate
		SlowQuery: appCfg.SlowQuery(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store and directory")
	return store, pgstore.NewDirectory(pool), pool.Close, nil
}

// dbStats stashes the HTTP method as the query source, collects per-request
// DB stats and records them on the request span.
func dbStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := postgres.NewReqDBStatsContext(req.Context())
		next.ServeHTTP(w, req.WithContext(postgres.WithQuerySource(ctx, req.Method)))
		if stats, ok := postgres.ReqDBStatsFromContext(ctx); ok {
			n, total, errs := stats.Snapshot()
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("db.query_count", n),
				attribute.Float64("db.query_seconds", total.Seconds()),
				attribute.Int("db.query_errors", errs),
			)
		}
	})
}
