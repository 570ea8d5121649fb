package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// Directory reads the platform-owned maintenance window, on-call schedule,
// site and client tables. It never writes to them.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory returns a Directory over pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// MaintenanceWindows returns the tenant's windows in effect at at.
func (d *Directory) MaintenanceWindows(ctx context.Context, tenantID string, at time.Time) ([]alerting.MaintenanceWindow, error) {
	ctx, span := startSpan(ctx, "pgstore.MaintenanceWindows", "SELECT")
	defer span.End()

	rows, err := d.pool.Query(ctx,
		`SELECT id, tenant_id, client_id, starts_at, ends_at, suppress_all, suppressed_types
		 FROM maintenance_windows
		 WHERE tenant_id = $1 AND starts_at <= $2 AND ends_at > $2
		 ORDER BY starts_at, id`,
		tenantID, at,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []alerting.MaintenanceWindow
	for rows.Next() {
		var (
			w     alerting.MaintenanceWindow
			types []string
		)
		if err := rows.Scan(&w.ID, &w.TenantID, &w.ClientID, &w.Start, &w.End, &w.SuppressAll, &types); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		w.SuppressedTypes = alerting.NewStringSet(types...)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate maintenance windows: %w", err)
	}
	return out, nil
}

// OnCallEntries returns active schedule slots covering at for the client,
// including tenant-wide slots. Client-specific slots sort first.
func (d *Directory) OnCallEntries(ctx context.Context, tenantID, clientID string, at time.Time) ([]alerting.OnCallEntry, error) {
	ctx, span := startSpan(ctx, "pgstore.OnCallEntries", "SELECT")
	defer span.End()

	rows, err := d.pool.Query(ctx,
		`SELECT tenant_id, client_id, person, starts_at, ends_at, active
		 FROM on_call_schedules
		 WHERE tenant_id = $1 AND (client_id = $2 OR client_id = '')
		   AND active AND starts_at <= $3 AND ends_at > $3
		 ORDER BY client_id = '', starts_at, id`,
		tenantID, clientID, at,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query on-call schedules: %w", err)
	}
	defer rows.Close()

	var out []alerting.OnCallEntry
	for rows.Next() {
		var o alerting.OnCallEntry
		if err := rows.Scan(&o.TenantID, &o.ClientID, &o.Person, &o.Start, &o.End, &o.Active); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("scan on-call entry: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate on-call schedules: %w", err)
	}
	return out, nil
}

// SitesForClient returns the client's sites ordered by ID.
func (d *Directory) SitesForClient(ctx context.Context, tenantID, clientID string) ([]alerting.Site, error) {
	ctx, span := startSpan(ctx, "pgstore.SitesForClient", "SELECT")
	defer span.End()

	rows, err := d.pool.Query(ctx,
		`SELECT id, tenant_id, client_id, name, in_charge
		 FROM sites WHERE tenant_id = $1 AND client_id = $2
		 ORDER BY id`,
		tenantID, clientID,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var out []alerting.Site
	for rows.Next() {
		var s alerting.Site
		if err := rows.Scan(&s.ID, &s.TenantID, &s.ClientID, &s.Name, &s.InCharge); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return out, nil
}

// GetClient retrieves a client record.
func (d *Directory) GetClient(ctx context.Context, tenantID, clientID string) (*alerting.Client, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetClient", "SELECT")
	defer span.End()

	var c alerting.Client
	err := d.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, owner, created_by FROM clients WHERE tenant_id = $1 AND id = $2`,
		tenantID, clientID,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.Owner, &c.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, fmt.Errorf("query client: %w", err)
	}
	return &c, true, nil
}
