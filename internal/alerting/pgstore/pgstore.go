// Package pgstore provides a PostgreSQL implementation of alerting.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/linnemanlabs/warden/internal/alerting"
	"github.com/linnemanlabs/warden/internal/alerting/similarity"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/alerting/pgstore")

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Store persists alerts, clusters and the audit log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// mapErr translates PostgreSQL errors into alerting sentinels.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w (%s)", alerting.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// InTx runs fn inside one PostgreSQL transaction. Any error from fn rolls it back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx alerting.Tx) error) error {
	ctx, span := startSpan(ctx, "pgstore.InTx", "TRANSACTION")
	defer span.End()

	ptx, err := s.pool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer ptx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(ctx, &tx{tx: ptx}); err != nil {
		fail(span, err)
		return err
	}

	if err := ptx.Commit(ctx); err != nil {
		err = mapErr(err)
		fail(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const eventColumns = `id, ` + eventColumnsNoID

const eventColumnsNoID = `tenant_id, client_id, business_unit_id, alert_type, severity, status,
	dedup_key, correlation_id, parent_alert_id, cluster_id, suppressed_count, first_seen, last_seen,
	message, entity_type, entity_id, site_id, person_id, metadata,
	acknowledged_by, acknowledged_at, assigned_to, assigned_by, assigned_at,
	escalated_to, escalated_at, escalation_reason, resolved_by, resolved_at,
	time_to_ack_s, time_to_resolve_s, priority_score, priority_features, created_at, updated_at`

const clusterColumns = `id, tenant_id, signature, primary_alert_id, related_alert_ids, confidence,
	method, feature_vector, combined_severity, affected_sites, affected_people, alert_types,
	first_alert_at, last_alert_at, alert_count, is_active, suppressed_alert_count, created_at, updated_at`

const auditColumns = `id, alert_id, tenant_id, action, actor, target, reason, from_status, to_status, created_at`

// GetEvent retrieves an alert by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*alerting.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEvent", "SELECT")
	defer span.End()

	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM alert_events WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// ListEvents returns matching alerts, most recently seen first.
func (s *Store) ListEvents(ctx context.Context, f alerting.EventFilter) ([]*alerting.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEvents", "SELECT")
	defer span.End()

	var statuses []string
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}
	var since *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}
	limit := f.Limit
	if limit <= 0 {
		limit = alerting.DefaultListLimit
	}

	query := `SELECT ` + eventColumns + ` FROM alert_events
		WHERE ($1 = '' OR tenant_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		  AND severity >= $3
		  AND ($4::timestamptz IS NULL OR last_seen >= $4)
		ORDER BY last_seen DESC, id DESC
		LIMIT $5`

	rows, err := s.pool.Query(ctx, query, f.TenantID, nonNil(statuses), int(f.MinSeverity), since, limit)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	out, err := collectEvents(rows)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// ListStaleNew returns NEW alerts of the given severity first seen before the cutoff, oldest first.
func (s *Store) ListStaleNew(ctx context.Context, sev alerting.Severity, before time.Time, limit int) ([]*alerting.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListStaleNew", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("warden.severity", sev.String()))

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE status = 'NEW' AND severity = $1 AND first_seen < $2
		 ORDER BY first_seen
		 LIMIT $3`,
		int(sev), before, limit,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query stale alerts: %w", err)
	}
	out, err := collectEvents(rows)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// GetCluster retrieves a cluster by ID.
func (s *Store) GetCluster(ctx context.Context, id string) (*alerting.Cluster, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCluster", "SELECT")
	defer span.End()

	c, err := scanCluster(s.pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM alert_clusters WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// ListClusters returns matching clusters, most recent activity first.
func (s *Store) ListClusters(ctx context.Context, f alerting.ClusterFilter) ([]*alerting.Cluster, error) {
	ctx, span := startSpan(ctx, "pgstore.ListClusters", "SELECT")
	defer span.End()

	limit := f.Limit
	if limit <= 0 {
		limit = alerting.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+clusterColumns+` FROM alert_clusters
		 WHERE ($1 = '' OR tenant_id = $1) AND (NOT $2 OR is_active)
		 ORDER BY last_alert_at DESC, id
		 LIMIT $3`,
		f.TenantID, f.ActiveOnly, limit,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	out, err := collectClusters(rows)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// DeactivateClusters closes active clusters whose last alert is before the cutoff.
func (s *Store) DeactivateClusters(ctx context.Context, lastAlertBefore time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.DeactivateClusters", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_clusters SET is_active = FALSE, updated_at = now()
		 WHERE is_active AND last_alert_at < $1`,
		lastAlertBefore,
	)
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("deactivate clusters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListAudit returns an alert's audit trail in append order.
func (s *Store) ListAudit(ctx context.Context, alertID string) ([]*alerting.AuditEntry, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAudit", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM alert_audit WHERE alert_id = $1 ORDER BY created_at, id`,
		alertID,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*alerting.AuditEntry
	for rows.Next() {
		var (
			a                      alerting.AuditEntry
			action, from, toStatus string
		)
		if err := rows.Scan(&a.ID, &a.AlertID, &a.TenantID, &action, &a.Actor, &a.Target, &a.Reason, &from, &toStatus, &a.CreatedAt); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.Action = alerting.Action(action)
		a.FromStatus = alerting.Status(from)
		a.ToStatus = alerting.Status(toStatus)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

func collectEvents(rows pgx.Rows) ([]*alerting.Event, error) {
	defer rows.Close()
	var out []*alerting.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func collectClusters(rows pgx.Rows) ([]*alerting.Cluster, error) {
	defer rows.Close()
	var out []*alerting.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}
	return out, nil
}

// scanEvent scans a single row into an Event.
// Returns (nil, nil) when no row is found.
func scanEvent(row pgx.Row) (*alerting.Event, error) {
	var (
		e                          alerting.Event
		alertType, status          string
		severity                   int
		metadataJSON, featuresJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ClientID, &e.BusinessUnitID, &alertType, &severity, &status,
		&e.DedupKey, &e.CorrelationID, &e.ParentAlertID, &e.ClusterID, &e.SuppressedCount, &e.FirstSeen, &e.LastSeen,
		&e.Message, &e.EntityType, &e.EntityID, &e.SiteID, &e.PersonID, &metadataJSON,
		&e.AcknowledgedBy, &e.AcknowledgedAt, &e.AssignedTo, &e.AssignedBy, &e.AssignedAt,
		&e.EscalatedTo, &e.EscalatedAt, &e.EscalationReason, &e.ResolvedBy, &e.ResolvedAt,
		&e.TimeToAcknowledge, &e.TimeToResolve, &e.PriorityScore, &featuresJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	e.Type = alerting.AlertType(alertType)
	e.Severity = alerting.Severity(severity)
	e.Status = alerting.Status(status)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for alert %s: %w", e.ID, err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
	}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &e.PriorityFeatures); err != nil {
			return nil, fmt.Errorf("unmarshal priority features for alert %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// scanCluster scans a single row into a Cluster.
// Returns (nil, nil) when no row is found.
func scanCluster(row pgx.Row) (*alerting.Cluster, error) {
	var (
		c                             alerting.Cluster
		related, sites, people, types []string
		vec                           pgvector.Vector
		severity                      int
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Signature, &c.PrimaryAlertID, &related, &c.Confidence,
		&c.Method, &vec, &severity, &sites, &people, &types,
		&c.FirstAlertAt, &c.LastAlertAt, &c.AlertCount, &c.IsActive, &c.SuppressedAlertCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cluster: %w", err)
	}

	c.RelatedAlertIDs = alerting.NewStringSet(related...)
	c.AffectedSites = alerting.NewStringSet(sites...)
	c.AffectedPeople = alerting.NewStringSet(people...)
	c.AlertTypes = alerting.NewStringSet(types...)
	c.FeatureVector = similarity.FromFloat32(vec.Slice())
	c.CombinedSeverity = alerting.Severity(severity)
	return &c, nil
}

// nonNil keeps TEXT[] NOT NULL columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
