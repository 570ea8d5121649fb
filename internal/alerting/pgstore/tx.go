package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/linnemanlabs/warden/internal/alerting"
	"github.com/linnemanlabs/warden/internal/alerting/similarity"
)

// tx implements alerting.Tx over one pgx transaction.
type tx struct {
	tx pgx.Tx
}

func (t *tx) LockActiveByDedupKey(ctx context.Context, tenantID, dedupKey string) (*alerting.Event, bool, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE tenant_id = $1 AND dedup_key = $2 AND status IN ('NEW', 'ACKNOWLEDGED', 'ASSIGNED')
		 FOR UPDATE`,
		tenantID, dedupKey,
	))
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

func (t *tx) FindCorrelationID(ctx context.Context, tenantID, clientID string, alertType alerting.AlertType, since time.Time) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx,
		`SELECT correlation_id FROM alert_events
		 WHERE tenant_id = $1 AND client_id = $2 AND alert_type = $3
		   AND correlation_id <> '' AND created_at >= $4
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID, clientID, string(alertType), since,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query correlation id: %w", err)
	}
	return id, true, nil
}

func eventArgs(e *alerting.Event) ([]any, error) {
	metadataJSON := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = b
	}
	featuresJSON, err := json.Marshal(e.PriorityFeatures)
	if err != nil {
		return nil, fmt.Errorf("marshal priority features: %w", err)
	}
	return []any{
		e.ID, e.TenantID, e.ClientID, e.BusinessUnitID, string(e.Type), int(e.Severity), string(e.Status),
		e.DedupKey, e.CorrelationID, e.ParentAlertID, e.ClusterID, e.SuppressedCount, e.FirstSeen, e.LastSeen,
		e.Message, e.EntityType, e.EntityID, e.SiteID, e.PersonID, metadataJSON,
		e.AcknowledgedBy, e.AcknowledgedAt, e.AssignedTo, e.AssignedBy, e.AssignedAt,
		e.EscalatedTo, e.EscalatedAt, e.EscalationReason, e.ResolvedBy, e.ResolvedAt,
		e.TimeToAcknowledge, e.TimeToResolve, e.PriorityScore, featuresJSON, e.CreatedAt, e.UpdatedAt,
	}, nil
}

func (t *tx) InsertEvent(ctx context.Context, e *alerting.Event) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO alert_events (`+eventColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", e.ID, mapErr(err))
	}
	return nil
}

// UpdateEvent rewrites every column of the row except its ID.
func (t *tx) UpdateEvent(ctx context.Context, e *alerting.Event) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE alert_events SET (`+eventColumnsNoID+`) = (
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36)
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", e.ID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update alert %s: %w", e.ID, alerting.ErrNotFound)
	}
	return nil
}

func (t *tx) LockEvent(ctx context.Context, id string) (*alerting.Event, bool, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM alert_events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

func (t *tx) CandidateClusters(ctx context.Context, tenantID string, since time.Time, limit int) ([]*alerting.Cluster, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+clusterColumns+` FROM alert_clusters
		 WHERE tenant_id = $1 AND is_active AND last_alert_at >= $2
		 ORDER BY last_alert_at DESC, id
		 LIMIT $3`,
		tenantID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query candidate clusters: %w", err)
	}
	return collectClusters(rows)
}

func (t *tx) LockCluster(ctx context.Context, id string) (*alerting.Cluster, bool, error) {
	c, err := scanCluster(t.tx.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM alert_clusters WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	return c, c != nil, nil
}

func clusterArgs(c *alerting.Cluster) []any {
	return []any{
		c.ID, c.TenantID, c.Signature, c.PrimaryAlertID, nonNil(c.RelatedAlertIDs.Sorted()), c.Confidence,
		c.Method, pgvector.NewVector(similarity.ToFloat32(c.FeatureVector)), int(c.CombinedSeverity),
		nonNil(c.AffectedSites.Sorted()), nonNil(c.AffectedPeople.Sorted()), nonNil(c.AlertTypes.Sorted()),
		c.FirstAlertAt, c.LastAlertAt, c.AlertCount, c.IsActive, c.SuppressedAlertCount, c.CreatedAt, c.UpdatedAt,
	}
}

func (t *tx) InsertCluster(ctx context.Context, c *alerting.Cluster) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO alert_clusters (`+clusterColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		clusterArgs(c)...,
	)
	if err != nil {
		return fmt.Errorf("insert cluster %s: %w", c.ID, mapErr(err))
	}
	return nil
}

// UpdateCluster rewrites the membership and aggregate columns. The founding
// alert, signature and feature vector are immutable.
func (t *tx) UpdateCluster(ctx context.Context, c *alerting.Cluster) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE alert_clusters SET
			related_alert_ids = $2, confidence = $3, combined_severity = $4,
			affected_sites = $5, affected_people = $6, alert_types = $7,
			last_alert_at = $8, alert_count = $9, is_active = $10,
			suppressed_alert_count = $11, updated_at = $12
		 WHERE id = $1`,
		c.ID, nonNil(c.RelatedAlertIDs.Sorted()), c.Confidence, int(c.CombinedSeverity),
		nonNil(c.AffectedSites.Sorted()), nonNil(c.AffectedPeople.Sorted()), nonNil(c.AlertTypes.Sorted()),
		c.LastAlertAt, c.AlertCount, c.IsActive, c.SuppressedAlertCount, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update cluster %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update cluster %s: %w", c.ID, alerting.ErrNotFound)
	}
	return nil
}

func (t *tx) AppendAudit(ctx context.Context, a *alerting.AuditEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO alert_audit (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.AlertID, a.TenantID, string(a.Action), a.Actor, a.Target, a.Reason,
		string(a.FromStatus), string(a.ToStatus), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit for alert %s: %w", a.AlertID, err)
	}
	return nil
}
