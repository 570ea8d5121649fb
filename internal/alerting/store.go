package alerting

import (
	"context"
	"time"
)

// Tx is the set of store operations available inside one atomic unit.
// Lock* methods take a row lock held until the unit ends.
type Tx interface {
	LockActiveByDedupKey(ctx context.Context, tenantID, dedupKey string) (*Event, bool, error)
	FindCorrelationID(ctx context.Context, tenantID, clientID string, alertType AlertType, since time.Time) (string, bool, error)
	InsertEvent(ctx context.Context, e *Event) error
	UpdateEvent(ctx context.Context, e *Event) error
	LockEvent(ctx context.Context, id string) (*Event, bool, error)

	CandidateClusters(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Cluster, error)
	LockCluster(ctx context.Context, id string) (*Cluster, bool, error)
	InsertCluster(ctx context.Context, c *Cluster) error
	UpdateCluster(ctx context.Context, c *Cluster) error

	AppendAudit(ctx context.Context, a *AuditEntry) error
}

// Store is the persistence interface for alerts, clusters and the audit log.
type Store interface {
	// InTx runs fn as one atomic unit. Any error from fn rolls back every write it made.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetEvent(ctx context.Context, id string) (*Event, bool, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
	ListStaleNew(ctx context.Context, sev Severity, before time.Time, limit int) ([]*Event, error)

	GetCluster(ctx context.Context, id string) (*Cluster, bool, error)
	ListClusters(ctx context.Context, f ClusterFilter) ([]*Cluster, error)
	DeactivateClusters(ctx context.Context, lastAlertBefore time.Time) (int, error)

	ListAudit(ctx context.Context, alertID string) ([]*AuditEntry, error)
}

// EventFilter selects alerts for dashboards. Zero fields do not filter.
type EventFilter struct {
	TenantID    string
	Statuses    []Status
	MinSeverity Severity
	Since       time.Time
	Limit       int
}

// Matches reports whether e passes the filter (Limit is not considered).
func (f EventFilter) Matches(e *Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MinSeverity != 0 && e.Severity < f.MinSeverity {
		return false
	}
	if !f.Since.IsZero() && e.LastSeen.Before(f.Since) {
		return false
	}
	return true
}

// ClusterFilter selects clusters for dashboards.
type ClusterFilter struct {
	TenantID   string
	ActiveOnly bool
	Limit      int
}

// DefaultListLimit caps list queries that do not set a Limit.
const DefaultListLimit = 100
