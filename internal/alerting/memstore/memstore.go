// Package memstore provides an in-memory implementation of alerting.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// Store holds alerts, clusters and the audit log in memory. Suitable for dev/testing.
//
// Atomic units are serialized: InTx holds txMu for the whole unit and
// buffers writes until fn returns nil, so a failing unit leaves no trace.
type Store struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	events   map[string]*alerting.Event        // alert ID -> alert
	active   map[string]string                 // tenant|dedup_key -> alert ID (active statuses only)
	clusters map[string]*alerting.Cluster      // cluster ID -> cluster
	audit    map[string][]*alerting.AuditEntry // alert ID -> entries in append order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		events:   make(map[string]*alerting.Event),
		active:   make(map[string]string),
		clusters: make(map[string]*alerting.Cluster),
		audit:    make(map[string][]*alerting.AuditEntry),
	}
}

func activeKey(tenantID, dedupKey string) string {
	return tenantID + "|" + dedupKey
}

// InTx runs fn as one atomic unit.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx alerting.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{
		s:        s,
		events:   make(map[string]*alerting.Event),
		clusters: make(map[string]*alerting.Cluster),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range t.events {
		if old, ok := s.events[id]; ok && old.Status.IsActive() {
			k := activeKey(old.TenantID, old.DedupKey)
			if s.active[k] == id {
				delete(s.active, k)
			}
		}
		s.events[id] = e
		if e.Status.IsActive() {
			s.active[activeKey(e.TenantID, e.DedupKey)] = id
		}
	}
	for id, c := range t.clusters {
		s.clusters[id] = c
	}
	for _, a := range t.audit {
		s.audit[a.AlertID] = append(s.audit[a.AlertID], a)
	}
}

// GetEvent retrieves an alert by ID. Returns a copy.
func (s *Store) GetEvent(_ context.Context, id string) (*alerting.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// ListEvents returns copies of matching alerts, most recently seen first.
func (s *Store) ListEvents(_ context.Context, f alerting.EventFilter) ([]*alerting.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alerting.Event
	for _, e := range s.events {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return limit(out, f.Limit), nil
}

// ListStaleNew returns NEW alerts of the given severity first seen before
// the cutoff, oldest first.
func (s *Store) ListStaleNew(_ context.Context, sev alerting.Severity, before time.Time, n int) ([]*alerting.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alerting.Event
	for _, e := range s.events {
		if e.Status == alerting.StatusNew && e.Severity == sev && e.FirstSeen.Before(before) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return limit(out, n), nil
}

// GetCluster retrieves a cluster by ID. Returns a copy.
func (s *Store) GetCluster(_ context.Context, id string) (*alerting.Cluster, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// ListClusters returns copies of matching clusters, most recent activity first.
func (s *Store) ListClusters(_ context.Context, f alerting.ClusterFilter) ([]*alerting.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alerting.Cluster
	for _, c := range s.clusters {
		if f.TenantID != "" && c.TenantID != f.TenantID {
			continue
		}
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		out = append(out, c.Clone())
	}
	sortClustersByRecency(out)
	return limit(out, f.Limit), nil
}

// DeactivateClusters closes active clusters whose last alert is before the cutoff.
// It waits for any in-flight atomic unit so a concurrent join cannot reopen a closed cluster.
func (s *Store) DeactivateClusters(_ context.Context, lastAlertBefore time.Time) (int, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.clusters {
		if c.IsActive && c.LastAlertAt.Before(lastAlertBefore) {
			c.IsActive = false
			n++
		}
	}
	return n, nil
}

// ListAudit returns copies of an alert's audit entries in append order.
func (s *Store) ListAudit(_ context.Context, alertID string) ([]*alerting.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[alertID]
	out := make([]*alerting.AuditEntry, 0, len(entries))
	for _, a := range entries {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func sortClustersByRecency(cs []*alerting.Cluster) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].LastAlertAt.Equal(cs[j].LastAlertAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].LastAlertAt.After(cs[j].LastAlertAt)
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
