package memstore

import (
	"context"
	"time"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// tx buffers the writes of one atomic unit. Reads see the buffered writes
// first, then the committed state. The owning Store's txMu is held for the
// lifetime of a tx, so "locks" are implicit.
type tx struct {
	s        *Store
	events   map[string]*alerting.Event
	clusters map[string]*alerting.Cluster
	audit    []*alerting.AuditEntry
}

func (t *tx) event(id string) (*alerting.Event, bool) {
	if e, ok := t.events[id]; ok {
		return e, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	e, ok := t.s.events[id]
	return e, ok
}

// eachEvent visits the effective view of every event.
func (t *tx) eachEvent(fn func(e *alerting.Event)) {
	for _, e := range t.events {
		fn(e)
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, e := range t.s.events {
		if _, shadowed := t.events[id]; shadowed {
			continue
		}
		fn(e)
	}
}

func (t *tx) findActive(tenantID, dedupKey string) (*alerting.Event, bool) {
	for _, e := range t.events {
		if e.TenantID == tenantID && e.DedupKey == dedupKey && e.Status.IsActive() {
			return e, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.active[activeKey(tenantID, dedupKey)]
	if !ok {
		return nil, false
	}
	if _, shadowed := t.events[id]; shadowed {
		// the buffered copy was checked above and is no longer active
		return nil, false
	}
	return t.s.events[id], true
}

func (t *tx) LockActiveByDedupKey(_ context.Context, tenantID, dedupKey string) (*alerting.Event, bool, error) {
	e, ok := t.findActive(tenantID, dedupKey)
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

func (t *tx) FindCorrelationID(_ context.Context, tenantID, clientID string, alertType alerting.AlertType, since time.Time) (string, bool, error) {
	var best *alerting.Event
	t.eachEvent(func(e *alerting.Event) {
		if e.TenantID != tenantID || e.ClientID != clientID || e.Type != alertType {
			return
		}
		if e.CorrelationID == "" || e.CreatedAt.Before(since) {
			return
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	})
	if best == nil {
		return "", false, nil
	}
	return best.CorrelationID, true, nil
}

func (t *tx) InsertEvent(_ context.Context, e *alerting.Event) error {
	if e.Status.IsActive() {
		if other, ok := t.findActive(e.TenantID, e.DedupKey); ok && other.ID != e.ID {
			return alerting.ErrConflict
		}
	}
	t.events[e.ID] = e.Clone()
	return nil
}

func (t *tx) UpdateEvent(_ context.Context, e *alerting.Event) error {
	if _, ok := t.event(e.ID); !ok {
		return alerting.ErrNotFound
	}
	if e.Status.IsActive() {
		if other, ok := t.findActive(e.TenantID, e.DedupKey); ok && other.ID != e.ID {
			return alerting.ErrConflict
		}
	}
	t.events[e.ID] = e.Clone()
	return nil
}

func (t *tx) LockEvent(_ context.Context, id string) (*alerting.Event, bool, error) {
	e, ok := t.event(id)
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

func (t *tx) cluster(id string) (*alerting.Cluster, bool) {
	if c, ok := t.clusters[id]; ok {
		return c, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.clusters[id]
	return c, ok
}

func (t *tx) CandidateClusters(_ context.Context, tenantID string, since time.Time, n int) ([]*alerting.Cluster, error) {
	var out []*alerting.Cluster
	consider := func(c *alerting.Cluster) {
		if c.TenantID == tenantID && c.IsActive && !c.LastAlertAt.Before(since) {
			out = append(out, c.Clone())
		}
	}
	for _, c := range t.clusters {
		consider(c)
	}
	t.s.mu.RLock()
	for id, c := range t.s.clusters {
		if _, shadowed := t.clusters[id]; !shadowed {
			consider(c)
		}
	}
	t.s.mu.RUnlock()

	sortClustersByRecency(out)
	return limit(out, n), nil
}

func (t *tx) LockCluster(_ context.Context, id string) (*alerting.Cluster, bool, error) {
	c, ok := t.cluster(id)
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (t *tx) InsertCluster(_ context.Context, c *alerting.Cluster) error {
	t.clusters[c.ID] = c.Clone()
	return nil
}

func (t *tx) UpdateCluster(_ context.Context, c *alerting.Cluster) error {
	if _, ok := t.cluster(c.ID); !ok {
		return alerting.ErrNotFound
	}
	t.clusters[c.ID] = c.Clone()
	return nil
}

func (t *tx) AppendAudit(_ context.Context, a *alerting.AuditEntry) error {
	cp := *a
	t.audit = append(t.audit, &cp)
	return nil
}
