package alerting

import (
	"context"
	"sort"
	"sync"
	"time"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// mockStore implements Store and Tx for testing. InTx passes the store
// itself as the Tx and does not roll back.
type mockStore struct {
	mu       sync.Mutex
	events   map[string]*Event
	clusters map[string]*Cluster
	audit    []*AuditEntry

	// conflicts makes the next n InsertEvent calls lose a fingerprint race:
	// a competing row with the same key is stored and ErrConflict returned.
	// With hiddenWinner the competing row is not stored.
	conflicts    int
	hiddenWinner bool
	listErr      error
	txCalls      int
}

func newMockStore() *mockStore {
	return &mockStore{
		events:   make(map[string]*Event),
		clusters: make(map[string]*Cluster),
	}
}

func (m *mockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(ctx, m)
}

func (m *mockStore) LockActiveByDedupKey(_ context.Context, tenantID, dedupKey string) (*Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.TenantID == tenantID && e.DedupKey == dedupKey && e.Status.IsActive() {
			return e.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (m *mockStore) FindCorrelationID(_ context.Context, tenantID, clientID string, alertType AlertType, since time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Event
	for _, e := range m.events {
		if e.TenantID != tenantID || e.ClientID != clientID || e.Type != alertType || e.CorrelationID == "" {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.CorrelationID, true, nil
}

func (m *mockStore) InsertEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		if !m.hiddenWinner {
			winner := e.Clone()
			winner.ID = e.ID + "-winner"
			m.events[winner.ID] = winner
		}
		return ErrConflict
	}
	m.events[e.ID] = e.Clone()
	return nil
}

func (m *mockStore) UpdateEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return ErrNotFound
	}
	m.events[e.ID] = e.Clone()
	return nil
}

func (m *mockStore) LockEvent(ctx context.Context, id string) (*Event, bool, error) {
	return m.GetEvent(ctx, id)
}

func (m *mockStore) CandidateClusters(_ context.Context, tenantID string, since time.Time, limit int) ([]*Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Cluster
	for _, c := range m.clusters {
		if c.TenantID == tenantID && c.IsActive && !c.LastAlertAt.Before(since) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAlertAt.After(out[j].LastAlertAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) LockCluster(ctx context.Context, id string) (*Cluster, bool, error) {
	return m.GetCluster(ctx, id)
}

func (m *mockStore) InsertCluster(_ context.Context, c *Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[c.ID] = c.Clone()
	return nil
}

func (m *mockStore) UpdateCluster(_ context.Context, c *Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[c.ID]; !ok {
		return ErrNotFound
	}
	m.clusters[c.ID] = c.Clone()
	return nil
}

func (m *mockStore) AppendAudit(_ context.Context, a *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *mockStore) GetEvent(_ context.Context, id string) (*Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

func (m *mockStore) ListEvents(_ context.Context, f EventFilter) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) ListStaleNew(_ context.Context, sev Severity, before time.Time, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Event
	for _, e := range m.events {
		if e.Status == StatusNew && e.Severity == sev && e.FirstSeen.Before(before) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) GetCluster(_ context.Context, id string) (*Cluster, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockStore) ListClusters(_ context.Context, f ClusterFilter) ([]*Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Cluster
	for _, c := range m.clusters {
		if (f.TenantID == "" || c.TenantID == f.TenantID) && (!f.ActiveOnly || c.IsActive) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) DeactivateClusters(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.clusters {
		if c.IsActive && c.LastAlertAt.Before(before) {
			c.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockStore) ListAudit(_ context.Context, alertID string) ([]*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AuditEntry
	for _, a := range m.audit {
		if a.AlertID == alertID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// eventCount returns the number of stored alerts.
func (m *mockStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// put stores e directly, bypassing the pipeline.
func (m *mockStore) put(e *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e.Clone()
}

// mockMaintenance returns fixed windows.
type mockMaintenance struct {
	windows []MaintenanceWindow
	err     error
}

func (m *mockMaintenance) MaintenanceWindows(_ context.Context, _ string, _ time.Time) ([]MaintenanceWindow, error) {
	return m.windows, m.err
}

// mockNotifier records escalation notifications.
type mockNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *mockNotifier) NotifyEscalation(_ context.Context, e *Event, _ *AuditEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, e.ID)
	return n.err
}

// staticResolver returns a fixed target.
type staticResolver struct {
	name   string
	target string
	err    error
	calls  int
}

func (r *staticResolver) Name() string { return r.name }

func (r *staticResolver) ResolveOnCall(context.Context, string, string, time.Time) (string, error) {
	r.calls++
	return r.target, r.err
}

func testRaw() *RawAlert {
	return &RawAlert{
		TenantID:       "tenant-1",
		ClientID:       "client-1",
		BusinessUnitID: "bu-1",
		Type:           TypeDeviceOffline,
		Severity:       "HIGH",
		Message:        "device offline",
		EntityType:     "device",
		EntityID:       "device-1",
	}
}
