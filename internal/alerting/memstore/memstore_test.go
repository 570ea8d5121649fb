package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/alerting"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newEvent(id, dedupKey string, status alerting.Status) *alerting.Event {
	return &alerting.Event{
		ID:            id,
		TenantID:      "tenant-1",
		ClientID:      "client-1",
		Type:          alerting.TypeDeviceOffline,
		Severity:      alerting.SeverityHigh,
		Status:        status,
		DedupKey:      dedupKey,
		CorrelationID: "corr-" + id,
		FirstSeen:     t0,
		LastSeen:      t0,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func insert(t *testing.T, s *Store, events ...*alerting.Event) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		for _, e := range events {
			if err := tx.InsertEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx insert: %v", err)
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	insert(t, s, newEvent("a-1", "k-1", alerting.StatusNew))

	got, ok, err := s.GetEvent(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !ok {
		t.Fatal("expected alert to be found")
	}
	if got.DedupKey != "k-1" {
		t.Errorf("DedupKey = %q, want %q", got.DedupKey, "k-1")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.GetEvent(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	e := newEvent("a-1", "k-1", alerting.StatusNew)
	e.Metadata = map[string]string{"site_id": "s-1"}
	insert(t, s, e)

	// mutating the caller's value after insert must not leak into the store
	e.Metadata["site_id"] = "changed"

	got, _, _ := s.GetEvent(context.Background(), "a-1")
	got.Status = alerting.StatusResolved
	got.Metadata["site_id"] = "also-changed"

	again, _, _ := s.GetEvent(context.Background(), "a-1")
	if again.Status != alerting.StatusNew {
		t.Errorf("Status = %q, want NEW", again.Status)
	}
	if again.Metadata["site_id"] != "s-1" {
		t.Errorf("metadata site_id = %q, want s-1", again.Metadata["site_id"])
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	t.Parallel()

	s := New()
	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		if err := tx.InsertEvent(ctx, newEvent("a-1", "k-1", alerting.StatusNew)); err != nil {
			return err
		}
		if err := tx.InsertCluster(ctx, &alerting.Cluster{ID: "c-1", TenantID: "tenant-1", IsActive: true}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &alerting.AuditEntry{ID: "au-1", AlertID: "a-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	ctx := context.Background()
	if _, ok, _ := s.GetEvent(ctx, "a-1"); ok {
		t.Error("alert should not exist after rollback")
	}
	if _, ok, _ := s.GetCluster(ctx, "c-1"); ok {
		t.Error("cluster should not exist after rollback")
	}
	if entries, _ := s.ListAudit(ctx, "a-1"); len(entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(entries))
	}

	// the fingerprint must still be free
	insert(t, s, newEvent("a-2", "k-1", alerting.StatusNew))
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		if err := tx.InsertEvent(ctx, newEvent("a-1", "k-1", alerting.StatusNew)); err != nil {
			return err
		}
		got, ok, err := tx.LockActiveByDedupKey(ctx, "tenant-1", "k-1")
		if err != nil || !ok {
			return fmt.Errorf("LockActiveByDedupKey: ok=%v err=%v", ok, err)
		}
		if got.ID != "a-1" {
			return fmt.Errorf("ID = %q, want a-1", got.ID)
		}
		// not visible outside the unit until commit
		if _, ok, _ := s.GetEvent(ctx, "a-1"); ok {
			return errors.New("uncommitted alert visible to store reads")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTx_InsertActiveDuplicateConflicts(t *testing.T) {
	t.Parallel()

	s := New()
	insert(t, s, newEvent("a-1", "k-1", alerting.StatusNew))

	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		return tx.InsertEvent(ctx, newEvent("a-2", "k-1", alerting.StatusNew))
	})
	if !errors.Is(err, alerting.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestTx_InactiveStatusesDoNotConflict(t *testing.T) {
	t.Parallel()

	for _, status := range []alerting.Status{alerting.StatusEscalated, alerting.StatusResolved, alerting.StatusSuppressed} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			s := New()
			insert(t, s, newEvent("a-1", "k-1", status))
			insert(t, s, newEvent("a-2", "k-1", alerting.StatusNew))

			err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
				got, ok, err := tx.LockActiveByDedupKey(ctx, "tenant-1", "k-1")
				if err != nil || !ok {
					return fmt.Errorf("LockActiveByDedupKey: ok=%v err=%v", ok, err)
				}
				if got.ID != "a-2" {
					return fmt.Errorf("active ID = %q, want a-2", got.ID)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestTx_ResolvingFreesFingerprint(t *testing.T) {
	t.Parallel()

	s := New()
	insert(t, s, newEvent("a-1", "k-1", alerting.StatusNew))

	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		e, _, err := tx.LockEvent(ctx, "a-1")
		if err != nil {
			return err
		}
		e.Status = alerting.StatusResolved
		return tx.UpdateEvent(ctx, e)
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	err = s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		if _, ok, _ := tx.LockActiveByDedupKey(ctx, "tenant-1", "k-1"); ok {
			return errors.New("resolved alert still holds the fingerprint")
		}
		return tx.InsertEvent(ctx, newEvent("a-2", "k-1", alerting.StatusNew))
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTx_UpdateMissing(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
		return tx.UpdateEvent(ctx, newEvent("ghost", "k", alerting.StatusNew))
	})
	if !errors.Is(err, alerting.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTx_FindCorrelationID(t *testing.T) {
	t.Parallel()

	s := New()
	old := newEvent("a-1", "k-1", alerting.StatusNew)
	old.CreatedAt = t0.Add(-2 * time.Hour)
	recent := newEvent("a-2", "k-2", alerting.StatusNew)
	recent.CreatedAt = t0.Add(-10 * time.Minute)
	otherClient := newEvent("a-3", "k-3", alerting.StatusNew)
	otherClient.ClientID = "client-2"
	otherClient.CreatedAt = t0
	insert(t, s, old, recent, otherClient)

	tests := []struct {
		name     string
		clientID string
		typ      alerting.AlertType
		since    time.Time
		want     string
		wantOK   bool
	}{
		{"most recent in window", "client-1", alerting.TypeDeviceOffline, t0.Add(-time.Hour), "corr-a-2", true},
		{"wide window still picks most recent", "client-1", alerting.TypeDeviceOffline, t0.Add(-3 * time.Hour), "corr-a-2", true},
		{"other type", "client-1", alerting.TypeTourDelayed, t0.Add(-time.Hour), "", false},
		{"other client", "client-2", alerting.TypeDeviceOffline, t0.Add(-time.Hour), "corr-a-3", true},
		{"window excludes all", "client-1", alerting.TypeDeviceOffline, t0.Add(-time.Minute), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_ = s.InTx(context.Background(), func(ctx context.Context, tx alerting.Tx) error {
				got, ok, err := tx.FindCorrelationID(ctx, "tenant-1", tt.clientID, tt.typ, tt.since)
				if err != nil {
					t.Errorf("FindCorrelationID: %v", err)
				}
				if ok != tt.wantOK || got != tt.want {
					t.Errorf("FindCorrelationID = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
				}
				return nil
			})
		})
	}
}

func TestStore_ListEventsFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := New()
	a := newEvent("a-1", "k-1", alerting.StatusNew)
	a.Severity = alerting.SeverityLow
	a.LastSeen = t0
	b := newEvent("a-2", "k-2", alerting.StatusNew)
	b.Severity = alerting.SeverityCritical
	b.LastSeen = t0.Add(time.Minute)
	c := newEvent("a-3", "k-3", alerting.StatusResolved)
	c.LastSeen = t0.Add(2 * time.Minute)
	d := newEvent("a-4", "k-4", alerting.StatusNew)
	d.TenantID = "tenant-2"
	insert(t, s, a, b, c, d)

	got, err := s.ListEvents(context.Background(), alerting.EventFilter{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantOrder := []string{"a-3", "a-2", "a-1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("len = %d, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("got[%d] = %q, want %q", i, got[i].ID, id)
		}
	}

	got, _ = s.ListEvents(context.Background(), alerting.EventFilter{
		TenantID:    "tenant-1",
		Statuses:    []alerting.Status{alerting.StatusNew},
		MinSeverity: alerting.SeverityHigh,
	})
	if len(got) != 1 || got[0].ID != "a-2" {
		t.Errorf("filtered = %v, want [a-2]", ids(got))
	}

	got, _ = s.ListEvents(context.Background(), alerting.EventFilter{TenantID: "tenant-1", Limit: 1})
	if len(got) != 1 || got[0].ID != "a-3" {
		t.Errorf("limited = %v, want [a-3]", ids(got))
	}
}

func TestStore_ListStaleNew(t *testing.T) {
	t.Parallel()

	s := New()
	old := newEvent("a-1", "k-1", alerting.StatusNew)
	old.FirstSeen = t0.Add(-40 * time.Minute)
	older := newEvent("a-2", "k-2", alerting.StatusNew)
	older.FirstSeen = t0.Add(-50 * time.Minute)
	fresh := newEvent("a-3", "k-3", alerting.StatusNew)
	fresh.FirstSeen = t0.Add(-5 * time.Minute)
	acked := newEvent("a-4", "k-4", alerting.StatusAcknowledged)
	acked.FirstSeen = t0.Add(-time.Hour)
	low := newEvent("a-5", "k-5", alerting.StatusNew)
	low.Severity = alerting.SeverityLow
	low.FirstSeen = t0.Add(-time.Hour)
	insert(t, s, old, older, fresh, acked, low)

	got, err := s.ListStaleNew(context.Background(), alerting.SeverityHigh, t0.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleNew: %v", err)
	}
	if want := []string{"a-2", "a-1"}; fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("ListStaleNew = %v, want %v", ids(got), want)
	}
}

func TestTx_CandidateClusters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx alerting.Tx) error {
		for _, c := range []*alerting.Cluster{
			{ID: "c-1", TenantID: "tenant-1", IsActive: true, LastAlertAt: t0.Add(-10 * time.Minute)},
			{ID: "c-2", TenantID: "tenant-1", IsActive: true, LastAlertAt: t0.Add(-2 * time.Minute)},
			{ID: "c-3", TenantID: "tenant-1", IsActive: true, LastAlertAt: t0.Add(-2 * time.Hour)},
			{ID: "c-4", TenantID: "tenant-1", IsActive: false, LastAlertAt: t0},
			{ID: "c-5", TenantID: "tenant-2", IsActive: true, LastAlertAt: t0},
		} {
			if err := tx.InsertCluster(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed clusters: %v", err)
	}

	_ = s.InTx(ctx, func(ctx context.Context, tx alerting.Tx) error {
		got, err := tx.CandidateClusters(ctx, "tenant-1", t0.Add(-30*time.Minute), 10)
		if err != nil {
			t.Fatalf("CandidateClusters: %v", err)
		}
		if len(got) != 2 || got[0].ID != "c-2" || got[1].ID != "c-1" {
			t.Errorf("candidates = %v, want [c-2 c-1]", clusterIDs(got))
		}

		got, _ = tx.CandidateClusters(ctx, "tenant-1", t0.Add(-30*time.Minute), 1)
		if len(got) != 1 || got[0].ID != "c-2" {
			t.Errorf("limited candidates = %v, want [c-2]", clusterIDs(got))
		}
		return nil
	})
}

func TestStore_DeactivateClusters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.InTx(ctx, func(ctx context.Context, tx alerting.Tx) error {
		_ = tx.InsertCluster(ctx, &alerting.Cluster{ID: "c-old", TenantID: "tenant-1", IsActive: true, LastAlertAt: t0.Add(-5 * time.Hour)})
		_ = tx.InsertCluster(ctx, &alerting.Cluster{ID: "c-new", TenantID: "tenant-1", IsActive: true, LastAlertAt: t0.Add(-time.Hour)})
		return nil
	})

	n, err := s.DeactivateClusters(ctx, t0.Add(-4*time.Hour))
	if err != nil {
		t.Fatalf("DeactivateClusters: %v", err)
	}
	if n != 1 {
		t.Errorf("deactivated = %d, want 1", n)
	}

	old, _, _ := s.GetCluster(ctx, "c-old")
	if old.IsActive {
		t.Error("c-old should be inactive")
	}
	active, _ := s.ListClusters(ctx, alerting.ClusterFilter{TenantID: "tenant-1", ActiveOnly: true})
	if len(active) != 1 || active[0].ID != "c-new" {
		t.Errorf("active clusters = %v, want [c-new]", clusterIDs(active))
	}

	// idempotent
	if n, _ := s.DeactivateClusters(ctx, t0.Add(-4*time.Hour)); n != 0 {
		t.Errorf("second sweep deactivated = %d, want 0", n)
	}
}

func TestStore_AuditAppendOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 3 {
		_ = s.InTx(ctx, func(ctx context.Context, tx alerting.Tx) error {
			return tx.AppendAudit(ctx, &alerting.AuditEntry{ID: fmt.Sprintf("au-%d", i), AlertID: "a-1"})
		})
	}

	got, err := s.ListAudit(ctx, "a-1")
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, a := range got {
		if want := fmt.Sprintf("au-%d", i); a.ID != want {
			t.Errorf("entry %d = %q, want %q", i, a.ID, want)
		}
	}
}

func TestStore_ConcurrentInTx(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 50

	// every worker tries to claim the same fingerprint; exactly one wins the insert
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.InTx(ctx, func(ctx context.Context, tx alerting.Tx) error {
				if _, ok, _ := tx.LockActiveByDedupKey(ctx, "tenant-1", "k-shared"); ok {
					return nil
				}
				if err := tx.InsertEvent(ctx, newEvent(fmt.Sprintf("a-%d", i), "k-shared", alerting.StatusNew)); err != nil {
					return err
				}
				mu.Lock()
				inserted++
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	all, _ := s.ListEvents(ctx, alerting.EventFilter{})
	if len(all) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(all))
	}
}

func ids(events []*alerting.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func clusterIDs(cs []*alerting.Cluster) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
