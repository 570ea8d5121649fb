package alerting

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"CRITICAL", SeverityCritical, false},
		{"high", SeverityHigh, false},
		{" Medium ", SeverityMedium, false},
		{"LOW", SeverityLow, false},
		{"info", SeverityInfo, false},
		{"urgent", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				if !IsValidation(err) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSeverity: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSeverity_OrderingAndScore(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(Severities); i++ {
		if Severities[i] <= Severities[i-1] {
			t.Fatalf("severities not ascending at %d", i)
		}
	}
	if SeverityInfo.Score() != 1 || SeverityCritical.Score() != 5 {
		t.Errorf("scores = %d..%d, want 1..5", SeverityInfo.Score(), SeverityCritical.Score())
	}
	if MaxSeverity(SeverityLow, SeverityHigh) != SeverityHigh {
		t.Error("MaxSeverity(LOW, HIGH) should be HIGH")
	}
	if Severity(0).Valid() || Severity(9).Valid() {
		t.Error("out of range severities should be invalid")
	}
}

func TestSeverity_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityHigh})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"s":"HIGH"}` {
		t.Errorf("got %s", b)
	}

	var v struct {
		S Severity `json:"s"`
	}
	if err := json.Unmarshal([]byte(`{"s":"critical"}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.S != SeverityCritical {
		t.Errorf("got %s, want CRITICAL", v.S)
	}
}

func TestStatus_Classes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s        Status
		active   bool
		terminal bool
	}{
		{StatusNew, true, false},
		{StatusAcknowledged, true, false},
		{StatusAssigned, true, false},
		{StatusEscalated, false, false},
		{StatusResolved, false, true},
		{StatusSuppressed, false, true},
	}
	for _, tt := range tests {
		if got := tt.s.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.s, got, tt.active)
		}
		if got := tt.s.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.s, got, tt.terminal)
		}
	}
}

func TestStringSet(t *testing.T) {
	t.Parallel()

	s := NewStringSet("b", "", "a", "b")
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (empty and duplicate dropped)", s.Len())
	}
	u := s.Union(NewStringSet("c"))
	if got := strings.Join(u.Sorted(), ","); got != "a,b,c" {
		t.Errorf("union = %s, want a,b,c", got)
	}
	if s.Has("c") {
		t.Error("Union must not modify the receiver")
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `["a","b","c"]` {
		t.Errorf("json = %s", b)
	}

	var nilSet StringSet
	if nilSet.Clone() == nil {
		t.Error("Clone of nil set should be non-nil")
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	t.Parallel()

	at := t0
	e := &Event{ID: "a", Metadata: map[string]string{"k": "v"}, AcknowledgedAt: &at}
	cp := e.Clone()
	cp.Metadata["k"] = "changed"
	*cp.AcknowledgedAt = at.Add(time.Hour)

	if e.Metadata["k"] != "v" {
		t.Error("clone shares metadata map")
	}
	if !e.AcknowledgedAt.Equal(t0) {
		t.Error("clone shares timestamp pointer")
	}
}

func TestEvent_MergeMetadata(t *testing.T) {
	t.Parallel()

	e := &Event{}
	e.MergeMetadata(nil)
	if e.Metadata != nil {
		t.Error("merging nothing should not allocate")
	}
	e.MergeMetadata(map[string]string{"a": "1", "b": "1"})
	e.MergeMetadata(map[string]string{"b": "2"})
	if e.Metadata["a"] != "1" || e.Metadata["b"] != "2" {
		t.Errorf("metadata = %v, want a=1 b=2", e.Metadata)
	}
}

func TestMaintenanceWindow_Suppresses(t *testing.T) {
	t.Parallel()

	w := MaintenanceWindow{
		ID:              "mw-1",
		ClientID:        "client-1",
		Start:           t0,
		End:             t0.Add(time.Hour),
		SuppressedTypes: NewStringSet(string(TypeDeviceOffline)),
	}
	tests := []struct {
		name   string
		client string
		typ    AlertType
		at     time.Time
		want   bool
	}{
		{"listed type inside", "client-1", TypeDeviceOffline, t0.Add(time.Minute), true},
		{"start inclusive", "client-1", TypeDeviceOffline, t0, true},
		{"end exclusive", "client-1", TypeDeviceOffline, t0.Add(time.Hour), false},
		{"other type", "client-1", TypeDeviceTamper, t0.Add(time.Minute), false},
		{"other client", "client-2", TypeDeviceOffline, t0.Add(time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := w.Suppresses(tt.client, tt.typ, tt.at); got != tt.want {
				t.Errorf("Suppresses = %v, want %v", got, tt.want)
			}
		})
	}

	all := MaintenanceWindow{Start: t0, End: t0.Add(time.Hour), SuppressAll: true}
	if !all.Suppresses("any-client", TypeSecurityIncident, t0) {
		t.Error("tenant-wide suppress-all window should drop every alert")
	}
}

func TestPriorityFeatures_Score(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    PriorityFeatures
		want float64
	}{
		{"fresh low", PriorityFeatures{SeverityScore: 2, ClusterSize: 1}, 32},
		{"repeats", PriorityFeatures{SeverityScore: 4, SuppressedCount: 3, ClusterSize: 1}, 67},
		{"caps", PriorityFeatures{SeverityScore: 5, SuppressedCount: 50, ClusterSize: 40}, 100},
		{"spread", PriorityFeatures{SeverityScore: 3, ClusterSize: 4}, 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.f.Score(); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero window", func(c *Config) { c.ClusteringWindow = 0 }, "clustering window"},
		{"join above one", func(c *Config) { c.JoinThreshold = 1.5 }, "join threshold"},
		{"suppress below join", func(c *Config) { c.AutoSuppressThreshold = 0.5 }, "must not be below join"},
		{"no candidates", func(c *Config) { c.MaxCandidateClusters = 0 }, "max candidate clusters"},
		{"negative delay", func(c *Config) { c.EscalationDelays[SeverityLow] = -time.Minute }, "escalation delay"},
		{"zero batch", func(c *Config) { c.EscalationBatchSize = 0 }, "batch size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
