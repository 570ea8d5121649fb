package alerting

import (
	"strings"
	"time"
)

// Severity is an ordered alert severity. The zero value is invalid.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists all valid severities in ascending order.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Score returns the 1..5 severity score used by feature extraction.
func (s Severity) Score() int { return int(s) }

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool { return s >= SeverityInfo && s <= SeverityCritical }

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for s, sn := range severityNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, &ValidationError{Field: "severity", Reason: "unknown severity " + name}
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	StatusNew          Status = "NEW"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusAssigned     Status = "ASSIGNED"
	StatusEscalated    Status = "ESCALATED"
	StatusResolved     Status = "RESOLVED"
	StatusSuppressed   Status = "SUPPRESSED"
)

// ActiveStatuses are the statuses covered by the dedup uniqueness constraint.
var ActiveStatuses = []Status{StatusNew, StatusAcknowledged, StatusAssigned}

// IsActive reports whether the status participates in deduplication.
func (s Status) IsActive() bool {
	return s == StatusNew || s == StatusAcknowledged || s == StatusAssigned
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusSuppressed
}

// AlertType names the kind of operational anomaly.
type AlertType string

const (
	TypeDeviceOffline          AlertType = "DEVICE_OFFLINE"
	TypeDeviceLowBattery       AlertType = "DEVICE_LOW_BATTERY"
	TypeDeviceTamper           AlertType = "DEVICE_TAMPER"
	TypeDeviceFailurePredicted AlertType = "DEVICE_FAILURE_PREDICTED"
	TypeTicketSLABreach        AlertType = "TICKET_SLA_BREACH"
	TypeTicketSLAAtRisk        AlertType = "TICKET_SLA_AT_RISK"
	TypeTicketReopened         AlertType = "TICKET_REOPENED"
	TypeAttendanceAnomaly      AlertType = "ATTENDANCE_ANOMALY"
	TypeAttendanceMissed       AlertType = "ATTENDANCE_MISSED_CHECKIN"
	TypeStaffingGapPredicted   AlertType = "STAFFING_GAP_PREDICTED"
	TypeTourMissedCheckpoint   AlertType = "TOUR_MISSED_CHECKPOINT"
	TypeTourDelayed            AlertType = "TOUR_DELAYED"
	TypeTourRouteDeviation     AlertType = "TOUR_ROUTE_DEVIATION"
	TypeGeofenceBreach         AlertType = "GEOFENCE_BREACH"
	TypeSecurityIncident       AlertType = "SECURITY_INCIDENT"
)

// AlertTypes is the stable vocabulary. Append only; the position of each
// entry is part of the stored cluster feature vectors.
var AlertTypes = []AlertType{
	TypeDeviceOffline,
	TypeDeviceLowBattery,
	TypeDeviceTamper,
	TypeDeviceFailurePredicted,
	TypeTicketSLABreach,
	TypeTicketSLAAtRisk,
	TypeTicketReopened,
	TypeAttendanceAnomaly,
	TypeAttendanceMissed,
	TypeStaffingGapPredicted,
	TypeTourMissedCheckpoint,
	TypeTourDelayed,
	TypeTourRouteDeviation,
	TypeGeofenceBreach,
	TypeSecurityIncident,
}

// RawAlert is the producer-facing submission.
type RawAlert struct {
	TenantID       string            `json:"tenant_id"`
	ClientID       string            `json:"client_id"`
	BusinessUnitID string            `json:"business_unit_id,omitempty"`
	Type           AlertType         `json:"alert_type"`
	Severity       string            `json:"severity"`
	Message        string            `json:"message"`
	EntityType     string            `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	ParentAlertID  string            `json:"parent_alert_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Event is the canonical stored alert.
type Event struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ClientID       string    `json:"client_id"`
	BusinessUnitID string    `json:"business_unit_id,omitempty"`
	Type           AlertType `json:"alert_type"`
	Severity       Severity  `json:"severity"`
	Status         Status    `json:"status"`

	DedupKey        string `json:"dedup_key"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	ParentAlertID   string `json:"parent_alert_id,omitempty"`
	ClusterID       string `json:"cluster_id,omitempty"`
	SuppressedCount int    `json:"suppressed_count"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Message    string            `json:"message"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	SiteID     string            `json:"site_id,omitempty"`
	PersonID   string            `json:"person_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	AcknowledgedBy   string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	AssignedTo       string     `json:"assigned_to,omitempty"`
	AssignedBy       string     `json:"assigned_by,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	EscalatedTo      string     `json:"escalated_to,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`

	TimeToAcknowledge float64 `json:"time_to_acknowledge_seconds,omitempty"`
	TimeToResolve     float64 `json:"time_to_resolve_seconds,omitempty"`

	PriorityScore    float64          `json:"priority_score"`
	PriorityFeatures PriorityFeatures `json:"priority_features"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	cp.AssignedAt = cloneTime(e.AssignedAt)
	cp.EscalatedAt = cloneTime(e.EscalatedAt)
	cp.ResolvedAt = cloneTime(e.ResolvedAt)
	return &cp
}

// MergeMetadata applies md over the event metadata, last write wins.
func (e *Event) MergeMetadata(md map[string]string) {
	if len(md) == 0 {
		return
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, len(md))
	}
	for k, v := range md {
		e.Metadata[k] = v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ClusterMethodCosine tags clusters built by feature-vector cosine similarity.
const ClusterMethodCosine = "cosine_v1"

// Cluster is a similarity-scored grouping of alerts.
type Cluster struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	Signature            string    `json:"signature"`
	PrimaryAlertID       string    `json:"primary_alert_id"`
	RelatedAlertIDs      StringSet `json:"related_alert_ids"`
	Confidence           float64   `json:"cluster_confidence"`
	Method               string    `json:"clustering_method"`
	FeatureVector        []float64 `json:"feature_vector"`
	CombinedSeverity     Severity  `json:"combined_severity"`
	AffectedSites        StringSet `json:"affected_sites"`
	AffectedPeople       StringSet `json:"affected_people"`
	AlertTypes           StringSet `json:"alert_types"`
	FirstAlertAt         time.Time `json:"first_alert_at"`
	LastAlertAt          time.Time `json:"last_alert_at"`
	AlertCount           int       `json:"alert_count"`
	IsActive             bool      `json:"is_active"`
	SuppressedAlertCount int       `json:"suppressed_alert_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Clone returns a deep copy of c.
func (c *Cluster) Clone() *Cluster {
	cp := *c
	cp.RelatedAlertIDs = c.RelatedAlertIDs.Clone()
	cp.AffectedSites = c.AffectedSites.Clone()
	cp.AffectedPeople = c.AffectedPeople.Clone()
	cp.AlertTypes = c.AlertTypes.Clone()
	if c.FeatureVector != nil {
		cp.FeatureVector = append([]float64(nil), c.FeatureVector...)
	}
	return &cp
}

// MaintenanceWindow is an externally managed suppression period.
type MaintenanceWindow struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ClientID        string    `json:"client_id,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	SuppressAll     bool      `json:"suppress_all"`
	SuppressedTypes StringSet `json:"suppressed_types,omitempty"`
}

// Action names an audited transition.
type Action string

const (
	ActionAcknowledge Action = "ACKNOWLEDGE"
	ActionAssign      Action = "ASSIGN"
	ActionEscalate    Action = "ESCALATE"
	ActionResolve     Action = "RESOLVE"
)

// AuditEntry is one append-only record of a state transition.
type AuditEntry struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alert_id"`
	TenantID   string    `json:"tenant_id"`
	Action     Action    `json:"action"`
	Actor      string    `json:"actor"`
	Target     string    `json:"target,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	CreatedAt  time.Time `json:"created_at"`
}
