package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/alerting")

// Outcome describes what ProcessAlert did with a submission.
type Outcome string

const (
	// OutcomeCreated means a new alert was stored and clustered.
	OutcomeCreated Outcome = "created"

	// OutcomeDeduplicated means an active alert with the same fingerprint absorbed the submission.
	OutcomeDeduplicated Outcome = "deduplicated"

	// OutcomeMaintenance means a maintenance window dropped the submission.
	OutcomeMaintenance Outcome = "maintenance"

	outcomeInvalid Outcome = "invalid"
	outcomeError   Outcome = "error"
)

// ProcessResult is the outcome of submitting one raw alert.
type ProcessResult struct {
	// Event is nil when a maintenance window dropped the alert.
	Event          *Event
	Cluster        *Cluster
	ClusterCreated bool
	Outcome        Outcome

	// MaintenanceWindowID names the window that dropped the alert.
	MaintenanceWindowID string
}

// Service is the business boundary for alert ingestion and dashboard reads.
type Service struct {
	store       Store
	maintenance MaintenanceSource
	clusterer   *Clusterer
	cfg         Config
	logger      log.Logger
	metrics     *Metrics
	now         func() time.Time
}

// NewService creates the ingestion service. maintenance may be nil, in which case nothing is filtered.
func NewService(store Store, maintenance MaintenanceSource, clusterer *Clusterer, cfg Config, logger log.Logger, metrics *Metrics) *Service {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if clusterer == nil {
		clusterer = NewClusterer(cfg, logger, metrics)
	}
	return &Service{
		store:       store,
		maintenance: maintenance,
		clusterer:   clusterer,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// ProcessAlert runs one raw alert through the maintenance filter, dedup,
// correlation and clustering. All store mutation for the alert happens in a
// single atomic unit. A lost race on the fingerprint constraint is retried
// once, where it resolves as a dedup hit.
func (s *Service) ProcessAlert(ctx context.Context, raw *RawAlert) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "alerting.ProcessAlert")
	defer span.End()

	start := time.Now()
	now := s.now().UTC()

	sev, err := validateRaw(raw)
	if err != nil {
		s.metrics.processed(outcomeInvalid, 0)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key := DedupKey(raw.Type, raw.BusinessUnitID, raw.EntityType, raw.EntityID)
	span.SetAttributes(
		attribute.String("warden.tenant_id", raw.TenantID),
		attribute.String("warden.alert_type", string(raw.Type)),
		attribute.String("warden.dedup_key", key),
	)

	if s.maintenance != nil {
		windows, err := s.maintenance.MaintenanceWindows(ctx, raw.TenantID, now)
		if err != nil {
			s.metrics.processed(outcomeError, 0)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("load maintenance windows: %w", err)
		}
		if w, ok := matchMaintenance(windows, raw.ClientID, raw.Type, now); ok {
			s.logger.Info(ctx, "alert dropped by maintenance window",
				"tenant_id", raw.TenantID,
				"client_id", raw.ClientID,
				"alert_type", raw.Type,
				"window_id", w.ID,
			)
			s.metrics.processed(OutcomeMaintenance, time.Since(start).Seconds())
			span.SetAttributes(attribute.String("warden.outcome", string(OutcomeMaintenance)))
			return &ProcessResult{Outcome: OutcomeMaintenance, MaintenanceWindowID: w.ID}, nil
		}
	}

	res, err := s.process(ctx, raw, sev, key, now)
	if errors.Is(err, ErrConflict) {
		s.metrics.conflictRetry()
		s.logger.Info(ctx, "lost fingerprint race, retrying as dedup lookup",
			"tenant_id", raw.TenantID,
			"dedup_key", key,
		)
		res, err = s.process(ctx, raw, sev, key, now)
	}
	if err != nil {
		s.metrics.processed(outcomeError, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, err, "process alert failed",
			"tenant_id", raw.TenantID,
			"alert_type", raw.Type,
			"dedup_key", key,
		)
		return nil, fmt.Errorf("process alert: %w", err)
	}

	s.metrics.processed(res.Outcome, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("warden.outcome", string(res.Outcome)),
		attribute.String("warden.alert_id", res.Event.ID),
	)
	return res, nil
}

func (s *Service) process(ctx context.Context, raw *RawAlert, sev Severity, key string, now time.Time) (*ProcessResult, error) {
	var res *ProcessResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, ok, err := tx.LockActiveByDedupKey(ctx, raw.TenantID, key)
		if err != nil {
			return fmt.Errorf("lock active alert: %w", err)
		}
		if ok {
			existing.SuppressedCount++
			if now.After(existing.LastSeen) {
				existing.LastSeen = now
			}
			existing.MergeMetadata(raw.Metadata)
			existing.UpdatedAt = now
			reprioritize(existing, existing.PriorityFeatures.ClusterSize)
			if err := tx.UpdateEvent(ctx, existing); err != nil {
				return fmt.Errorf("update deduplicated alert %s: %w", existing.ID, err)
			}
			res = &ProcessResult{Event: existing, Outcome: OutcomeDeduplicated}
			return nil
		}

		corrID, found, err := tx.FindCorrelationID(ctx, raw.TenantID, raw.ClientID, raw.Type, now.Add(-s.cfg.CorrelationWindow))
		if err != nil {
			return fmt.Errorf("resolve correlation id: %w", err)
		}
		if !found {
			corrID = uuid.NewString()
		}

		e := newEvent(raw, sev, key, corrID, now)
		if err := tx.InsertEvent(ctx, e); err != nil {
			return err
		}

		cl, created, err := s.clusterer.ClusterAlert(ctx, tx, e)
		if err != nil {
			return err
		}
		res = &ProcessResult{Event: e, Cluster: cl, ClusterCreated: created, Outcome: OutcomeCreated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func validateRaw(raw *RawAlert) (Severity, error) {
	if raw == nil {
		return 0, &ValidationError{Field: "alert", Reason: "is required"}
	}
	if strings.TrimSpace(raw.TenantID) == "" {
		return 0, &ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	if strings.TrimSpace(raw.ClientID) == "" {
		return 0, &ValidationError{Field: "client_id", Reason: "is required"}
	}
	if strings.TrimSpace(string(raw.Type)) == "" {
		return 0, &ValidationError{Field: "alert_type", Reason: "is required"}
	}
	if raw.Severity == "" {
		return SeverityMedium, nil
	}
	return ParseSeverity(raw.Severity)
}

func newEvent(raw *RawAlert, sev Severity, key, corrID string, now time.Time) *Event {
	e := &Event{
		ID:             ulid.Make().String(),
		TenantID:       raw.TenantID,
		ClientID:       raw.ClientID,
		BusinessUnitID: raw.BusinessUnitID,
		Type:           raw.Type,
		Severity:       sev,
		Status:         StatusNew,
		DedupKey:       key,
		CorrelationID:  corrID,
		ParentAlertID:  raw.ParentAlertID,
		FirstSeen:      now,
		LastSeen:       now,
		Message:        raw.Message,
		EntityType:     raw.EntityType,
		EntityID:       raw.EntityID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.MergeMetadata(raw.Metadata)
	e.SiteID = e.Metadata["site_id"]
	e.PersonID = e.Metadata["person_id"]
	switch strings.ToLower(raw.EntityType) {
	case "site":
		if e.SiteID == "" {
			e.SiteID = raw.EntityID
		}
	case "person", "people", "worker":
		if e.PersonID == "" {
			e.PersonID = raw.EntityID
		}
	}
	reprioritize(e, 1)
	return e
}

// GetAlert retrieves an alert by ID.
func (s *Service) GetAlert(ctx context.Context, id string) (*Event, bool, error) {
	return s.store.GetEvent(ctx, id)
}

// ListAlerts returns alerts matching f, most recently seen first.
func (s *Service) ListAlerts(ctx context.Context, f EventFilter) ([]*Event, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	return s.store.ListEvents(ctx, f)
}

// GetCluster retrieves a cluster by ID.
func (s *Service) GetCluster(ctx context.Context, id string) (*Cluster, bool, error) {
	return s.store.GetCluster(ctx, id)
}

// ListClusters returns clusters matching f, most recent activity first.
func (s *Service) ListClusters(ctx context.Context, f ClusterFilter) ([]*Cluster, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	return s.store.ListClusters(ctx, f)
}

// ListAudit returns the audit trail of an alert, oldest first.
func (s *Service) ListAudit(ctx context.Context, alertID string) ([]*AuditEntry, error) {
	return s.store.ListAudit(ctx, alertID)
}
