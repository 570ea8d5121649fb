package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// SystemActor is the actor recorded for sweep-driven transitions.
const SystemActor = "system"

// allowedFrom lists, per action, the statuses it may start from.
var allowedFrom = map[Action][]Status{
	ActionAcknowledge: {StatusNew, StatusAssigned, StatusEscalated},
	ActionAssign:      {StatusNew, StatusAcknowledged, StatusEscalated},
	ActionEscalate:    {StatusNew, StatusAcknowledged, StatusAssigned, StatusEscalated},
	ActionResolve:     {StatusNew, StatusAcknowledged, StatusAssigned, StatusEscalated},
}

var actionTarget = map[Action]Status{
	ActionAcknowledge: StatusAcknowledged,
	ActionAssign:      StatusAssigned,
	ActionEscalate:    StatusEscalated,
	ActionResolve:     StatusResolved,
}

// CanTransition reports whether action is allowed from status.
func CanTransition(action Action, from Status) bool {
	for _, s := range allowedFrom[action] {
		if s == from {
			return true
		}
	}
	return false
}

// EscalationNotifier is told about every committed escalation. It is the
// hand-off point to paging; failures are logged and never undo the escalation.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, e *Event, entry *AuditEntry) error
}

// SweepSummary counts the per-alert results of one sweep run.
type SweepSummary struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Escalator is the only component that changes an alert's status after creation.
type Escalator struct {
	store    Store
	chain    OnCallChain
	notifier EscalationNotifier
	cfg      Config
	logger   log.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewEscalator creates the escalation engine. notifier may be nil.
func NewEscalator(store Store, chain OnCallChain, notifier EscalationNotifier, cfg Config, logger log.Logger, metrics *Metrics) *Escalator {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Escalator{
		store:    store,
		chain:    chain,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Acknowledge moves a NEW, ASSIGNED or ESCALATED alert to ACKNOWLEDGED.
func (x *Escalator) Acknowledge(ctx context.Context, id, actor string) (*Event, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	now := x.now().UTC()
	e, _, err := x.transition(ctx, id, ActionAcknowledge, actor, "", now, func(e *Event) (string, string) {
		e.AcknowledgedBy = actor
		e.AcknowledgedAt = &now
		e.TimeToAcknowledge = now.Sub(e.FirstSeen).Seconds()
		return "", ""
	})
	return e, err
}

// Assign hands an alert to assignee.
func (x *Escalator) Assign(ctx context.Context, id, actor, assignee string) (*Event, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assignee) == "" {
		return nil, &ValidationError{Field: "assignee", Reason: "is required"}
	}
	now := x.now().UTC()
	e, _, err := x.transition(ctx, id, ActionAssign, actor, "", now, func(e *Event) (string, string) {
		e.AssignedTo = assignee
		e.AssignedBy = actor
		e.AssignedAt = &now
		return assignee, ""
	})
	return e, err
}

// Resolve closes an alert.
func (x *Escalator) Resolve(ctx context.Context, id, actor string) (*Event, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	now := x.now().UTC()
	e, _, err := x.transition(ctx, id, ActionResolve, actor, "", now, func(e *Event) (string, string) {
		e.ResolvedBy = actor
		e.ResolvedAt = &now
		e.TimeToResolve = now.Sub(e.FirstSeen).Seconds()
		return "", ""
	})
	return e, err
}

// Escalate moves a non-terminal alert to ESCALATED and records the on-call
// target resolved through the chain.
func (x *Escalator) Escalate(ctx context.Context, id, actor, reason string) (*Event, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return x.escalate(ctx, id, actor, reason, "", x.now().UTC())
}

// escalate runs the escalation. A non-empty require limits it to alerts
// still in that status, checked again under the row lock.
func (x *Escalator) escalate(ctx context.Context, id, actor, reason string, require Status, now time.Time) (*Event, error) {
	current, ok, err := x.store.GetEvent(ctx, id)
	if err != nil {
		x.metrics.transition(ActionEscalate, "error")
		return nil, fmt.Errorf("load alert %s: %w", id, err)
	}
	if !ok {
		x.metrics.transition(ActionEscalate, "not_found")
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if !allowed(ActionEscalate, current.Status, require) {
		x.metrics.transition(ActionEscalate, "invalid")
		return nil, &InvalidTransitionError{AlertID: id, Action: ActionEscalate, From: current.Status}
	}

	target, via, err := x.chain.Resolve(ctx, current.TenantID, current.ClientID, now)
	if err != nil {
		x.metrics.transition(ActionEscalate, "error")
		return nil, fmt.Errorf("resolve on-call target for alert %s: %w", id, err)
	}
	if target == "" {
		x.logger.Warn(ctx, "no on-call target resolved, escalating without target",
			"alert_id", id,
			"tenant_id", current.TenantID,
			"client_id", current.ClientID,
		)
	}

	e, entry, err := x.transition(ctx, id, ActionEscalate, actor, require, now, func(e *Event) (string, string) {
		e.EscalatedTo = target
		e.EscalatedAt = &now
		e.EscalationReason = reason
		return target, reason
	})
	if err != nil {
		return nil, err
	}

	x.logger.Info(ctx, "alert escalated",
		"alert_id", e.ID,
		"severity", e.Severity,
		"target", target,
		"resolved_via", via,
		"actor", actor,
	)

	if x.notifier != nil {
		if err := x.notifier.NotifyEscalation(ctx, e, entry); err != nil {
			x.logger.Error(ctx, err, "escalation notification failed", "alert_id", e.ID, "target", target)
		}
	}
	return e, nil
}

// transition applies one guarded state change and its audit record in a
// single atomic unit. apply mutates the locked event and returns the audit target and reason.
// A non-empty require rejects alerts whose locked status differs from it.
func (x *Escalator) transition(ctx context.Context, id string, action Action, actor string, require Status, now time.Time, apply func(e *Event) (target, reason string)) (*Event, *AuditEntry, error) {
	var (
		out   *Event
		entry *AuditEntry
	)
	err := x.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		e, ok, err := tx.LockEvent(ctx, id)
		if err != nil {
			return fmt.Errorf("lock alert %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		from := e.Status
		if !allowed(action, from, require) {
			return &InvalidTransitionError{AlertID: id, Action: action, From: from}
		}

		target, reason := apply(e)
		e.Status = actionTarget[action]
		e.UpdatedAt = now
		if err := tx.UpdateEvent(ctx, e); err != nil {
			return fmt.Errorf("update alert %s: %w", id, err)
		}

		a := &AuditEntry{
			ID:         ulid.Make().String(),
			AlertID:    e.ID,
			TenantID:   e.TenantID,
			Action:     action,
			Actor:      actor,
			Target:     target,
			Reason:     reason,
			FromStatus: from,
			ToStatus:   e.Status,
			CreatedAt:  now,
		}
		if err := tx.AppendAudit(ctx, a); err != nil {
			return fmt.Errorf("append audit for alert %s: %w", id, err)
		}
		out, entry = e, a
		return nil
	})
	x.metrics.transition(action, transitionOutcome(err))
	if err != nil {
		return nil, nil, err
	}
	return out, entry, nil
}

func allowed(action Action, from, require Status) bool {
	if require != "" && from != require {
		return false
	}
	return CanTransition(action, from)
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInvalidTransition(err):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Reason: "is required"}
	}
	return nil
}

// AutoEscalate escalates every NEW alert that has waited longer than its
// severity's delay. An alert must still be NEW when its row is locked.
// One alert's failure never stops the sweep: invalid
// transitions (the alert moved on since it was listed) count as skipped,
// anything else as failed. The returned error is non-nil only when listing
// candidates failed for some severity; the summary is always valid.
func (x *Escalator) AutoEscalate(ctx context.Context, now time.Time) (SweepSummary, error) {
	start := time.Now()
	now = now.UTC()
	var (
		sum  SweepSummary
		errs []error
	)

	for i := len(Severities) - 1; i >= 0; i-- {
		sev := Severities[i]
		delay := x.cfg.EscalationDelays[sev]
		if delay <= 0 {
			continue
		}

		stale, err := x.store.ListStaleNew(ctx, sev, now.Add(-delay), x.cfg.EscalationBatchSize)
		if err != nil {
			x.logger.Error(ctx, err, "list stale alerts failed", "severity", sev)
			errs = append(errs, fmt.Errorf("list stale %s alerts: %w", sev, err))
			continue
		}

		reason := fmt.Sprintf("auto-escalated: %s alert unacknowledged for more than %s", sev, delay)
		for _, e := range stale {
			_, err := x.escalate(ctx, e.ID, SystemActor, reason, StatusNew, now)
			switch {
			case err == nil:
				sum.Succeeded++
			case IsInvalidTransition(err), errors.Is(err, ErrNotFound):
				sum.Skipped++
				x.logger.Warn(ctx, "auto-escalation skipped", "alert_id", e.ID, "error", err.Error())
			default:
				sum.Failed++
				x.logger.Error(ctx, err, "auto-escalation failed", "alert_id", e.ID)
			}
		}
	}

	x.metrics.sweep("auto_escalation", sum, time.Since(start).Seconds())
	x.logger.Info(ctx, "auto-escalation sweep complete",
		"succeeded", sum.Succeeded,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum, errors.Join(errs...)
}
