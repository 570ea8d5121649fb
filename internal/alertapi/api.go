// Package alertapi exposes the alert pipeline over HTTP: producer ingestion,
// dashboard reads and interactive lifecycle transitions.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// AlertService defines the ingestion and read operations alertapi needs.
type AlertService interface {
	ProcessAlert(ctx context.Context, raw *alerting.RawAlert) (*alerting.ProcessResult, error)
	GetAlert(ctx context.Context, id string) (*alerting.Event, bool, error)
	ListAlerts(ctx context.Context, f alerting.EventFilter) ([]*alerting.Event, error)
	GetCluster(ctx context.Context, id string) (*alerting.Cluster, bool, error)
	ListClusters(ctx context.Context, f alerting.ClusterFilter) ([]*alerting.Cluster, error)
	ListAudit(ctx context.Context, alertID string) ([]*alerting.AuditEntry, error)
}

// Transitioner defines the interactive lifecycle operations.
type Transitioner interface {
	Acknowledge(ctx context.Context, id, actor string) (*alerting.Event, error)
	Assign(ctx context.Context, id, actor, assignee string) (*alerting.Event, error)
	Escalate(ctx context.Context, id, actor, reason string) (*alerting.Event, error)
	Resolve(ctx context.Context, id, actor string) (*alerting.Event, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
	esc    Transitioner
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertService, esc Transitioner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	if esc == nil {
		panic(xerrors.New("escalator is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		esc:    esc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Any middleware
// (authentication) is applied to the /api/v1 group only.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/alerts", a.handleListAlerts)
		r.Route("/alerts/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetAlert)
			r.Get("/audit", a.handleListAudit)
			r.Post("/acknowledge", a.handleAcknowledge)
			r.Post("/assign", a.handleAssign)
			r.Post("/escalate", a.handleEscalate)
			r.Post("/resolve", a.handleResolve)
		})

		r.Get("/clusters", a.handleListClusters)
		r.Get("/clusters/{id}", a.handleGetCluster)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps pipeline errors onto HTTP statuses. Only
// unexpected failures are logged; their detail stays out of the response.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case alerting.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alerting.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case alerting.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
