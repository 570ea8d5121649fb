package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/alerting"
)

type transitionRequest struct {
	Actor    string `json:"actor"`
	Assignee string `json:"assignee,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// transitionFunc performs one lifecycle action for the decoded request.
type transitionFunc func(r *http.Request, id string, req transitionRequest) (*alerting.Event, error)

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, alerting.ActionAcknowledge, func(r *http.Request, id string, req transitionRequest) (*alerting.Event, error) {
		return a.esc.Acknowledge(r.Context(), id, req.Actor)
	})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, alerting.ActionAssign, func(r *http.Request, id string, req transitionRequest) (*alerting.Event, error) {
		return a.esc.Assign(r.Context(), id, req.Actor, req.Assignee)
	})
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, alerting.ActionEscalate, func(r *http.Request, id string, req transitionRequest) (*alerting.Event, error) {
		return a.esc.Escalate(r.Context(), id, req.Actor, req.Reason)
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, alerting.ActionResolve, func(r *http.Request, id string, req transitionRequest) (*alerting.Event, error) {
		return a.esc.Resolve(r.Context(), id, req.Actor)
	})
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, action alerting.Action, fn transitionFunc) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.alert.id", id),
		attribute.String("warden.alert.action", string(action)),
	)

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	e, err := fn(r, id, req)
	if err != nil {
		a.writeServiceError(w, r, err, "alert transition failed", "id", id, "action", action)
		return
	}

	span.SetAttributes(attribute.String("warden.alert.status", string(e.Status)))
	writeJSON(w, http.StatusOK, e)
}
