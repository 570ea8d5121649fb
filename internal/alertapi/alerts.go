package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// maxListLimit caps the limit query parameter on list endpoints.
const maxListLimit = 1000

type ingestResponse struct {
	Outcome             alerting.Outcome  `json:"outcome"`
	Alert               *alerting.Event   `json:"alert,omitempty"`
	Cluster             *alerting.Cluster `json:"cluster,omitempty"`
	ClusterCreated      bool              `json:"cluster_created"`
	MaintenanceWindowID string            `json:"maintenance_window_id,omitempty"`
}

var outcomeStatus = map[alerting.Outcome]int{
	alerting.OutcomeCreated:      http.StatusCreated,
	alerting.OutcomeDeduplicated: http.StatusOK,
	alerting.OutcomeMaintenance:  http.StatusAccepted,
}

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var raw alerting.RawAlert
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.tenant.id", raw.TenantID),
		attribute.String("warden.alert.type", string(raw.Type)),
	)

	res, err := a.svc.ProcessAlert(r.Context(), &raw)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to process alert", "tenant_id", raw.TenantID, "alert_type", raw.Type)
		return
	}

	span.SetAttributes(attribute.String("warden.alert.outcome", string(res.Outcome)))

	status, ok := outcomeStatus[res.Outcome]
	if !ok {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{
		Outcome:             res.Outcome,
		Alert:               res.Event,
		Cluster:             res.Cluster,
		ClusterCreated:      res.ClusterCreated,
		MaintenanceWindowID: res.MaintenanceWindowID,
	})
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	f, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := a.svc.ListAlerts(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list alerts", "tenant_id", f.TenantID)
		return
	}
	if events == nil {
		events = []*alerting.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": events})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.alert.id", id))

	e, ok, err := a.svc.GetAlert(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get alert", "id", id)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.alert.status", string(e.Status)))
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, ok, err := a.svc.GetAlert(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get alert", "id", id)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	entries, err := a.svc.ListAudit(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list audit", "id", id)
		return
	}
	if entries == nil {
		entries = []*alerting.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (a *API) handleListClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alerting.ClusterFilter{TenantID: q.Get("tenant_id")}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active: "+v)
			return
		}
		f.ActiveOnly = active
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit

	clusters, err := a.svc.ListClusters(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list clusters", "tenant_id", f.TenantID)
		return
	}
	if clusters == nil {
		clusters = []*alerting.Cluster{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (a *API) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.cluster.id", id))

	c, ok, err := a.svc.GetCluster(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get cluster", "id", id)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// parseEventFilter reads tenant_id, status (repeated or comma separated),
// min_severity, since (RFC 3339) and limit.
func parseEventFilter(r *http.Request) (alerting.EventFilter, error) {
	q := r.URL.Query()
	f := alerting.EventFilter{TenantID: q.Get("tenant_id")}

	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			st := alerting.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !validStatus(st) {
				return f, &alerting.ValidationError{Field: "status", Reason: "unknown status " + s}
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	if v := q.Get("min_severity"); v != "" {
		sev, err := alerting.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &alerting.ValidationError{Field: "since", Reason: "must be an RFC 3339 timestamp"}
		}
		f.Since = since.UTC()
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, &alerting.ValidationError{Field: "limit", Reason: "must be 1.." + strconv.Itoa(maxListLimit)}
	}
	return n, nil
}

func validStatus(s alerting.Status) bool {
	switch s {
	case alerting.StatusNew, alerting.StatusAcknowledged, alerting.StatusAssigned,
		alerting.StatusEscalated, alerting.StatusResolved, alerting.StatusSuppressed:
		return true
	}
	return false
}
