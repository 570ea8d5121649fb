package alerting

import (
	"context"
	"time"
)

// MaintenanceSource reads externally managed maintenance windows.
type MaintenanceSource interface {
	// MaintenanceWindows returns the tenant's windows that cover at.
	MaintenanceWindows(ctx context.Context, tenantID string, at time.Time) ([]MaintenanceWindow, error)
}

// Covers reports whether the window is in effect at t. Start is inclusive, End exclusive.
func (w *MaintenanceWindow) Covers(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Suppresses reports whether the window drops an alert of the given client and type at t.
// A window without a client applies to every client of the tenant.
func (w *MaintenanceWindow) Suppresses(clientID string, alertType AlertType, t time.Time) bool {
	if w.ClientID != "" && w.ClientID != clientID {
		return false
	}
	if !w.Covers(t) {
		return false
	}
	return w.SuppressAll || w.SuppressedTypes.Has(string(alertType))
}

// matchMaintenance returns the first window that suppresses the alert, if any.
func matchMaintenance(windows []MaintenanceWindow, clientID string, alertType AlertType, t time.Time) (*MaintenanceWindow, bool) {
	for i := range windows {
		if windows[i].Suppresses(clientID, alertType, t) {
			return &windows[i], true
		}
	}
	return nil, false
}
