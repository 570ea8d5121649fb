package alerting

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an alert or cluster does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by a Store when an insert loses the race on
	// the active (tenant, dedup_key) uniqueness constraint.
	ErrConflict = errors.New("active alert already exists for fingerprint")
)

// ValidationError reports malformed or missing input. Nothing is written
// to the store when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a state transition the current status does not allow.
type InvalidTransitionError struct {
	AlertID string
	Action  Action
	From    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s alert %s in status %s", e.Action, e.AlertID, e.From)
}

// IsInvalidTransition reports whether err is, or wraps, an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
