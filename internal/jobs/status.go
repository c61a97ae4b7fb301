package jobs

import (
	"fmt"

	"printkiosk/internal/services"
)

// ErrInvalidTransition is returned when an update would move a job backwards
// or out of a terminal status.
var ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", services.ErrConflict)

var statusOrder = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusPrinting:   2,
	StatusCompleted:  3,
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusPrinting, StatusCompleted, StatusError}

// ActiveStatuses lists statuses that count toward the one-active-job rule.
var ActiveStatuses = []Status{StatusPending, StatusProcessing, StatusPrinting}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// Active reports whether s is non-terminal.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusPrinting
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a job may move from one status to another.
// Staying put is always allowed; forward moves may skip stages.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	return statusOrder[to] > statusOrder[from]
}

// ParseStatus validates a user supplied status string.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", services.Wrap(services.ErrValidation, "jobs", "parse", fmt.Sprintf("unknown status %q", value), nil)
	}
	return status, nil
}
