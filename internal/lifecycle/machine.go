// Package lifecycle holds the pure task state machine: the legal-transition
// table, guard predicates, and the lazy schedule-triggered advance. It has no
// I/O; services apply its decisions under a per-task row lock.
package lifecycle

import (
	"errors"
	"time"

	"github.com/kerjalink/backend/internal/models"
)

// ErrInvalidTransition is returned when a requested status change is not in
// the legal-transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions maps a status to the statuses it may move to. Reporting to
// disputed is handled separately (CanReport) since it cuts across nearly
// every state.
var transitions = map[string][]string{
	models.TaskStatusDraft:           {models.TaskStatusOpen, models.TaskStatusPending, models.TaskStatusCancelled},
	models.TaskStatusOpen:            {models.TaskStatusPending, models.TaskStatusAccepted, models.TaskStatusCancelled},
	models.TaskStatusPending:         {models.TaskStatusOpen, models.TaskStatusAccepted, models.TaskStatusActive, models.TaskStatusCompletedWorker, models.TaskStatusCompleted, models.TaskStatusCancelled},
	models.TaskStatusAccepted:        {models.TaskStatusActive, models.TaskStatusCompletedWorker, models.TaskStatusCompleted},
	models.TaskStatusActive:          {models.TaskStatusCompletedWorker, models.TaskStatusCompleted},
	models.TaskStatusCompletedWorker: {models.TaskStatusCompletedWorker, models.TaskStatusCompleted},
	models.TaskStatusCompleted:       {},
	models.TaskStatusRejected:        {},
	models.TaskStatusCancelled:       {},
	models.TaskStatusDisputed:        {},
}

// ValidStatus reports whether s is a member of the status enumeration.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether the poster may still cancel. Cancellation is
// only permitted before work is in progress.
func CanCancel(status string) bool {
	switch status {
	case models.TaskStatusDraft, models.TaskStatusOpen, models.TaskStatusPending:
		return true
	}
	return false
}

// CanReport reports whether a dispute may be opened from the given status.
// Cancelled is terminal; a task already disputed stays disputed.
func CanReport(status string) bool {
	return ValidStatus(status) &&
		status != models.TaskStatusCancelled &&
		status != models.TaskStatusDisputed
}

// workerCompletable lists the statuses from which the assigned worker may
// mark their side done. completed_worker is included so the call is
// idempotent.
func CanCompleteWorker(status string) bool {
	switch status {
	case models.TaskStatusAccepted, models.TaskStatusActive, models.TaskStatusCompletedWorker:
		return true
	}
	return false
}

// CanCompleteEmployer reports whether the poster may confirm completion.
// The poster may close out unilaterally even if the worker never marked
// their side done.
func CanCompleteEmployer(status string) bool {
	switch status {
	case models.TaskStatusAccepted, models.TaskStatusActive, models.TaskStatusCompletedWorker:
		return true
	}
	return false
}

// CanRejectOffer reports whether a targeted offer may still be declined.
// An offer exists from draft (worker picked at confirm), open (offer sent
// while published) or pending.
func CanRejectOffer(status string) bool {
	switch status {
	case models.TaskStatusDraft, models.TaskStatusOpen, models.TaskStatusPending:
		return true
	}
	return false
}

// MaybeAdvance applies the lazy schedule-triggered transition: a task with an
// assigned worker whose start time has passed moves to active. Pure and
// idempotent: it recomputes from now each call and a second application is a
// no-op. Returns true if the status changed.
func MaybeAdvance(t *models.Task, now time.Time) bool {
	if t.Status != models.TaskStatusAccepted && t.Status != models.TaskStatusPending {
		return false
	}
	if t.AssignedTo == nil || t.StartDate == nil {
		return false
	}
	if now.Before(*t.StartDate) {
		return false
	}
	t.Status = models.TaskStatusActive
	return true
}
