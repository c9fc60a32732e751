package lifecycle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"github.com/kerjalink/backend/internal/models"
)

var allStatuses = []string{
	models.TaskStatusDraft,
	models.TaskStatusOpen,
	models.TaskStatusPending,
	models.TaskStatusAccepted,
	models.TaskStatusActive,
	models.TaskStatusCompletedWorker,
	models.TaskStatusCompleted,
	models.TaskStatusRejected,
	models.TaskStatusCancelled,
	models.TaskStatusDisputed,
}

func TestValidStatus(t *testing.T) {
	for _, s := range allStatuses {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "OPEN", "done", "in_progress"} {
		if ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = true, want false", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.TaskStatusDraft, models.TaskStatusOpen, true},
		{models.TaskStatusDraft, models.TaskStatusPending, true},
		{models.TaskStatusDraft, models.TaskStatusActive, false},
		{models.TaskStatusOpen, models.TaskStatusPending, true},
		{models.TaskStatusOpen, models.TaskStatusAccepted, true},
		{models.TaskStatusOpen, models.TaskStatusCompleted, false},
		{models.TaskStatusPending, models.TaskStatusOpen, true},
		{models.TaskStatusPending, models.TaskStatusActive, true},
		{models.TaskStatusAccepted, models.TaskStatusActive, true},
		{models.TaskStatusAccepted, models.TaskStatusOpen, false},
		{models.TaskStatusActive, models.TaskStatusCompletedWorker, true},
		{models.TaskStatusCompletedWorker, models.TaskStatusCompleted, true},
		{models.TaskStatusCompletedWorker, models.TaskStatusCompletedWorker, true},
		{models.TaskStatusCompleted, models.TaskStatusOpen, false},
		{models.TaskStatusCancelled, models.TaskStatusOpen, false},
		{models.TaskStatusDisputed, models.TaskStatusCompleted, false},
		{models.TaskStatusRejected, models.TaskStatusOpen, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	terminals := []string{
		models.TaskStatusCompleted,
		models.TaskStatusRejected,
		models.TaskStatusCancelled,
		models.TaskStatusDisputed,
	}
	for _, from := range terminals {
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				t.Errorf("terminal status %q allows transition to %q", from, to)
			}
		}
	}
}

func TestCanCancel(t *testing.T) {
	want := map[string]bool{
		models.TaskStatusDraft:   true,
		models.TaskStatusOpen:    true,
		models.TaskStatusPending: true,
	}
	for _, s := range allStatuses {
		if got := CanCancel(s); got != want[s] {
			t.Errorf("CanCancel(%q) = %v, want %v", s, got, want[s])
		}
	}
}

func TestCanReport(t *testing.T) {
	for _, s := range allStatuses {
		want := s != models.TaskStatusCancelled && s != models.TaskStatusDisputed
		if got := CanReport(s); got != want {
			t.Errorf("CanReport(%q) = %v, want %v", s, got, want)
		}
	}
	if CanReport("bogus") {
		t.Error("CanReport should reject unknown statuses")
	}
}

func TestCanComplete(t *testing.T) {
	completable := map[string]bool{
		models.TaskStatusAccepted:        true,
		models.TaskStatusActive:          true,
		models.TaskStatusCompletedWorker: true,
	}
	for _, s := range allStatuses {
		if got := CanCompleteWorker(s); got != completable[s] {
			t.Errorf("CanCompleteWorker(%q) = %v, want %v", s, got, completable[s])
		}
		if got := CanCompleteEmployer(s); got != completable[s] {
			t.Errorf("CanCompleteEmployer(%q) = %v, want %v", s, got, completable[s])
		}
	}
}

func TestCanRejectOffer(t *testing.T) {
	want := map[string]bool{
		models.TaskStatusDraft:   true,
		models.TaskStatusOpen:    true,
		models.TaskStatusPending: true,
	}
	for _, s := range allStatuses {
		if got := CanRejectOffer(s); got != want[s] {
			t.Errorf("CanRejectOffer(%q) = %v, want %v", s, got, want[s])
		}
	}
}

func TestMaybeAdvance(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	worker := uuid.New()

	cases := []struct {
		name       string
		status     string
		assignedTo *uuid.UUID
		startDate  *time.Time
		want       bool
		wantStatus string
	}{
		{"pending past start", models.TaskStatusPending, &worker, &past, true, models.TaskStatusActive},
		{"accepted past start", models.TaskStatusAccepted, &worker, &past, true, models.TaskStatusActive},
		{"accepted at start", models.TaskStatusAccepted, &worker, &now, true, models.TaskStatusActive},
		{"future start", models.TaskStatusAccepted, &worker, &future, false, models.TaskStatusAccepted},
		{"no start date", models.TaskStatusAccepted, &worker, nil, false, models.TaskStatusAccepted},
		{"no assignment", models.TaskStatusPending, nil, &past, false, models.TaskStatusPending},
		{"open never advances", models.TaskStatusOpen, &worker, &past, false, models.TaskStatusOpen},
		{"active stays", models.TaskStatusActive, &worker, &past, false, models.TaskStatusActive},
		{"completed stays", models.TaskStatusCompleted, &worker, &past, false, models.TaskStatusCompleted},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			task := &models.Task{Status: c.status, AssignedTo: c.assignedTo, StartDate: c.startDate}
			if got := MaybeAdvance(task, now); got != c.want {
				t.Errorf("MaybeAdvance = %v, want %v", got, c.want)
			}
			if task.Status != c.wantStatus {
				t.Errorf("status = %q, want %q", task.Status, c.wantStatus)
			}
		})
	}
}

// A second application of MaybeAdvance must always be a no-op, regardless of
// starting state or clock skew between the two calls.
func TestMaybeAdvanceIdempotent(t *testing.T) {
	worker := uuid.New()
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.SampledFrom(allStatuses).Draw(t, "status")
		task := &models.Task{Status: status}

		if rapid.Bool().Draw(t, "assigned") {
			task.AssignedTo = &worker
		}
		if rapid.Bool().Draw(t, "scheduled") {
			start := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "start"), 0)
			task.StartDate = &start
		}
		now := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "now"), 0)

		MaybeAdvance(task, now)
		statusAfterFirst := task.Status

		// Re-running at the same or a later instant changes nothing further.
		later := now.Add(time.Duration(rapid.Int64Range(0, 86400).Draw(t, "delta")) * time.Second)
		changedAgain := MaybeAdvance(task, later)

		if task.Status != statusAfterFirst && statusAfterFirst == models.TaskStatusActive {
			t.Fatalf("second MaybeAdvance moved status %q -> %q", statusAfterFirst, task.Status)
		}
		if statusAfterFirst == models.TaskStatusActive && changedAgain {
			t.Fatal("second MaybeAdvance reported a change after reaching active")
		}
	})
}
