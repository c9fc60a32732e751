package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/lifecycle"
	"github.com/kerjalink/backend/internal/models"
)

func newLifecycle(tasks *mockTaskStore, applicants *mockApplicantCleaner, workers *mockWorkerStore, notifier *mockNotifier, now time.Time) *TaskLifecycle {
	l := NewTaskLifecycle(mockPool{}, tasks, applicants, workers, notifier, nil)
	l.Now = fixedClock(now)
	return l
}

func draftTask(posterID uuid.UUID, searchMethod string, budget int64) *models.Task {
	return &models.Task{
		ID:           uuid.New(),
		PosterID:     posterID,
		Category:     models.CategoryTaman,
		Title:        "Rapikan taman",
		Budget:       budget,
		SearchMethod: searchMethod,
		Status:       models.TaskStatusDraft,
		Payment:      models.NewPayment(budget),
	}
}

// ---------------------------------------------------------------------------
// Confirm
// ---------------------------------------------------------------------------

func TestConfirmPublishesAndHoldsEscrow(t *testing.T) {
	poster := uuid.New()
	task := draftTask(poster, models.SearchMethodPublication, 50_000)
	tasks := newMockTaskStore(task)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l := newLifecycle(tasks, &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, now)

	got, err := l.Confirm(context.Background(), task.ID, poster, nil)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != models.TaskStatusOpen {
		t.Errorf("status = %q, want open", got.Status)
	}
	if got.Payment.Status != models.PaymentStatusHeld {
		t.Errorf("payment status = %q, want held", got.Payment.Status)
	}
	if got.Payment.PaidAt == nil || !got.Payment.PaidAt.Equal(now) {
		t.Error("paid_at not stamped")
	}
	// Fee breakdown recomputed from budget at confirm time.
	if got.Payment.ServiceFee != 50_000*models.ServiceFeePercent/100 {
		t.Errorf("service fee = %d", got.Payment.ServiceFee)
	}
	if got.Payment.TotalAmount != 50_000+got.Payment.ServiceFee+models.AdminFeeFlat {
		t.Errorf("total amount = %d", got.Payment.TotalAmount)
	}
}

func TestConfirmWithPickedWorker(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	task := draftTask(poster, models.SearchMethodFindWorker, 75_000)
	tasks := newMockTaskStore(task)
	workers := newMockWorkerStore(&models.User{ID: workerID, Role: models.RoleWorker})
	notifier := &mockNotifier{}
	l := newLifecycle(tasks, &mockApplicantCleaner{}, workers, notifier, time.Now())

	got, err := l.Confirm(context.Background(), task.ID, poster, &workerID)
	if err != nil {
		t.Fatalf("Confirm with picked worker: %v", err)
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.AssignedTo == nil || *got.AssignedTo != workerID {
		t.Error("picked worker not assigned")
	}
	if n := notifier.byType(models.NotifyOfferReceived); len(n) != 1 || n[0].UserID != workerID {
		t.Error("picked worker should receive the offer notification")
	}
}

func TestConfirmGuards(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	ctx := context.Background()

	// Non-owner.
	task := draftTask(poster, models.SearchMethodPublication, 20_000)
	l := newLifecycle(newMockTaskStore(task), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, time.Now())
	if _, err := l.Confirm(ctx, task.ID, uuid.New(), nil); !errors.Is(err, ErrNotTaskOwner) {
		t.Errorf("non-owner confirm: got %v, want ErrNotTaskOwner", err)
	}

	// Already published.
	open := draftTask(poster, models.SearchMethodPublication, 20_000)
	open.Status = models.TaskStatusOpen
	l2 := newLifecycle(newMockTaskStore(open), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, time.Now())
	if _, err := l2.Confirm(ctx, open.ID, poster, nil); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("double confirm: got %v, want ErrInvalidTransition", err)
	}

	// Picked worker on the publication track.
	pub := draftTask(poster, models.SearchMethodPublication, 20_000)
	l3 := newLifecycle(newMockTaskStore(pub), &mockApplicantCleaner{}, newMockWorkerStore(&models.User{ID: workerID, Role: models.RoleWorker}), &mockNotifier{}, time.Now())
	if _, err := l3.Confirm(ctx, pub.ID, poster, &workerID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("picked worker on publication track: got %v, want ErrInvalidTransition", err)
	}

	// Picked user who cannot work.
	fw := draftTask(poster, models.SearchMethodFindWorker, 20_000)
	posterOnly := &models.User{ID: workerID, Role: models.RolePoster}
	l4 := newLifecycle(newMockTaskStore(fw), &mockApplicantCleaner{}, newMockWorkerStore(posterOnly), &mockNotifier{}, time.Now())
	if _, err := l4.Confirm(ctx, fw.ID, poster, &workerID); !errors.Is(err, ErrWorkerRequired) {
		t.Errorf("poster-only pick: got %v, want ErrWorkerRequired", err)
	}
}

// ---------------------------------------------------------------------------
// Get: lazy advance at the read boundary
// ---------------------------------------------------------------------------

func TestGetLazyAdvance(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	task := heldTask(poster, workerID, models.TaskStatusAccepted, 30_000)
	task.StartDate = &start
	tasks := newMockTaskStore(task)
	l := newLifecycle(tasks, &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, start.Add(-time.Minute))

	// Before the start time nothing moves.
	got, err := l.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TaskStatusAccepted {
		t.Errorf("status before start = %q, want accepted", got.Status)
	}

	// After the start time the read itself advances the task.
	l.Now = fixedClock(start.Add(time.Minute))
	got, err = l.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TaskStatusActive {
		t.Errorf("status after start = %q, want active", got.Status)
	}
	if tasks.stored(task.ID).Status != models.TaskStatusActive {
		t.Error("advance should be persisted")
	}

	// Further reads are stable.
	got, _ = l.Get(context.Background(), task.ID)
	if got.Status != models.TaskStatusActive {
		t.Error("repeat read changed status")
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancelRefundsAndRejectsApplicants(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	task := heldTask(poster, workerID, models.TaskStatusPending, 45_000)
	tasks := newMockTaskStore(task)
	cleaner := &mockApplicantCleaner{}
	notifier := &mockNotifier{}
	l := newLifecycle(tasks, cleaner, newMockWorkerStore(), notifier, time.Now())

	got, err := l.Cancel(context.Background(), task.ID, poster)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != models.TaskStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if got.AssignedTo != nil {
		t.Error("assignment should be cleared on cancel")
	}
	if got.Payment.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %q, want refunded", got.Payment.Status)
	}
	if len(cleaner.rejected) != 1 || cleaner.rejected[0] != task.ID {
		t.Error("pending applicants should be rejected in the same transaction")
	}
	if n := notifier.byType(models.NotifyTaskCancelled); len(n) != 1 || n[0].UserID != workerID {
		t.Error("assigned worker should be told about the cancellation")
	}
}

func TestCancelBlockedOnceWorkStarted(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	ctx := context.Background()

	for _, status := range []string{
		models.TaskStatusAccepted,
		models.TaskStatusActive,
		models.TaskStatusCompletedWorker,
		models.TaskStatusCompleted,
	} {
		task := heldTask(poster, workerID, status, 45_000)
		l := newLifecycle(newMockTaskStore(task), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, time.Now())
		if _, err := l.Cancel(ctx, task.ID, poster); !errors.Is(err, lifecycle.ErrInvalidTransition) {
			t.Errorf("cancel from %q: got %v, want ErrInvalidTransition", status, err)
		}
	}
}

func TestCancelBlockedAtStartBoundary(t *testing.T) {
	// A pending task whose start time has already passed is advanced before
	// the cancel guard runs, so the cancel is refused.
	poster := uuid.New()
	workerID := uuid.New()
	start := time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)
	task := heldTask(poster, workerID, models.TaskStatusPending, 45_000)
	task.StartDate = &start
	l := newLifecycle(newMockTaskStore(task), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, start.Add(time.Hour))

	if _, err := l.Cancel(context.Background(), task.ID, poster); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("cancel past start: got %v, want ErrInvalidTransition", err)
	}
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func TestReport(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	task := heldTask(poster, workerID, models.TaskStatusActive, 45_000)
	tasks := newMockTaskStore(task)
	notifier := &mockNotifier{}
	l := newLifecycle(tasks, &mockApplicantCleaner{}, newMockWorkerStore(), notifier, time.Now())

	ctx := context.Background()

	// Worker reports the poster.
	got, err := l.Report(ctx, task.ID, workerID, "tidak sesuai kesepakatan")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got.Status != models.TaskStatusDisputed {
		t.Errorf("status = %q, want disputed", got.Status)
	}
	if n := notifier.byType(models.NotifyTaskReported); len(n) != 1 || n[0].UserID != poster {
		t.Error("the other party (poster) should be notified")
	}

	// Disputed is sticky: a second report is refused.
	if _, err := l.Report(ctx, task.ID, poster, "balasan"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("report on disputed task: got %v, want ErrInvalidTransition", err)
	}
}

func TestReportGuards(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	ctx := context.Background()

	task := heldTask(poster, workerID, models.TaskStatusActive, 45_000)
	l := newLifecycle(newMockTaskStore(task), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, time.Now())
	if _, err := l.Report(ctx, task.ID, uuid.New(), "bukan urusan saya"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider report: got %v, want ErrNotParticipant", err)
	}

	cancelled := heldTask(poster, workerID, models.TaskStatusCancelled, 45_000)
	l2 := newLifecycle(newMockTaskStore(cancelled), &mockApplicantCleaner{}, newMockWorkerStore(), &mockNotifier{}, time.Now())
	if _, err := l2.Report(ctx, cancelled.ID, poster, "terlambat"); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("report on cancelled task: got %v, want ErrInvalidTransition", err)
	}
}
