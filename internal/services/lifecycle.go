package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kerjalink/backend/internal/lifecycle"
	"github.com/kerjalink/backend/internal/models"
)

var (
	// ErrNotParticipant is returned when a report comes from someone who is
	// neither the poster nor the assigned worker.
	ErrNotParticipant = errors.New("caller is not a participant in this task")
	// ErrWorkerRequired is returned when confirming a find_worker draft with
	// a picked worker who cannot take tasks.
	ErrWorkerRequired = errors.New("picked user cannot take tasks")
)

// LifecycleTaskStore extends the locked task access with the lazy-advance
// conditional update and applicant cleanup on cancellation.
type LifecycleTaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	MarkActive(ctx context.Context, id uuid.UUID) error
}

// ApplicantCleaner rejects any still-pending applicants when a task leaves
// the open pool.
type ApplicantCleaner interface {
	RejectAllPendingTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error
}

// WorkerDirectory resolves picked workers at confirm time.
type WorkerDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TaskLifecycle drives the poster-facing transitions: confirm, cancel,
// report, and the lazy read-triggered advance to active.
type TaskLifecycle struct {
	Pool       EscrowTxBeginner
	Tasks      LifecycleTaskStore
	Applicants ApplicantCleaner
	Workers    WorkerDirectory
	Notifier   EscrowNotifier
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewTaskLifecycle(pool EscrowTxBeginner, tasks LifecycleTaskStore, applicants ApplicantCleaner, workers WorkerDirectory, notifier EscrowNotifier, logger *slog.Logger) *TaskLifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskLifecycle{
		Pool: pool, Tasks: tasks, Applicants: applicants, Workers: workers,
		Notifier: notifier, Logger: logger, Now: time.Now,
	}
}

// Get reads a task and applies the lazy schedule-triggered advance. The
// advance is a conditional update keyed on the current status, so two
// readers racing at the start-time boundary both converge on active with no
// duplicate side effects.
func (l *TaskLifecycle) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := l.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if lifecycle.MaybeAdvance(task, l.Now()) {
		if err := l.Tasks.MarkActive(ctx, taskID); err != nil {
			// The in-memory view is already advanced; persisting again on the
			// next read is fine.
			l.Logger.Warn("lazy activate failed", "task_id", taskID, "error", err)
		}
	}
	return task, nil
}

// Confirm publishes a draft. On the publication track the task opens for
// applications; on the find_worker track a picked worker produces a targeted
// offer and the task moves straight to pending. Confirming collects the
// escrow: the payment sub-record is stamped held.
func (l *TaskLifecycle) Confirm(ctx context.Context, taskID, posterID uuid.UUID, pickedWorker *uuid.UUID) (*models.Task, error) {
	tx, err := l.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := l.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PosterID != posterID {
		return nil, ErrNotTaskOwner
	}
	if task.Status != models.TaskStatusDraft {
		return nil, lifecycle.ErrInvalidTransition
	}

	next := models.TaskStatusOpen
	if pickedWorker != nil {
		if task.SearchMethod != models.SearchMethodFindWorker {
			return nil, fmt.Errorf("%w: worker can only be picked on the find_worker track", lifecycle.ErrInvalidTransition)
		}
		w, err := l.Workers.GetByID(ctx, *pickedWorker)
		if err != nil {
			return nil, err
		}
		if !w.CanWork() || w.ID == posterID {
			return nil, ErrWorkerRequired
		}
		task.AssignedTo = pickedWorker
		next = models.TaskStatusPending
	}

	now := l.Now()
	task.Status = next
	task.Payment = models.NewPayment(task.Budget)
	task.Payment.Status = models.PaymentStatusHeld
	task.Payment.PaidAt = &now
	if err := l.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("confirm task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if pickedWorker != nil {
		l.Notifier.Notify(ctx, *pickedWorker, "Tawaran tugas",
			"Anda menerima tawaran tugas langsung.", models.NotifyOfferReceived, &taskID)
	}
	return task, nil
}

// Cancel stops a task before work is in progress. Pending applicants are
// rejected in the same transaction and the escrow is marked refunded.
func (l *TaskLifecycle) Cancel(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	tx, err := l.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := l.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PosterID != posterID {
		return nil, ErrNotTaskOwner
	}

	lifecycle.MaybeAdvance(task, l.Now())
	if !lifecycle.CanCancel(task.Status) {
		return nil, lifecycle.ErrInvalidTransition
	}

	assigned := task.AssignedTo
	task.Status = models.TaskStatusCancelled
	task.AssignedTo = nil
	if task.Payment.Status == models.PaymentStatusHeld {
		task.Payment.Status = models.PaymentStatusRefunded
	}
	if err := l.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	if err := l.Applicants.RejectAllPendingTx(ctx, tx, taskID); err != nil {
		return nil, fmt.Errorf("reject pending applicants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if assigned != nil {
		l.Notifier.Notify(ctx, *assigned, "Tugas dibatalkan",
			"Pemberi tugas membatalkan tugas.", models.NotifyTaskCancelled, &taskID)
	}
	return task, nil
}

// Report opens a dispute against the other party and pauses the lifecycle
// until external moderation resolves it.
func (l *TaskLifecycle) Report(ctx context.Context, taskID, reporterID uuid.UUID, reason string) (*models.Task, error) {
	tx, err := l.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := l.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	isPoster := task.PosterID == reporterID
	isWorker := task.AssignedTo != nil && *task.AssignedTo == reporterID
	if !isPoster && !isWorker {
		return nil, ErrNotParticipant
	}
	if !lifecycle.CanReport(task.Status) {
		return nil, lifecycle.ErrInvalidTransition
	}

	task.Status = models.TaskStatusDisputed
	if err := l.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("report task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Notify the other party.
	target := task.PosterID
	if isPoster && task.AssignedTo != nil {
		target = *task.AssignedTo
	}
	if target != reporterID {
		l.Notifier.Notify(ctx, target, "Tugas dilaporkan",
			"Tugas Anda sedang dalam sengketa.", models.NotifyTaskReported, &taskID)
	}
	return task, nil
}
