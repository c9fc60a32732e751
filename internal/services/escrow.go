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
	// ErrNotAssignedWorker is returned when someone other than the assigned
	// worker tries a worker-side completion.
	ErrNotAssignedWorker = errors.New("caller is not the assigned worker")
	// ErrNotTaskOwner is returned on poster-only actions by non-owners.
	ErrNotTaskOwner = errors.New("only the task poster may do this")
)

// EscrowTaskStore is the task-store slice the coordinator needs.
type EscrowTaskStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
}

// EscrowWorkerStore owns the worker balance columns.
type EscrowWorkerStore interface {
	CreditForTask(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, amount int64) error
	RecomputeBalance(ctx context.Context, workerID uuid.UUID) (int64, error)
}

// EscrowNotifier is fire-and-forget.
type EscrowNotifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message, typ string, relatedID *uuid.UUID)
}

// EscrowTxBeginner opens transactions; satisfied by pgxpool.Pool.
type EscrowTxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowService coordinates the dual-sided completion flow and settlement.
// The status flip and the worker credit commit in one transaction; derived
// balances are additionally healed by the idempotent repair procedure, so
// task status stays the single source of truth.
type EscrowService struct {
	Pool     EscrowTxBeginner
	Tasks    EscrowTaskStore
	Workers  EscrowWorkerStore
	Notifier EscrowNotifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewEscrowService(pool EscrowTxBeginner, tasks EscrowTaskStore, workers EscrowWorkerStore, notifier EscrowNotifier, logger *slog.Logger) *EscrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{Pool: pool, Tasks: tasks, Workers: workers, Notifier: notifier, Logger: logger, Now: time.Now}
}

// MarkWorkerCompleted records the worker's side of completion. Calling it
// again while already in completed_worker is a no-op success, so racing
// double-submits from the worker's client are harmless.
func (s *EscrowService) MarkWorkerCompleted(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssignedTo == nil || *task.AssignedTo != workerID {
		return nil, ErrNotAssignedWorker
	}

	now := s.Now()
	lifecycle.MaybeAdvance(task, now)
	if !lifecycle.CanCompleteWorker(task.Status) {
		return nil, lifecycle.ErrInvalidTransition
	}

	task.Status = models.TaskStatusCompletedWorker
	if task.WorkerCompletedAt == nil {
		task.WorkerCompletedAt = &now
	}
	if err := s.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, task.PosterID, "Pekerjaan selesai",
		"Pekerja menandai tugas selesai. Mohon konfirmasi.", models.NotifyTaskCompleted, &taskID)
	return task, nil
}

// ConfirmCompletion is the employer's confirmation. It stamps the completion
// timestamps, flips the escrow from held to released and credits the
// assigned worker in one transaction. The poster may close out
// unilaterally; workerCompletedAt is backfilled if the worker never marked
// their side done.
func (s *EscrowService) ConfirmCompletion(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PosterID != posterID {
		return nil, ErrNotTaskOwner
	}
	if task.AssignedTo == nil {
		return nil, lifecycle.ErrInvalidTransition
	}

	now := s.Now()
	lifecycle.MaybeAdvance(task, now)
	if !lifecycle.CanCompleteEmployer(task.Status) {
		return nil, lifecycle.ErrInvalidTransition
	}

	workerID := *task.AssignedTo

	task.Status = models.TaskStatusCompleted
	if task.WorkerCompletedAt == nil {
		task.WorkerCompletedAt = &now
	}
	task.EmployerCompletedAt = &now
	task.EmployerApprovedAt = &now
	task.CompletedAt = &now
	task.CompletedBy = &posterID

	// Release escrow and credit the worker atomically with the status flip.
	// If payment was never collected there is nothing to release or credit.
	credited := false
	if task.Payment.Status == models.PaymentStatusHeld {
		task.Payment.Status = models.PaymentStatusReleased
		task.Payment.ReleasedAt = &now
		credited = true
	}

	if err := s.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	if credited {
		if err := s.Workers.CreditForTask(ctx, tx, workerID, task.Budget); err != nil {
			return nil, fmt.Errorf("credit worker: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, workerID, "Tugas selesai",
		"Pemberi tugas mengonfirmasi penyelesaian tugas.", models.NotifyTaskCompleted, &taskID)
	if credited {
		s.Notifier.Notify(ctx, workerID, "Pembayaran diterima",
			fmt.Sprintf("Saldo Anda bertambah %d.", task.Budget), models.NotifyPaymentReceived, &taskID)
	}
	return task, nil
}

// RepairBalance recomputes a worker's balance from their completed-task
// history and corrects drift. Idempotent and safe to re-run: it is the
// second line of defense when a credit was lost after a committed status
// write.
func (s *EscrowService) RepairBalance(ctx context.Context, workerID uuid.UUID) (int64, error) {
	balance, err := s.Workers.RecomputeBalance(ctx, workerID)
	if err != nil {
		return 0, fmt.Errorf("recompute balance: %w", err)
	}
	s.Logger.Info("worker balance repaired", "worker_id", workerID, "balance", balance)
	return balance, nil
}
