// Package ledger implements the applicant/offer ledger: self-service
// applications on the publication track and targeted offers on the
// find_worker track. All assignment mutations run under a per-task row lock
// so two concurrent writers racing to assign the same task serialize.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kerjalink/backend/internal/lifecycle"
	"github.com/kerjalink/backend/internal/models"
)

var (
	ErrAlreadyApplied            = errors.New("worker already applied to this task")
	ErrTaskNotOpen               = errors.New("task is not open for applications")
	ErrSelfApplication           = errors.New("poster cannot apply to their own task")
	ErrAlreadyAssigned           = errors.New("task already has an assigned worker")
	ErrApplicantNotFound         = errors.New("applicant not found")
	ErrNotYourOffer              = errors.New("offer is not addressed to this worker")
	ErrInvalidStatusForRejection = errors.New("offer can no longer be rejected")
	ErrNotTaskOwner              = errors.New("only the task poster may do this")
	ErrWrongTrack                = errors.New("operation not valid for this search method")
)

// TaskStore is the slice of the task repository the ledger needs: locked
// reads and full writes within a transaction.
type TaskStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
}

// ApplicantStore is the ledger's own persistence.
type ApplicantStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, a *models.Applicant) error
	AcceptTx(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Applicant, error)
}

// TxBeginner opens transactions; satisfied by pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier is fire-and-forget; see the notify package.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message, typ string, relatedID *uuid.UUID)
}

type Service struct {
	pool       TxBeginner
	tasks      TaskStore
	applicants ApplicantStore
	notifier   Notifier
	logger     *slog.Logger
}

func NewService(pool TxBeginner, tasks TaskStore, applicants ApplicantStore, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, tasks: tasks, applicants: applicants, notifier: notifier, logger: logger}
}

// Apply records a self-service application on a publication-track task. The
// task status stays open; publication tasks accept applications until the
// poster acts.
func (s *Service) Apply(ctx context.Context, taskID, workerID uuid.UUID, message string) (*models.Applicant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PosterID == workerID {
		return nil, ErrSelfApplication
	}
	if task.Status != models.TaskStatusOpen || task.SearchMethod != models.SearchMethodPublication {
		return nil, ErrTaskNotOpen
	}

	a := &models.Applicant{TaskID: taskID, WorkerID: workerID, Message: message}
	if err := s.applicants.InsertTx(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, task.PosterID, "Pelamar baru",
		"Seorang pekerja melamar ke tugas Anda.", models.NotifyNewApplication, &taskID)
	return a, nil
}

// AcceptApplicant is the sole path by which a publication-track task acquires
// an assignment. Acceptance of one applicant and rejection of every other
// pending applicant commit atomically.
func (s *Service) AcceptApplicant(ctx context.Context, taskID, posterID, workerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.PosterID != posterID {
		return ErrNotTaskOwner
	}
	if task.AssignedTo != nil {
		return ErrAlreadyAssigned
	}
	if !lifecycle.CanTransition(task.Status, models.TaskStatusPending) {
		return lifecycle.ErrInvalidTransition
	}

	// Snapshot the pending pool before AcceptTx rewrites it, so the losers
	// can be told after commit.
	pending, err := s.applicants.ListByTask(ctx, taskID)
	if err != nil {
		s.logger.Warn("list applicants for rejection notices failed", "task_id", taskID, "error", err)
	}

	if err := s.applicants.AcceptTx(ctx, tx, taskID, workerID); err != nil {
		return err
	}

	task.AssignedTo = &workerID
	task.Status = models.TaskStatusPending
	if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.notifier.Notify(ctx, workerID, "Lamaran diterima",
		"Lamaran Anda diterima oleh pemberi tugas.", models.NotifyApplicantAccepted, &taskID)
	for _, a := range pending {
		if a.WorkerID == workerID || a.Status != models.ApplicantStatusPending {
			continue
		}
		s.notifier.Notify(ctx, a.WorkerID, "Lamaran ditolak",
			"Tugas telah diberikan kepada pekerja lain.", models.NotifyApplicantRejected, &taskID)
	}
	return nil
}

// OfferToWorker sends a targeted offer on the find_worker track. The task
// keeps status open: the offer is pending until the worker accepts or
// rejects it.
func (s *Service) OfferToWorker(ctx context.Context, taskID, posterID, workerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.PosterID != posterID {
		return ErrNotTaskOwner
	}
	if task.SearchMethod != models.SearchMethodFindWorker {
		return ErrWrongTrack
	}
	if workerID == posterID {
		return ErrSelfApplication
	}
	if task.AssignedTo != nil {
		return ErrAlreadyAssigned
	}
	if task.Status != models.TaskStatusOpen && task.Status != models.TaskStatusDraft {
		return ErrTaskNotOpen
	}

	task.AssignedTo = &workerID
	if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("record offer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.notifier.Notify(ctx, workerID, "Tawaran tugas",
		"Anda menerima tawaran tugas langsung.", models.NotifyOfferReceived, &taskID)
	return nil
}

// AcceptOffer lets the targeted worker take the task; it moves to accepted
// and work can begin at the scheduled start.
func (s *Service) AcceptOffer(ctx context.Context, taskID, workerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.SearchMethod != models.SearchMethodFindWorker {
		return ErrWrongTrack
	}
	if task.AssignedTo == nil || *task.AssignedTo != workerID {
		return ErrNotYourOffer
	}
	if !lifecycle.CanTransition(task.Status, models.TaskStatusAccepted) {
		return lifecycle.ErrInvalidTransition
	}

	task.Status = models.TaskStatusAccepted
	if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.notifier.Notify(ctx, task.PosterID, "Tawaran diterima",
		"Pekerja menerima tawaran Anda.", models.NotifyOfferAccepted, &taskID)
	return nil
}

// RejectOffer declines a targeted offer, clearing the assignment and freeing
// the task for another offer.
func (s *Service) RejectOffer(ctx context.Context, taskID, workerID uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.SearchMethod != models.SearchMethodFindWorker {
		return ErrWrongTrack
	}
	if task.AssignedTo == nil || *task.AssignedTo != workerID {
		return ErrNotYourOffer
	}
	if !lifecycle.CanRejectOffer(task.Status) {
		return ErrInvalidStatusForRejection
	}

	task.AssignedTo = nil
	task.Status = models.TaskStatusOpen
	if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	msg := "Pekerja menolak tawaran Anda."
	if reason != "" {
		msg = "Pekerja menolak tawaran Anda: " + reason
	}
	s.notifier.Notify(ctx, task.PosterID, "Tawaran ditolak", msg, models.NotifyOfferRejected, &taskID)
	return nil
}

// List returns the task's full applicant ledger in application order.
func (s *Service) List(ctx context.Context, taskID uuid.UUID) ([]*models.Applicant, error) {
	return s.applicants.ListByTask(ctx, taskID)
}
