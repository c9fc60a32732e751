package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kerjalink/backend/internal/models"
)

// Repository persists the per-task applicant ledger. The (task_id, worker_id)
// primary key is what makes double-application impossible even across two
// racing inserts; a partial unique index enforces at most one accepted
// applicant per task.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx appends a pending applicant. Returns ErrAlreadyApplied on the
// unique-violation path.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, a *models.Applicant) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO applicants (task_id, worker_id, status, message)
		VALUES ($1, $2, 'pending', $3)
		RETURNING applied_at
	`, a.TaskID, a.WorkerID, a.Message).Scan(&a.AppliedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyApplied
		}
		return err
	}
	a.Status = models.ApplicantStatusPending
	return nil
}

// AcceptTx marks one applicant accepted and every other pending applicant
// rejected, inside the caller's transaction. The two statements commit
// together, so no reader observes two accepted applicants or a half-applied
// acceptance.
func (r *Repository) AcceptTx(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applicants SET status = 'accepted'
		WHERE task_id = $1 AND worker_id = $2 AND status = 'pending'
	`, taskID, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicantNotFound
	}
	_, err = tx.Exec(ctx, `
		UPDATE applicants SET status = 'rejected'
		WHERE task_id = $1 AND worker_id <> $2 AND status = 'pending'
	`, taskID, workerID)
	return err
}

// RejectAllPendingTx rejects every pending applicant (used on cancellation).
func (r *Repository) RejectAllPendingTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE applicants SET status = 'rejected'
		WHERE task_id = $1 AND status = 'pending'
	`, taskID)
	return err
}

func (r *Repository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Applicant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, worker_id, status, message, applied_at
		FROM applicants WHERE task_id = $1 ORDER BY applied_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Applicant
	for rows.Next() {
		var a models.Applicant
		if err := rows.Scan(&a.TaskID, &a.WorkerID, &a.Status, &a.Message, &a.AppliedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
