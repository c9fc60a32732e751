package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kerjalink/backend/internal/models"
)

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, poster_id, category, title, description, location, latitude, longitude,
	budget, pricing_type, search_method, status, assigned_to, start_date,
	payment_amount, service_fee, admin_fee, total_amount, payment_status, paid_at, released_at,
	worker_completed_at, employer_completed_at, employer_approved_at, completed_at, completed_by,
	created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.PosterID, &t.Category, &t.Title, &t.Description, &t.Location, &t.Latitude, &t.Longitude,
		&t.Budget, &t.PricingType, &t.SearchMethod, &t.Status, &t.AssignedTo, &t.StartDate,
		&t.Payment.Amount, &t.Payment.ServiceFee, &t.Payment.AdminFee, &t.Payment.TotalAmount,
		&t.Payment.Status, &t.Payment.PaidAt, &t.Payment.ReleasedAt,
		&t.WorkerCompletedAt, &t.EmployerCompletedAt, &t.EmployerApprovedAt, &t.CompletedAt, &t.CompletedBy,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, poster_id, category, title, description, location, latitude, longitude,
			budget, pricing_type, search_method, status, assigned_to, start_date,
			payment_amount, service_fee, admin_fee, total_amount, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at
	`, t.ID, t.PosterID, t.Category, t.Title, t.Description, t.Location, t.Latitude, t.Longitude,
		t.Budget, t.PricingType, t.SearchMethod, t.Status, t.AssignedTo, t.StartDate,
		t.Payment.Amount, t.Payment.ServiceFee, t.Payment.AdminFee, t.Payment.TotalAmount, t.Payment.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row for the duration of tx. Every mutation
// that touches assignment or completion goes through this lock so concurrent
// writers serialize at the single-task level.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx writes the full task record within the caller's transaction.
func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET category = $2, title = $3, description = $4, location = $5,
			latitude = $6, longitude = $7, budget = $8, pricing_type = $9,
			status = $10, assigned_to = $11, start_date = $12,
			payment_amount = $13, service_fee = $14, admin_fee = $15, total_amount = $16,
			payment_status = $17, paid_at = $18, released_at = $19,
			worker_completed_at = $20, employer_completed_at = $21, employer_approved_at = $22,
			completed_at = $23, completed_by = $24, updated_at = now()
		WHERE id = $1
	`, t.ID, t.Category, t.Title, t.Description, t.Location,
		t.Latitude, t.Longitude, t.Budget, t.PricingType,
		t.Status, t.AssignedTo, t.StartDate,
		t.Payment.Amount, t.Payment.ServiceFee, t.Payment.AdminFee, t.Payment.TotalAmount,
		t.Payment.Status, t.Payment.PaidAt, t.Payment.ReleasedAt,
		t.WorkerCompletedAt, t.EmployerCompletedAt, t.EmployerApprovedAt,
		t.CompletedAt, t.CompletedBy)
	return err
}

// Patch applies a partial update. Nil fields are never written; the Clear
// flags null out their columns explicitly.
func (r *TaskRepo) Patch(ctx context.Context, id uuid.UUID, p models.TaskPatch) error {
	if p.IsZero() {
		return nil
	}
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Location != nil {
		add("location", *p.Location)
	}
	if p.Latitude != nil {
		add("latitude", *p.Latitude)
	}
	if p.Longitude != nil {
		add("longitude", *p.Longitude)
	}
	if p.Budget != nil {
		add("budget", *p.Budget)
	}
	if p.PricingType != nil {
		add("pricing_type", *p.PricingType)
	}
	if p.StartDate != nil {
		add("start_date", *p.StartDate)
	}
	if p.ClearStartDate {
		sets = append(sets, "start_date = NULL")
	}
	if p.ClearCoordinates {
		sets = append(sets, "latitude = NULL", "longitude = NULL")
	}

	tag, err := r.pool.Exec(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkActive applies the lazy schedule-triggered advance as a conditional
// update. Safe to call any number of times: once the task is active the
// WHERE clause no longer matches and the statement is a no-op.
func (r *TaskRepo) MarkActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = 'active', updated_at = now()
		WHERE id = $1
		  AND status IN ('accepted', 'pending')
		  AND assigned_to IS NOT NULL
		  AND start_date IS NOT NULL
		  AND start_date <= now()
	`, id)
	return err
}

// Delete removes a task. Only permitted while no active work exists; the
// condition lives in SQL so two racing deletes cannot slip past the guard.
func (r *TaskRepo) Delete(ctx context.Context, id, posterID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE id = $1 AND poster_id = $2
		  AND status IN ('draft', 'open', 'cancelled')
		  AND assigned_to IS NULL
	`, id, posterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepo) ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE poster_id = $1 ORDER BY created_at DESC`, posterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *TaskRepo) ListOpen(ctx context.Context, category string, limit int) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'open' AND search_method = 'publication'
		  AND ($1 = '' OR category = $1)
		ORDER BY created_at DESC LIMIT $2
	`, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
