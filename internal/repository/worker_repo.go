package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kerjalink/backend/internal/models"
)

// ErrUserNotFound is returned when a user id does not exist.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, email, password_hash, name, role, verified, categories, bio,
	location, latitude, longitude, profile_embedding,
	rating, rating_count, completed_tasks, balance, total_earnings, created_at, updated_at`

// WorkerRepo reads the worker-candidate projection and owns the balance
// columns on users.
type WorkerRepo struct {
	pool *pgxpool.Pool
}

func NewWorkerRepo(pool *pgxpool.Pool) *WorkerRepo {
	return &WorkerRepo{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Verified, &u.Categories, &u.Bio,
		&u.Location, &u.Latitude, &u.Longitude, &u.Embedding,
		&u.Rating, &u.RatingCount, &u.CompletedTasks, &u.Balance, &u.TotalEarnings,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *WorkerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

const candidateFilter = `role IN ('worker', 'both')
	  AND verified = TRUE
	  AND bio <> ''
	  AND cardinality(categories) > 0
	  AND id <> $1`

// FindCandidates returns verified workers with complete profiles holding the
// given category, excluding the requesting poster.
func (r *WorkerRepo) FindCandidates(ctx context.Context, category string, excludeUser uuid.UUID) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE `+candidateFilter+` AND $2 = ANY(categories)
		ORDER BY id
	`, excludeUser, category)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// FindCandidatesAnyCategory is the relaxed pool used when the category
// filter comes back empty.
func (r *WorkerRepo) FindCandidatesAnyCategory(ctx context.Context, excludeUser uuid.UUID) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE `+candidateFilter+`
		ORDER BY id
	`, excludeUser)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()
	var list []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// CreditForTask credits a completed task's budget to the worker inside the
// caller's transaction: balance and earnings grow by amount, the completed
// counter increments once.
func (r *WorkerRepo) CreditForTask(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET balance = balance + $1,
		    total_earnings = total_earnings + $1,
		    completed_tasks = completed_tasks + 1,
		    updated_at = now()
		WHERE id = $2
	`, amount, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecomputeBalance is the idempotent repair procedure: it resets the derived
// balance columns to what the completed-task history says they should be.
// Running it twice in a row yields the same result as running it once.
func (r *WorkerRepo) RecomputeBalance(ctx context.Context, workerID uuid.UUID) (int64, error) {
	var balance int64
	row := r.pool.QueryRow(ctx, `
		WITH done AS (
			SELECT COALESCE(SUM(budget), 0) AS total, COUNT(*) AS n
			FROM tasks
			WHERE assigned_to = $1 AND status = 'completed' AND payment_status = 'released'
		)
		UPDATE users
		SET balance = done.total,
		    total_earnings = done.total,
		    completed_tasks = done.n,
		    updated_at = now()
		FROM done
		WHERE users.id = $1
		RETURNING users.balance
	`, workerID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

// UpdateProfile writes the worker-profile fields set during registration.
func (r *WorkerRepo) UpdateProfile(ctx context.Context, u *models.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET categories = $2, bio = $3, location = $4, latitude = $5, longitude = $6,
		    profile_embedding = $7, updated_at = now()
		WHERE id = $1
	`, u.ID, u.Categories, u.Bio, u.Location, u.Latitude, u.Longitude, u.Embedding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
