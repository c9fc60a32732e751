package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RolePoster = "poster"
	RoleWorker = "worker"
	RoleBoth   = "both"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`

	// Worker profile.
	Categories []string  `json:"categories,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Location   string    `json:"location,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Embedding  []float32 `json:"-"`

	// Reputation and earnings. Balance and TotalEarnings are derived from
	// completed tasks and reconciled by the escrow repair procedure; task
	// status is the source of truth.
	Rating         float64 `json:"rating"`
	RatingCount    int     `json:"rating_count"`
	CompletedTasks int     `json:"completed_tasks"`
	Balance        int64   `json:"balance"`
	TotalEarnings  int64   `json:"total_earnings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanWork reports whether the user may take tasks as a worker.
func (u *User) CanWork() bool {
	return u.Role == RoleWorker || u.Role == RoleBoth
}

// HasCompleteProfile reports whether the worker profile is filled in enough
// to surface in matching results.
func (u *User) HasCompleteProfile() bool {
	return u.Bio != "" && len(u.Categories) > 0
}
