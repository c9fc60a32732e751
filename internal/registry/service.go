// Package registry manages worker profiles: categories, location and the
// free-text bio whose embedding powers semantic matching.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/models"
)

// ErrInvalidCategory is returned when a profile names a category outside the
// closed enumeration.
var ErrInvalidCategory = errors.New("unknown category")

// ProfileStore persists worker profiles.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, u *models.User) error
}

// Embedder precomputes the profile embedding; failures are non-fatal and the
// profile is saved without a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	store    ProfileStore
	embedder Embedder
	logger   *slog.Logger
}

func NewService(store ProfileStore, embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, embedder: embedder, logger: logger}
}

// normalizeCategories lowercases and trims each category so matching is
// case-insensitive.
func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// UpsertProfile writes the worker-profile fields and refreshes the profile
// embedding from the bio.
func (s *Service) UpsertProfile(ctx context.Context, userID uuid.UUID, categories []string, bio, location string, lat, lng *float64) (*models.User, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.CanWork() {
		return nil, fmt.Errorf("user %s has no worker role", userID)
	}

	cats := normalizeCategories(categories)
	for _, c := range cats {
		if !models.ValidCategory(c) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, c)
		}
	}

	u.Categories = cats
	u.Bio = strings.TrimSpace(bio)
	u.Location = strings.TrimSpace(location)
	u.Latitude = lat
	u.Longitude = lng

	if s.embedder != nil && u.Bio != "" {
		vec, err := s.embedder.Embed(ctx, u.Bio)
		if err != nil {
			s.logger.Warn("profile embedding failed, saving without vector",
				"user_id", userID, "error", err)
		} else {
			u.Embedding = vec
		}
	}

	if err := s.store.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetWorker looks up a worker by id.
func (s *Service) GetWorker(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.store.GetByID(ctx, id)
}
