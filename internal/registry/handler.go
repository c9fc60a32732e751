package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/repository"
)

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type upsertProfileRequest struct {
	Categories []string `json:"categories"`
	Bio        string   `json:"bio"`
	Location   string   `json:"location"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// UpsertProfile handles PUT /v1/workers/profile for the authenticated user.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())

	var req upsertProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	u, err := h.svc.UpsertProfile(r.Context(), userID, req.Categories, req.Bio, req.Location, req.Latitude, req.Longitude)
	if err != nil {
		if errors.Is(err, ErrInvalidCategory) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("upsert profile", "user_id", userID, "error", err)
		http.Error(w, `{"error":"failed to update profile"}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	// matchable tells the worker whether the profile is complete enough to
	// appear in matching results.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"profile":   u,
		"matchable": u.HasCompleteProfile(),
	})
}

// GetWorker handles GET /v1/workers/{id}. Balance and earnings stay private
// to the worker, so the response is a projection, not the full user row.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid worker id"}`, http.StatusBadRequest)
		return
	}

	u, err := h.svc.GetWorker(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, `{"error":"worker not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("get worker", "worker_id", id, "error", err)
		http.Error(w, `{"error":"failed to load worker"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":              u.ID,
		"name":            u.Name,
		"verified":        u.Verified,
		"categories":      u.Categories,
		"bio":             u.Bio,
		"location":        u.Location,
		"rating":          u.Rating,
		"rating_count":    u.RatingCount,
		"completed_tasks": u.CompletedTasks,
	})
}
