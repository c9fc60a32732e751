package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/models"
)

const defaultNotificationLimit = 50

// NotificationStore is the read side of the notification feed.
type NotificationStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

// NotificationHandler serves the authenticated user's notification feed.
type NotificationHandler struct {
	Store  NotificationStore
	Logger *slog.Logger
}

// List handles GET /v1/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())

	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := h.Store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("list notifications", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkRead handles POST /v1/notifications/{id}/read. Already-read rows are a
// no-op.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	userID := middleware.UserIDFromCtx(r.Context())
	if err := h.Store.MarkRead(r.Context(), id, userID); err != nil {
		h.Logger.Error("mark notification read", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
