package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/ledger"
	"github.com/kerjalink/backend/internal/lifecycle"
	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/models"
	"github.com/kerjalink/backend/internal/repository"
	"github.com/kerjalink/backend/internal/services"
)

// TaskStore is the task repository slice the handler needs directly.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	Patch(ctx context.Context, id uuid.UUID, p models.TaskPatch) error
	Delete(ctx context.Context, id, posterID uuid.UUID) error
	ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error)
	ListOpen(ctx context.Context, category string, limit int) ([]*models.Task, error)
}

// Lifecycle drives confirm/cancel/report and lazy-advancing reads.
type Lifecycle interface {
	Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	Confirm(ctx context.Context, taskID, posterID uuid.UUID, pickedWorker *uuid.UUID) (*models.Task, error)
	Cancel(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error)
	Report(ctx context.Context, taskID, reporterID uuid.UUID, reason string) (*models.Task, error)
}

// Ledger is the applicant/offer ledger.
type Ledger interface {
	Apply(ctx context.Context, taskID, workerID uuid.UUID, message string) (*models.Applicant, error)
	AcceptApplicant(ctx context.Context, taskID, posterID, workerID uuid.UUID) error
	OfferToWorker(ctx context.Context, taskID, posterID, workerID uuid.UUID) error
	AcceptOffer(ctx context.Context, taskID, workerID uuid.UUID) error
	RejectOffer(ctx context.Context, taskID, workerID uuid.UUID, reason string) error
	List(ctx context.Context, taskID uuid.UUID) ([]*models.Applicant, error)
}

// Escrow is the completion coordinator.
type Escrow interface {
	MarkWorkerCompleted(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error)
	ConfirmCompletion(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error)
	RepairBalance(ctx context.Context, workerID uuid.UUID) (int64, error)
}

// MatchEngine ranks candidate workers for a task.
type MatchEngine interface {
	Match(ctx context.Context, task *models.Task, limit int) ([]services.Score, error)
}

// TaskHandler serves the /v1/tasks endpoints.
type TaskHandler struct {
	Tasks     TaskStore
	Lifecycle Lifecycle
	Ledger    Ledger
	Escrow    Escrow
	Matcher   MatchEngine
	Validator *services.Validator
	Logger    *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the error taxonomy onto HTTP statuses: validation
// 422, authorization 403, conflicts 409, not-found 404, the rest 500.
func (h *TaskHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrWorkerRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrNotTaskOwner),
		errors.Is(err, services.ErrNotTaskOwner),
		errors.Is(err, services.ErrNotAssignedWorker),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, ledger.ErrNotYourOffer),
		errors.Is(err, ledger.ErrSelfApplication):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrAlreadyApplied),
		errors.Is(err, ledger.ErrAlreadyAssigned),
		errors.Is(err, ledger.ErrTaskNotOpen),
		errors.Is(err, ledger.ErrApplicantNotFound),
		errors.Is(err, ledger.ErrInvalidStatusForRejection),
		errors.Is(err, ledger.ErrWrongTrack),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrTaskNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.Logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

// --- POST /v1/tasks ---

type createTaskRequest struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	Location     string     `json:"location"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Budget       int64      `json:"budget"`
	PricingType  string     `json:"pricing_type"`
	SearchMethod string     `json:"search_method"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	Draft        bool       `json:"draft"`
}

// CreateTask validates the payload, persists the task as a draft, and
// publishes it immediately unless the caller asked for a draft.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	posterID := middleware.UserIDFromCtx(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.Validator.ValidateCreateTask(body); err != nil {
		h.writeServiceError(w, err)
		return
	}

	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	task := &models.Task{
		ID:           uuid.New(),
		PosterID:     posterID,
		Category:     req.Category,
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Budget:       req.Budget,
		PricingType:  req.PricingType,
		SearchMethod: req.SearchMethod,
		Status:       models.TaskStatusDraft,
		StartDate:    req.StartDate,
		Payment:      models.NewPayment(req.Budget),
	}
	if err := h.Tasks.Create(r.Context(), task); err != nil {
		h.Logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	if !req.Draft {
		task, err = h.Lifecycle.Confirm(r.Context(), task.ID, posterID, nil)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, task)
}

// --- GET /v1/tasks/{id} ---

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- GET /v1/tasks ---

func (h *TaskHandler) ListMyTasks(w http.ResponseWriter, r *http.Request) {
	posterID := middleware.UserIDFromCtx(r.Context())
	tasks, err := h.Tasks.ListByPoster(r.Context(), posterID)
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- GET /v1/tasks/open ---

// BrowseOpenTasks lists publication-track tasks open for applications,
// optionally filtered by category.
func (h *TaskHandler) BrowseOpenTasks(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category != "" && !models.ValidCategory(category) {
		writeError(w, http.StatusUnprocessableEntity, "unknown category")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	tasks, err := h.Tasks.ListOpen(r.Context(), category, limit)
	if err != nil {
		h.Logger.Error("browse open tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- PATCH /v1/tasks/{id} ---

// patchTaskRequest distinguishes "absent" from "explicitly null" for the
// nullable fields by inspecting raw JSON presence.
type patchTaskRequest struct {
	Category    *string    `json:"category"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Budget      *int64     `json:"budget"`
	PricingType *string    `json:"pricing_type"`
	StartDate   *time.Time `json:"start_date"`
}

func (h *TaskHandler) PatchTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())

	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if task.PosterID != posterID {
		writeError(w, http.StatusForbidden, "only the task poster may edit")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, ok := raw["search_method"]; ok {
		writeError(w, http.StatusConflict, "search_method is immutable after creation")
		return
	}
	if _, ok := raw["status"]; ok {
		writeError(w, http.StatusConflict, "status moves only through lifecycle transitions")
		return
	}

	var req patchTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Category != nil && !models.ValidCategory(*req.Category) {
		writeError(w, http.StatusUnprocessableEntity, "unknown category")
		return
	}
	if req.Budget != nil && *req.Budget < models.MinimumTaskBudget {
		writeError(w, http.StatusUnprocessableEntity, "budget below platform minimum")
		return
	}
	if req.PricingType != nil && !models.ValidPricingType(*req.PricingType) {
		writeError(w, http.StatusUnprocessableEntity, "unknown pricing type")
		return
	}

	patch := models.TaskPatch{
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Budget:      req.Budget,
		PricingType: req.PricingType,
		StartDate:   req.StartDate,
	}
	if v, ok := raw["start_date"]; ok && string(v) == "null" {
		patch.ClearStartDate = true
	}
	if v, ok := raw["latitude"]; ok && string(v) == "null" {
		patch.ClearCoordinates = true
	}

	if err := h.Tasks.Patch(r.Context(), taskID, patch); err != nil {
		h.writeServiceError(w, err)
		return
	}
	task, err = h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- DELETE /v1/tasks/{id} ---

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())
	if err := h.Tasks.Delete(r.Context(), taskID, posterID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/tasks/{id}/confirm ---

type confirmRequest struct {
	WorkerID *uuid.UUID `json:"worker_id,omitempty"`
}

func (h *TaskHandler) ConfirmTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())

	var req confirmRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	task, err := h.Lifecycle.Confirm(r.Context(), taskID, posterID, req.WorkerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/{id}/apply ---

type applyRequest struct {
	Message string `json:"message"`
}

func (h *TaskHandler) Apply(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	workerID := middleware.UserIDFromCtx(r.Context())

	var req applyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	a, err := h.Ledger.Apply(r.Context(), taskID, workerID, req.Message)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// --- GET /v1/tasks/{id}/applicants ---

func (h *TaskHandler) ListApplicants(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())
	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if task.PosterID != posterID {
		writeError(w, http.StatusForbidden, "only the task poster may list applicants")
		return
	}
	list, err := h.Ledger.List(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- POST /v1/tasks/{id}/applicants/{workerID}/accept ---

func (h *TaskHandler) AcceptApplicant(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	workerID, ok := pathUUID(r, "workerID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid worker id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())

	if err := h.Ledger.AcceptApplicant(r.Context(), taskID, posterID, workerID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/{id}/offer ---

type offerRequest struct {
	WorkerID uuid.UUID `json:"worker_id"`
}

func (h *TaskHandler) OfferToWorker(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	if err := h.Ledger.OfferToWorker(r.Context(), taskID, posterID, req.WorkerID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/tasks/{id}/offer/accept ---

func (h *TaskHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	workerID := middleware.UserIDFromCtx(r.Context())
	if err := h.Ledger.AcceptOffer(r.Context(), taskID, workerID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/tasks/{id}/offer/reject ---

type rejectOfferRequest struct {
	Reason string `json:"reason"`
}

func (h *TaskHandler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	workerID := middleware.UserIDFromCtx(r.Context())

	var req rejectOfferRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if err := h.Ledger.RejectOffer(r.Context(), taskID, workerID, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/tasks/{id}/complete ---

// Complete routes to the caller's side of the dual-confirmation flow: the
// poster confirms completion (releasing escrow), the assigned worker marks
// their side done.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	callerID := middleware.UserIDFromCtx(r.Context())

	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if task.PosterID == callerID {
		task, err = h.Escrow.ConfirmCompletion(r.Context(), taskID, callerID)
	} else {
		task, err = h.Escrow.MarkWorkerCompleted(r.Context(), taskID, callerID)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/{id}/cancel ---

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())
	task, err := h.Lifecycle.Cancel(r.Context(), taskID, posterID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/{id}/report ---

type reportRequest struct {
	Reason string `json:"reason"`
}

func (h *TaskHandler) Report(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	reporterID := middleware.UserIDFromCtx(r.Context())

	var req reportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	task, err := h.Lifecycle.Report(r.Context(), taskID, reporterID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- GET /v1/tasks/{id}/matches ---

func (h *TaskHandler) Matches(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	posterID := middleware.UserIDFromCtx(r.Context())

	task, err := h.Lifecycle.Get(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if task.PosterID != posterID {
		writeError(w, http.StatusForbidden, "only the task poster may request matches")
		return
	}

	limit := services.DefaultMatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	scores, err := h.Matcher.Match(r.Context(), task, limit)
	if err != nil {
		h.Logger.Error("match", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "matching failed")
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

// --- POST /v1/workers/{id}/repair-balance ---

// RepairBalance triggers the idempotent balance reconciliation for a worker.
func (h *TaskHandler) RepairBalance(w http.ResponseWriter, r *http.Request) {
	workerID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid worker id")
		return
	}
	callerID := middleware.UserIDFromCtx(r.Context())
	if callerID != workerID {
		writeError(w, http.StatusForbidden, "workers may only repair their own balance")
		return
	}
	balance, err := h.Escrow.RepairBalance(r.Context(), workerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}
