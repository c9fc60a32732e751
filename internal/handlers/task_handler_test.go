package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/ledger"
	"github.com/kerjalink/backend/internal/lifecycle"
	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/models"
	"github.com/kerjalink/backend/internal/repository"
	"github.com/kerjalink/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockTasks struct {
	tasks   map[uuid.UUID]*models.Task
	patched []models.TaskPatch
}

func newMockTasks(ts ...*models.Task) *mockTasks {
	m := &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range ts {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockTasks) Create(_ context.Context, t *models.Task) error {
	m.tasks[t.ID] = t
	return nil
}

func (m *mockTasks) Patch(_ context.Context, id uuid.UUID, p models.TaskPatch) error {
	if _, ok := m.tasks[id]; !ok {
		return repository.ErrTaskNotFound
	}
	m.patched = append(m.patched, p)
	return nil
}

func (m *mockTasks) Delete(_ context.Context, id, posterID uuid.UUID) error {
	t, ok := m.tasks[id]
	if !ok || t.PosterID != posterID {
		return repository.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockTasks) ListByPoster(_ context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.PosterID == posterID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTasks) ListOpen(_ context.Context, category string, limit int) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusOpen && t.SearchMethod == models.SearchMethodPublication &&
			(category == "" || t.Category == category) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

// mockLifecycle serves Get from the same map and records Confirm calls.
type mockLifecycle struct {
	tasks     *mockTasks
	confirmed []uuid.UUID
}

func (m *mockLifecycle) Get(_ context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks.tasks[taskID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	return t, nil
}

func (m *mockLifecycle) Confirm(_ context.Context, taskID, posterID uuid.UUID, _ *uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks.tasks[taskID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	if t.PosterID != posterID {
		return nil, services.ErrNotTaskOwner
	}
	if t.Status != models.TaskStatusDraft {
		return nil, lifecycle.ErrInvalidTransition
	}
	t.Status = models.TaskStatusOpen
	t.Payment.Status = models.PaymentStatusHeld
	m.confirmed = append(m.confirmed, taskID)
	return t, nil
}

func (m *mockLifecycle) Cancel(_ context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	t, err := m.Get(context.Background(), taskID)
	if err != nil {
		return nil, err
	}
	if t.PosterID != posterID {
		return nil, services.ErrNotTaskOwner
	}
	t.Status = models.TaskStatusCancelled
	return t, nil
}

func (m *mockLifecycle) Report(_ context.Context, taskID, _ uuid.UUID, _ string) (*models.Task, error) {
	t, err := m.Get(context.Background(), taskID)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatusDisputed
	return t, nil
}

type mockLedger struct {
	applyErr error
	applied  []uuid.UUID
}

func (m *mockLedger) Apply(_ context.Context, taskID, workerID uuid.UUID, message string) (*models.Applicant, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	m.applied = append(m.applied, workerID)
	return &models.Applicant{TaskID: taskID, WorkerID: workerID, Status: models.ApplicantStatusPending, Message: message}, nil
}
func (m *mockLedger) AcceptApplicant(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}
func (m *mockLedger) OfferToWorker(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }
func (m *mockLedger) AcceptOffer(context.Context, uuid.UUID, uuid.UUID) error              { return nil }
func (m *mockLedger) RejectOffer(context.Context, uuid.UUID, uuid.UUID, string) error      { return nil }
func (m *mockLedger) List(context.Context, uuid.UUID) ([]*models.Applicant, error)         { return nil, nil }

type mockEscrow struct {
	workerCompleted []uuid.UUID
	posterConfirmed []uuid.UUID
	tasks           *mockTasks
}

func (m *mockEscrow) MarkWorkerCompleted(_ context.Context, taskID, workerID uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks.tasks[taskID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	if t.AssignedTo == nil || *t.AssignedTo != workerID {
		return nil, services.ErrNotAssignedWorker
	}
	m.workerCompleted = append(m.workerCompleted, workerID)
	t.Status = models.TaskStatusCompletedWorker
	return t, nil
}

func (m *mockEscrow) ConfirmCompletion(_ context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks.tasks[taskID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	m.posterConfirmed = append(m.posterConfirmed, posterID)
	t.Status = models.TaskStatusCompleted
	return t, nil
}

func (m *mockEscrow) RepairBalance(context.Context, uuid.UUID) (int64, error) { return 0, nil }

type mockMatcher struct{ scores []services.Score }

func (m *mockMatcher) Match(context.Context, *models.Task, int) ([]services.Score, error) {
	return m.scores, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newHandler(tasks *mockTasks) (*TaskHandler, *mockLifecycle, *mockLedger, *mockEscrow) {
	lc := &mockLifecycle{tasks: tasks}
	lg := &mockLedger{}
	es := &mockEscrow{tasks: tasks}
	v, err := services.NewValidator()
	if err != nil {
		panic(err)
	}
	h := &TaskHandler{
		Tasks:     tasks,
		Lifecycle: lc,
		Ledger:    lg,
		Escrow:    es,
		Matcher:   &mockMatcher{},
		Validator: v,
		Logger:    slog.Default(),
	}
	return h, lc, lg, es
}

func doRequest(h http.HandlerFunc, method, path, body string, userID uuid.UUID, pathValues map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.ContentLength = int64(len(body))
	}
	req = req.WithContext(middleware.WithUser(req.Context(), userID, models.RoleBoth))
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// CreateTask
// ---------------------------------------------------------------------------

func TestCreateTaskPublishesByDefault(t *testing.T) {
	poster := uuid.New()
	tasks := newMockTasks()
	h, lc, _, _ := newHandler(tasks)

	body := `{
		"title": "Perbaiki atap bocor",
		"description": "Atap dapur bocor saat hujan deras.",
		"category": "renovasi",
		"budget": 200000,
		"pricing_type": "fixed",
		"search_method": "publication"
	}`
	rec := doRequest(h.CreateTask, http.MethodPost, "/v1/tasks", body, poster, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != models.TaskStatusOpen {
		t.Errorf("status = %q, want open (published on create)", got.Status)
	}
	if got.PosterID != poster {
		t.Error("poster should come from the auth context")
	}
	if len(lc.confirmed) != 1 {
		t.Error("create without draft flag should confirm immediately")
	}
}

func TestCreateTaskDraftStaysDraft(t *testing.T) {
	poster := uuid.New()
	tasks := newMockTasks()
	h, lc, _, _ := newHandler(tasks)

	body := `{
		"title": "Perbaiki atap bocor",
		"description": "Atap dapur bocor saat hujan deras.",
		"category": "renovasi",
		"budget": 200000,
		"pricing_type": "fixed",
		"search_method": "publication",
		"draft": true
	}`
	rec := doRequest(h.CreateTask, http.MethodPost, "/v1/tasks", body, poster, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got models.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != models.TaskStatusDraft {
		t.Errorf("status = %q, want draft", got.Status)
	}
	if len(lc.confirmed) != 0 {
		t.Error("draft create must not confirm")
	}
}

func TestCreateTaskSchemaViolation(t *testing.T) {
	h, _, _, _ := newHandler(newMockTasks())
	body := `{"title": "x", "category": "sulap"}`
	rec := doRequest(h.CreateTask, http.MethodPost, "/v1/tasks", body, uuid.New(), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestGetTaskNotFound(t *testing.T) {
	h, _, _, _ := newHandler(newMockTasks())
	rec := doRequest(h.GetTask, http.MethodGet, "/v1/tasks/x", "", uuid.New(),
		map[string]string{"id": uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestApplyConflictMapping(t *testing.T) {
	poster := uuid.New()
	task := &models.Task{ID: uuid.New(), PosterID: poster, Status: models.TaskStatusOpen}
	tasks := newMockTasks(task)
	h, _, lg, _ := newHandler(tasks)
	lg.applyErr = ledger.ErrAlreadyApplied

	rec := doRequest(h.Apply, http.MethodPost, "/v1/tasks/x/apply", `{"message":"hai"}`,
		uuid.New(), map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusConflict {
		t.Errorf("AlreadyApplied should map to 409, got %d", rec.Code)
	}

	lg.applyErr = ledger.ErrSelfApplication
	rec = doRequest(h.Apply, http.MethodPost, "/v1/tasks/x/apply", `{"message":"hai"}`,
		poster, map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusForbidden {
		t.Errorf("SelfApplication should map to 403, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// PatchTask
// ---------------------------------------------------------------------------

func TestPatchTaskImmutableFields(t *testing.T) {
	poster := uuid.New()
	task := &models.Task{ID: uuid.New(), PosterID: poster, Status: models.TaskStatusDraft}
	tasks := newMockTasks(task)
	h, _, _, _ := newHandler(tasks)

	for _, body := range []string{
		`{"search_method": "publication"}`,
		`{"status": "completed"}`,
	} {
		rec := doRequest(h.PatchTask, http.MethodPatch, "/v1/tasks/x", body, poster,
			map[string]string{"id": task.ID.String()})
		if rec.Code != http.StatusConflict {
			t.Errorf("patch %s: status = %d, want 409", body, rec.Code)
		}
	}
	if len(tasks.patched) != 0 {
		t.Error("immutable-field patches must not reach the repository")
	}
}

func TestPatchTaskNullClearsStartDate(t *testing.T) {
	poster := uuid.New()
	start := time.Now().Add(24 * time.Hour)
	task := &models.Task{ID: uuid.New(), PosterID: poster, Status: models.TaskStatusDraft, StartDate: &start}
	tasks := newMockTasks(task)
	h, _, _, _ := newHandler(tasks)

	rec := doRequest(h.PatchTask, http.MethodPatch, "/v1/tasks/x",
		`{"title": "Judul baru", "start_date": null}`, poster,
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(tasks.patched) != 1 {
		t.Fatalf("got %d patches, want 1", len(tasks.patched))
	}
	p := tasks.patched[0]
	if !p.ClearStartDate {
		t.Error("explicit null must set ClearStartDate")
	}
	if p.Title == nil || *p.Title != "Judul baru" {
		t.Error("provided title should be patched")
	}
	if p.StartDate != nil {
		t.Error("cleared start date must not also carry a value")
	}
}

func TestPatchTaskAbsentFieldsUntouched(t *testing.T) {
	poster := uuid.New()
	task := &models.Task{ID: uuid.New(), PosterID: poster, Status: models.TaskStatusDraft}
	tasks := newMockTasks(task)
	h, _, _, _ := newHandler(tasks)

	rec := doRequest(h.PatchTask, http.MethodPatch, "/v1/tasks/x",
		fmt.Sprintf(`{"budget": %d}`, models.MinimumTaskBudget), poster,
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	p := tasks.patched[0]
	if p.ClearStartDate || p.ClearCoordinates {
		t.Error("absent fields must not be cleared")
	}
	if p.Title != nil || p.Description != nil || p.Category != nil {
		t.Error("absent fields must stay nil in the patch")
	}
	if p.Budget == nil || *p.Budget != models.MinimumTaskBudget {
		t.Error("budget should be patched")
	}
}

func TestPatchTaskBudgetFloor(t *testing.T) {
	poster := uuid.New()
	task := &models.Task{ID: uuid.New(), PosterID: poster, Status: models.TaskStatusDraft}
	h, _, _, _ := newHandler(newMockTasks(task))

	rec := doRequest(h.PatchTask, http.MethodPatch, "/v1/tasks/x",
		fmt.Sprintf(`{"budget": %d}`, models.MinimumTaskBudget-1), poster,
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("below-minimum budget patch: status = %d, want 422", rec.Code)
	}
}

func TestPatchTaskOwnerOnly(t *testing.T) {
	task := &models.Task{ID: uuid.New(), PosterID: uuid.New(), Status: models.TaskStatusDraft}
	h, _, _, _ := newHandler(newMockTasks(task))

	rec := doRequest(h.PatchTask, http.MethodPatch, "/v1/tasks/x",
		`{"title": "Coba ubah"}`, uuid.New(),
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner patch: status = %d, want 403", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Complete routes by caller identity
// ---------------------------------------------------------------------------

func TestCompleteRoutesByCaller(t *testing.T) {
	poster := uuid.New()
	workerID := uuid.New()
	task := &models.Task{
		ID: uuid.New(), PosterID: poster, Status: models.TaskStatusActive,
		AssignedTo: &workerID,
	}
	tasks := newMockTasks(task)
	h, _, _, es := newHandler(tasks)

	// The worker's call marks the worker side.
	rec := doRequest(h.Complete, http.MethodPost, "/v1/tasks/x/complete", "", workerID,
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("worker complete: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(es.workerCompleted) != 1 || len(es.posterConfirmed) != 0 {
		t.Error("worker call should hit MarkWorkerCompleted only")
	}

	// The poster's call confirms.
	rec = doRequest(h.Complete, http.MethodPost, "/v1/tasks/x/complete", "", poster,
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("poster complete: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(es.posterConfirmed) != 1 {
		t.Error("poster call should hit ConfirmCompletion")
	}

	// A stranger is neither.
	rec = doRequest(h.Complete, http.MethodPost, "/v1/tasks/x/complete", "", uuid.New(),
		map[string]string{"id": task.ID.String()})
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger complete: status = %d, want 403", rec.Code)
	}
}
