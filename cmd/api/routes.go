package main

import (
	"log/slog"
	"net/http"

	"github.com/kerjalink/backend/internal/handlers"
	"github.com/kerjalink/backend/internal/ledger"
	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/registry"
	"github.com/kerjalink/backend/internal/repository"
	"github.com/kerjalink/backend/internal/services"
)

// RegisterV1Routes adds the /v1/ marketplace endpoints to the given mux.
// Middleware chain: AuthRequired -> (MinBudget on POST /v1/tasks only) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	taskRepo *repository.TaskRepo,
	notificationRepo *repository.NotificationRepo,
	ledgerSvc *ledger.Service,
	lifecycleSvc *services.TaskLifecycle,
	escrowSvc *services.EscrowService,
	matcher *services.Matcher,
	registryHandler *registry.Handler,
	validator *services.Validator,
	authMW func(http.Handler) http.Handler,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{
		Tasks:     taskRepo,
		Lifecycle: lifecycleSvc,
		Ledger:    ledgerSvc,
		Escrow:    escrowSvc,
		Matcher:   matcher,
		Validator: validator,
		Logger:    logger,
	}
	nh := &handlers.NotificationHandler{Store: notificationRepo, Logger: logger}

	budget := middleware.MinBudget()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMW(h))
	}

	mux.Handle("POST /v1/tasks", authMW(budget(http.HandlerFunc(th.CreateTask))))
	handle("GET /v1/tasks", th.ListMyTasks)
	handle("GET /v1/tasks/open", th.BrowseOpenTasks)
	handle("GET /v1/tasks/{id}", th.GetTask)
	handle("PATCH /v1/tasks/{id}", th.PatchTask)
	handle("DELETE /v1/tasks/{id}", th.DeleteTask)

	handle("POST /v1/tasks/{id}/confirm", th.ConfirmTask)
	handle("POST /v1/tasks/{id}/cancel", th.Cancel)
	handle("POST /v1/tasks/{id}/report", th.Report)
	handle("POST /v1/tasks/{id}/complete", th.Complete)

	handle("POST /v1/tasks/{id}/apply", th.Apply)
	handle("GET /v1/tasks/{id}/applicants", th.ListApplicants)
	handle("POST /v1/tasks/{id}/applicants/{workerID}/accept", th.AcceptApplicant)

	handle("POST /v1/tasks/{id}/offer", th.OfferToWorker)
	handle("POST /v1/tasks/{id}/offer/accept", th.AcceptOffer)
	handle("POST /v1/tasks/{id}/offer/reject", th.RejectOffer)

	handle("GET /v1/tasks/{id}/matches", th.Matches)

	handle("PUT /v1/workers/profile", registryHandler.UpsertProfile)
	handle("GET /v1/workers/{id}", registryHandler.GetWorker)
	handle("POST /v1/workers/{id}/repair-balance", th.RepairBalance)

	handle("GET /v1/notifications", nh.List)
	handle("POST /v1/notifications/{id}/read", nh.MarkRead)
}
