// Package api exposes the operator endpoints: manual sync triggers, queue
// introspection, deletion cascades and the activity feed.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/reelpulse/reelpulse/internal/auth"
	"github.com/reelpulse/reelpulse/internal/cleanup"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/queue"
)

// QueueService is the part of the job queue the API drives.
type QueueService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.SyncJob, bool, error)
	Tick(ctx context.Context) (queue.TickResult, error)
	Status(ctx context.Context) (queue.Status, error)
}

// CleanupService runs deletion cascades.
type CleanupService interface {
	DeleteAccount(ctx context.Context, projectID, accountID string) (cleanup.Report, error)
	RequestAccountDeletion(ctx context.Context, projectID, accountID string) (int, error)
	DeleteVideo(ctx context.Context, projectID, videoID string) (cleanup.Report, error)
	DeleteProject(ctx context.Context, projectID string) (cleanup.Report, error)
	Sweep(ctx context.Context) (cleanup.SweepResult, error)
}

// Deps wires the handlers. Health and Clock may be nil.
type Deps struct {
	Queue    QueueService
	Cleanup  CleanupService
	Activity models.ActivityLogRepository
	Auth     auth.Config
	Health   func(ctx context.Context) error
	Clock    models.Clock
	Logger   *slog.Logger
}

// SetupRoutes registers every route on mux. Everything under /api except
// login requires an operator token.
func SetupRoutes(mux *http.ServeMux, deps Deps) {
	if deps.Clock == nil {
		deps.Clock = models.RealClock{}
	}
	authHandler := NewAuthHandler(deps.Auth, deps.Clock, deps.Logger)
	queueHandler := NewQueueHandlers(deps.Queue, deps.Logger)
	deletionHandler := NewDeletionHandlers(deps.Cleanup, deps.Logger)
	activityHandler := NewActivityLogHandlers(deps.Activity, deps.Logger)

	protect := auth.Middleware(deps.Auth)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /healthz", healthHandler(deps.Health, deps.Logger))

	// Sync triggers and queue
	handle("POST /api/accounts/{accountID}/sync", queueHandler.TriggerSync)
	handle("POST /api/queue/tick", queueHandler.Tick)
	handle("GET /api/queue/status", queueHandler.Status)

	// Deletion
	handle("DELETE /api/projects/{projectID}/accounts/{accountID}", deletionHandler.DeleteAccount)
	handle("POST /api/projects/{projectID}/accounts/{accountID}/deletion", deletionHandler.RequestAccountDeletion)
	handle("DELETE /api/projects/{projectID}/videos/{videoID}", deletionHandler.DeleteVideo)
	handle("DELETE /api/projects/{projectID}", deletionHandler.DeleteProject)
	handle("POST /api/cleanup/sweep", deletionHandler.Sweep)

	handle("GET /api/activity", activityHandler.ListActivities)
}

func healthHandler(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				respondJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}
