package httpx

import (
	"log/slog"
	"net/http"

	"github.com/scoutline/scout-api/internal/ports"
	"github.com/scoutline/scout-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Runs     *service.RunService
	Status   *service.StatusService
	Jobs     *service.JobService
	Manager  *service.RunManagerService
	Sessions ports.SessionStore
	Logger   *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	runHandlers := &RunHandlers{Runs: services.Runs, Status: services.Status}
	jobHandlers := &JobHandlers{Svc: services.Jobs}
	adminHandlers := &AdminHandlers{Manager: services.Manager}

	authed := RequireSession(services.Sessions)
	admin := RequireAdmin(services.Sessions)

	mux.Handle("POST /api/runs", authed(http.HandlerFunc(runHandlers.Create)))
	mux.Handle("GET /api/runs/{id}", authed(http.HandlerFunc(runHandlers.Get)))
	mux.Handle("GET /api/runs/{id}/results", authed(http.HandlerFunc(runHandlers.ListResults)))
	mux.Handle("GET /api/runs/{id}/stats", authed(http.HandlerFunc(runHandlers.GetStats)))
	mux.Handle("POST /api/runs/{id}/cancel", authed(http.HandlerFunc(runHandlers.Cancel)))

	mux.Handle("GET /api/jobs", authed(http.HandlerFunc(jobHandlers.List)))
	mux.Handle("GET /api/jobs/{id}", authed(http.HandlerFunc(jobHandlers.Get)))
	mux.Handle("GET /api/jobs/{id}/progress", authed(http.HandlerFunc(jobHandlers.GetProgress)))
	mux.Handle("POST /api/jobs/{id}/cancel", authed(http.HandlerFunc(jobHandlers.Cancel)))

	mux.Handle("POST /api/admin/runs/recover", admin(http.HandlerFunc(adminHandlers.RecoverRuns)))
	mux.Handle("POST /api/admin/runs/check-timeouts", admin(http.HandlerFunc(adminHandlers.CheckTimeouts)))
	mux.Handle("POST /api/admin/runs/cleanup", admin(http.HandlerFunc(adminHandlers.CleanupRuns)))
	mux.Handle("GET /api/admin/runs/health", admin(http.HandlerFunc(adminHandlers.HealthSummary)))
	mux.Handle("GET /api/admin/runs/{id}/health", admin(http.HandlerFunc(adminHandlers.RunHealth)))
	mux.Handle("POST /api/admin/runs/{id}/resume", admin(http.HandlerFunc(adminHandlers.ResumeRun)))
	mux.Handle("POST /api/admin/runs/{id}/fail", admin(http.HandlerFunc(adminHandlers.FailRun)))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}
