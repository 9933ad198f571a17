package httpx

import (
	"net/http"
	"time"

	"github.com/scoutline/scout-api/internal/service"
)

// AdminHandlers provides role-gated operational endpoints over the run manager.
type AdminHandlers struct {
	Manager *service.RunManagerService
}

type recoverRunsRequest struct {
	TimeoutMinutes int `json:"timeout_minutes,omitempty"`
}

// RecoverRuns handles POST /api/admin/runs/recover. An optional
// timeout_minutes overrides the configured staleness threshold.
func (h *AdminHandlers) RecoverRuns(w http.ResponseWriter, r *http.Request) {
	var req recoverRunsRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	report, err := h.Manager.RecoverStuckRuns(r.Context(), time.Duration(req.TimeoutMinutes)*time.Minute)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// CheckTimeouts handles POST /api/admin/runs/check-timeouts: a recovery sweep
// with the configured threshold, reporting only the touched count.
func (h *AdminHandlers) CheckTimeouts(w http.ResponseWriter, r *http.Request) {
	recovered, err := h.Manager.CheckTimeouts(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int64{"recovered": recovered})
}

type cleanupRunsRequest struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
}

// CleanupRuns handles POST /api/admin/runs/cleanup. An optional
// older_than_days overrides the configured retention window.
func (h *AdminHandlers) CleanupRuns(w http.ResponseWriter, r *http.Request) {
	var req cleanupRunsRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	deleted, err := h.Manager.CleanupOlderThan(r.Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// HealthSummary handles GET /api/admin/runs/health.
func (h *AdminHandlers) HealthSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Manager.Summary(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// RunHealth handles GET /api/admin/runs/{id}/health.
func (h *AdminHandlers) RunHealth(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(parseIntQuery(r, "timeout_minutes", 0)) * time.Minute

	health, err := h.Manager.GetHealth(r.Context(), r.PathValue("id"), timeout)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, health)
}

// ResumeRun handles POST /api/admin/runs/{id}/resume. Responds 204 when
// nothing remained and the run completed in place.
func (h *AdminHandlers) ResumeRun(w http.ResponseWriter, r *http.Request) {
	job, err := h.Manager.ResumeRun(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

type failRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FailRun handles POST /api/admin/runs/{id}/fail.
func (h *AdminHandlers) FailRun(w http.ResponseWriter, r *http.Request) {
	var req failRunRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	run, err := h.Manager.FailRun(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, run)
}
