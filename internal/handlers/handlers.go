// Package handlers provides HTTP handlers for the engine API.
package handlers

import (
	"net/http"

	"github.com/fleetsentry-systems/fleetsentry/common/httputil"
	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/ingestion"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/review"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// Handler bundles the engine API endpoints.
type Handler struct {
	gate     *ingestion.Gate
	repo     repository.Repository
	reviews  *review.Service
	enqueuer tasks.Enqueuer
	logger   *logging.Logger
}

// New creates the API handler.
func New(gate *ingestion.Gate, repo repository.Repository, reviews *review.Service, enqueuer tasks.Enqueuer, logger *logging.Logger) *Handler {
	return &Handler{
		gate:     gate,
		repo:     repo,
		reviews:  reviews,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Service: "engine",
	})
}

// ReadyCheck handles GET /readyz. Readiness requires the repository.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, models.HealthResponse{
			Status:  "unavailable",
			Service: "engine",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ready",
		Service: "engine",
	})
}
