package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetsentry-systems/fleetsentry/common/httputil"
	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/review"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// alertDetail is the full API view of one alert: the AI results, the human
// overlay, and the notification record, assembled from the repository.
type alertDetail struct {
	Alert         *models.Alert                         `json:"alert"`
	StatusLabel   string                                `json:"status_label"`
	Urgency       string                                `json:"urgency"`
	Assessment    *models.AlertAssessment               `json:"assessment,omitempty"`
	Decision      *models.NotificationDecision          `json:"decision,omitempty"`
	Review        *models.HumanReview                   `json:"review,omitempty"`
	History       []*models.InvestigationHistoryEntry   `json:"history,omitempty"`
	Notifications []*models.NotificationExecutionResult `json:"notifications,omitempty"`
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := httputil.ParsePagination(r, 50, 500)
	req := &models.ListAlertsRequest{
		Page:     page.Page,
		Limit:    page.Limit,
		TenantID: r.URL.Query().Get("tenant_id"),
		AIStatus: r.URL.Query().Get("ai_status"),
		Severity: r.URL.Query().Get("severity"),
	}

	if v := r.URL.Query().Get("needs_attention"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid needs_attention value")
			return
		}
		req.NeedsAttention = &b
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		req.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		req.To = &t
	}

	alerts, total, err := h.repo.ListAlerts(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list alerts failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	totalPages := (total + req.Limit - 1) / req.Limit
	httputil.WriteJSON(w, http.StatusOK, models.ListAlertsResponse{
		Alerts: alerts,
		Pagination: models.Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// GetAlert handles GET /api/v1/alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alertID := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	alert, err := h.repo.GetAlert(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get alert failed",
			logging.AlertID(alertID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}

	detail := &alertDetail{
		Alert:       alert,
		StatusLabel: alert.AIStatusLabel(),
	}

	shouldNotify := false
	if assessment, err := h.repo.GetAssessment(r.Context(), alertID); err == nil {
		detail.Assessment = assessment
	}
	if decision, err := h.repo.GetDecision(r.Context(), alertID); err == nil {
		detail.Decision = decision
		shouldNotify = decision.ShouldNotify
	}
	if rev, err := h.repo.GetReview(r.Context(), alertID); err == nil {
		detail.Review = rev
	}
	if history, err := h.repo.GetInvestigationHistory(r.Context(), alertID); err == nil {
		detail.History = history
	}
	if results, err := h.repo.ListNotificationResults(r.Context(), alertID); err == nil {
		detail.Notifications = results
	}

	detail.Urgency = review.Urgency(alert.Severity, alert.RiskEscalation, alert.AIStatus, shouldNotify)
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// RetriggerAlert handles POST /api/v1/alerts/{id}/retrigger. It reopens a
// terminal alert and enqueues a fresh pipeline run.
func (h *Handler) RetriggerAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alertID := strings.TrimSuffix(
		strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/retrigger")

	if err := h.repo.ReopenAlert(r.Context(), alertID); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlertNotFound):
			httputil.WriteError(w, http.StatusNotFound, "alert not found")
		case errors.Is(err, repository.ErrNotReopenable):
			httputil.WriteError(w, http.StatusConflict, "alert is not in a terminal status")
		default:
			h.logger.ErrorContext(r.Context(), "retrigger failed",
				logging.AlertID(alertID), logging.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "failed to retrigger alert")
		}
		return
	}

	if err := h.enqueuer.EnqueuePipelineRun(r.Context(), &tasks.PipelineRunTask{
		AlertID: alertID,
		Reason:  "manual retrigger",
	}); err != nil {
		h.logger.ErrorContext(r.Context(), "retrigger enqueue failed",
			logging.AlertID(alertID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to enqueue pipeline run")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"alert_id": alertID,
		"status":   models.AIStatusPending,
	})
}
