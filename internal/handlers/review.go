package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fleetsentry-systems/fleetsentry/common/httputil"
	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
)

// SetReview handles PUT /api/v1/alerts/{id}/review
func (h *Handler) SetReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alertID := strings.TrimSuffix(
		strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/review")

	var req models.SetReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rev, err := h.reviews.SetStatus(r.Context(), alertID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "alert not found")
			return
		}
		if !models.ValidHumanStatus(req.HumanStatus) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "set review failed",
			logging.AlertID(alertID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update review")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rev)
}

// Comments handles GET and POST /api/v1/alerts/{id}/comments
func (h *Handler) Comments(w http.ResponseWriter, r *http.Request) {
	alertID := strings.TrimSuffix(
		strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/comments")

	switch r.Method {
	case http.MethodGet:
		comments, err := h.reviews.Comments(r.Context(), alertID)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list comments failed",
				logging.AlertID(alertID), logging.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list comments")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"comments": comments})

	case http.MethodPost:
		var req models.AddCommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		comment, err := h.reviews.AddComment(r.Context(), alertID, &req)
		if err != nil {
			if errors.Is(err, repository.ErrAlertNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "alert not found")
				return
			}
			if req.Body == "" {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.ErrorContext(r.Context(), "add comment failed",
				logging.AlertID(alertID), logging.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "failed to add comment")
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, comment)

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
