package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fleetsentry-systems/fleetsentry/common/httputil"
	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/ingestion"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
)

// IngestEvent handles POST /api/v1/events
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.gate.Ingest(r.Context(), &req)
	if err != nil {
		var verr *ingestion.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "ingestion failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to ingest event")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

// ReplaySignal handles POST /api/v1/signals/{id}/replay
func (h *Handler) ReplaySignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	signalID := strings.TrimSuffix(
		strings.TrimPrefix(r.URL.Path, "/api/v1/signals/"), "/replay")
	if signalID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "signal id is required")
		return
	}

	result, err := h.gate.Replay(r.Context(), signalID)
	if err != nil {
		if errors.Is(err, repository.ErrSignalNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "signal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "replay failed",
			logging.SignalID(signalID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to replay signal")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}
