// Package server provides HTTP server setup for the engine.
package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetsentry-systems/fleetsentry/common/middleware"
	"github.com/fleetsentry-systems/fleetsentry/internal/handlers"
)

// NewRouter constructs a ServeMux with engine API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health and observability
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.HandleFunc("/readyz", h.ReadyCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Ingestion
	mux.HandleFunc("/api/v1/events", h.IngestEvent)
	mux.HandleFunc("/api/v1/signals/", signalRouteHandler(h))

	// Alerts
	mux.HandleFunc("/api/v1/alerts", h.ListAlerts)
	mux.HandleFunc("/api/v1/alerts/", alertRouteHandler(h))

	return middleware.RequestID(mux)
}

// signalRouteHandler routes /api/v1/signals/{id}/* requests
func signalRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/replay"):
			h.ReplaySignal(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

// alertRouteHandler routes /api/v1/alerts/{id}/* requests
func alertRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, "/review"):
			h.SetReview(w, r)
		case strings.HasSuffix(path, "/comments"):
			h.Comments(w, r)
		case strings.HasSuffix(path, "/retrigger"):
			h.RetriggerAlert(w, r)
		default:
			// Handle /api/v1/alerts/{id} directly
			h.GetAlert(w, r)
		}
	}
}
