package models

import (
	"encoding/json"
	"time"
)

// IngestRequest is the API request for submitting a raw safety event.
type IngestRequest struct {
	TenantID        string          `json:"tenant_id"`
	Source          string          `json:"source"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	Description     string          `json:"description,omitempty"`
	VehicleID       string          `json:"vehicle_id,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
	Severity        string          `json:"severity"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
}

// IngestResult reports the outcome of an ingestion attempt.
type IngestResult struct {
	AlertID   string `json:"alert_id"`
	SignalID  string `json:"signal_id"`
	DedupeKey string `json:"dedupe_key"`
	Duplicate bool   `json:"duplicate"`
	Reopened  bool   `json:"reopened"`
}

// ListAlertsRequest contains filters for listing alerts.
type ListAlertsRequest struct {
	Page           int
	Limit          int
	TenantID       string
	AIStatus       string
	Severity       string
	NeedsAttention *bool
	From           *time.Time
	To             *time.Time
}

// ListAlertsResponse contains paginated alert results.
type ListAlertsResponse struct {
	Alerts     []*Alert   `json:"alerts"`
	Pagination Pagination `json:"pagination"`
}

// SetReviewRequest updates the human review status of an alert.
type SetReviewRequest struct {
	HumanStatus string `json:"human_status"`
	Reviewer    string `json:"reviewer"`
}

// AddCommentRequest attaches a review comment to an alert.
type AddCommentRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
