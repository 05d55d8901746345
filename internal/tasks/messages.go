// Package tasks defines the engine's task queue messages and publisher.
package tasks

import "time"

// PipelineRunTask requests one assessment pipeline run for an alert.
// Published at ingestion, on revalidation wake, and on manual re-trigger.
type PipelineRunTask struct {
	AlertID      string `json:"alert_id"`
	Reason       string `json:"reason"`
	Revalidation bool   `json:"revalidation"`
}

// NotificationTask requests execution of an alert's notification decision.
type NotificationTask struct {
	AlertID string `json:"alert_id"`
}

// AlertCreatedEvent is published to engine.alerts.created when ingestion
// creates a new alert.
type AlertCreatedEvent struct {
	AlertID   string    `json:"alert_id"`
	SignalID  string    `json:"signal_id"`
	TenantID  string    `json:"tenant_id"`
	Severity  string    `json:"severity"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertUpdatedEvent is published to engine.alerts.updated when the AI
// lifecycle status of an alert changes.
type AlertUpdatedEvent struct {
	AlertID        string    `json:"alert_id"`
	TenantID       string    `json:"tenant_id"`
	AIStatus       string    `json:"ai_status"`
	NeedsAttention bool      `json:"needs_attention"`
	UpdatedAt      time.Time `json:"updated_at"`
}
