// Package models provides data models for the alert processing engine.
package models

import (
	"encoding/json"
	"time"
)

// AI lifecycle status constants for an Alert.
const (
	AIStatusPending       = "pending"
	AIStatusProcessing    = "processing"
	AIStatusInvestigating = "investigating"
	AIStatusCompleted     = "completed"
	AIStatusFailed        = "failed"
)

// Human review status constants.
const (
	HumanStatusPending       = "pending"
	HumanStatusReviewed      = "reviewed"
	HumanStatusFlagged       = "flagged"
	HumanStatusResolved      = "resolved"
	HumanStatusFalsePositive = "false_positive"
)

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Notification status constants for an Alert.
const (
	NotificationStatusNone      = "none"
	NotificationStatusPending   = "pending"
	NotificationStatusSent      = "sent"
	NotificationStatusPartial   = "partial"
	NotificationStatusFailed    = "failed"
	NotificationStatusThrottled = "throttled"
	NotificationStatusSkipped   = "skipped"
)

// Notification channel constants.
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelVoice    = "voice"
	ChannelEmail    = "email"
	ChannelWebhook  = "webhook"
)

// Investigation verdict constants.
const (
	VerdictConfirmed     = "confirmed"
	VerdictLikely        = "likely"
	VerdictInconclusive  = "inconclusive"
	VerdictFalsePositive = "false_positive"
)

// Signal is the immutable record of a raw safety event as received from the
// telematics platform. It is never updated after creation; the raw payload is
// preserved verbatim for audit and replay.
type Signal struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Source          string          `json:"source"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	Description     string          `json:"description,omitempty"`
	VehicleID       string          `json:"vehicle_id,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
	Severity        string          `json:"severity"`
	OccurredAt      time.Time       `json:"occurred_at"`
	ReceivedAt      time.Time       `json:"received_at"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
}

// Alert is the mutable processing unit, one-to-one with a Signal. It tracks
// the AI lifecycle; it is never deleted, only moved to a terminal status.
type Alert struct {
	ID                 string     `json:"id"`
	SignalID           string     `json:"signal_id"`
	TenantID           string     `json:"tenant_id"`
	DedupeKey          string     `json:"dedupe_key"`
	Severity           string     `json:"severity"`
	AIStatus           string     `json:"ai_status"`
	FailureReason      *string    `json:"failure_reason,omitempty"`
	InvestigationCount int        `json:"investigation_count"`
	NextCheckETA       *time.Time `json:"next_check_eta,omitempty"`
	NotificationStatus string     `json:"notification_status"`
	RiskEscalation     string     `json:"risk_escalation,omitempty"`
	NeedsAttention     bool       `json:"needs_attention"`
	ActiveRunID        *string    `json:"active_run_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the alert's AI lifecycle has ended.
func (a *Alert) IsTerminal() bool {
	return a.AIStatus == AIStatusCompleted || a.AIStatus == AIStatusFailed
}

// AIStatusLabel returns the operator-facing label for the alert's AI status.
func (a *Alert) AIStatusLabel() string {
	switch a.AIStatus {
	case AIStatusPending:
		return "Queued for assessment"
	case AIStatusProcessing:
		return "Assessment in progress"
	case AIStatusInvestigating:
		return "Under monitoring"
	case AIStatusCompleted:
		return "Assessment complete"
	case AIStatusFailed:
		return "Assessment failed"
	default:
		return a.AIStatus
	}
}

// AlertAssessment is the structured AI output of a completed pipeline run.
// Overwritten on each run; prior runs survive in the investigation history.
type AlertAssessment struct {
	AlertID            string          `json:"alert_id"`
	RunID              string          `json:"run_id"`
	AlertType          string          `json:"alert_type"`
	Verdict            string          `json:"verdict"`
	Likelihood         float64         `json:"likelihood"`
	Confidence         float64         `json:"confidence"`
	Reasoning          string          `json:"reasoning"`
	SupportingEvidence json.RawMessage `json:"supporting_evidence,omitempty"`
	RiskEscalation     string          `json:"risk_escalation"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	RequiresMonitoring bool            `json:"requires_monitoring"`
	NextCheckMinutes   int             `json:"next_check_minutes"`
	HumanMessage       string          `json:"human_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsDefinitive reports whether the assessment reached a definitive verdict.
func (a *AlertAssessment) IsDefinitive() bool {
	return a.Verdict == VerdictConfirmed || a.Verdict == VerdictFalsePositive
}

// InvestigationHistoryEntry records one monitoring cycle for an alert.
// Append-only.
type InvestigationHistoryEntry struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Reason    string    `json:"reason"`
	RunCount  int       `json:"run_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationDecision is the pure decision output of a pipeline run.
// It performs no I/O; execution is a separate component.
type NotificationDecision struct {
	AlertID         string   `json:"alert_id"`
	RunID           string   `json:"run_id"`
	ShouldNotify    bool     `json:"should_notify"`
	EscalationLevel string   `json:"escalation_level"`
	ChannelsToUse   []string `json:"channels_to_use"`
	Recipients      []string `json:"recipients"`
	MessageText     string   `json:"message_text"`
}

// NotificationExecutionResult records one attempted dispatch on one channel.
// Keyed by (dedupe_key, channel); append-only log, but a channel dispatches
// at most once per unthrottled decision within the throttle window.
type NotificationExecutionResult struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	DedupeKey string    `json:"dedupe_key"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Throttled bool      `json:"throttled"`
	CreatedAt time.Time `json:"created_at"`
}

// HumanReview is the independent audit state layered over an alert. Its
// lifecycle is owned by operators and never touched by the AI pipeline.
type HumanReview struct {
	AlertID     string    `json:"alert_id"`
	HumanStatus string    `json:"human_status"`
	Reviewer    string    `json:"reviewer,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReviewComment is an operator comment attached to an alert's review.
type ReviewComment struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// IsClosed reports whether the review has reached a human-terminal state.
// A closed review cancels any still-scheduled revalidation on wake.
func (r *HumanReview) IsClosed() bool {
	return r.HumanStatus == HumanStatusResolved || r.HumanStatus == HumanStatusFalsePositive
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ValidHumanStatus reports whether s is a known human review status.
func ValidHumanStatus(s string) bool {
	switch s {
	case HumanStatusPending, HumanStatusReviewed, HumanStatusFlagged,
		HumanStatusResolved, HumanStatusFalsePositive:
		return true
	}
	return false
}

// ValidChannel reports whether c is a supported notification channel.
func ValidChannel(c string) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelVoice, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}
