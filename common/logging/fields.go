package logging

import "log/slog"

// Common field names for consistent logging across engine components.
const (
	FieldService   = "service"
	FieldTenantID  = "tenant_id"
	FieldAlertID   = "alert_id"
	FieldSignalID  = "signal_id"
	FieldRunID     = "run_id"
	FieldDedupeKey = "dedupe_key"
	FieldStage     = "stage"
	FieldChannel   = "channel"
	FieldSeverity  = "severity"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// TenantID returns a slog attribute for the tenant ID.
func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

// AlertID returns a slog attribute for the alert ID.
func AlertID(id string) slog.Attr {
	return slog.String(FieldAlertID, id)
}

// SignalID returns a slog attribute for the signal ID.
func SignalID(id string) slog.Attr {
	return slog.String(FieldSignalID, id)
}

// RunID returns a slog attribute for a pipeline run ID.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// DedupeKey returns a slog attribute for a dedupe key.
func DedupeKey(key string) slog.Attr {
	return slog.String(FieldDedupeKey, key)
}

// Stage returns a slog attribute for a pipeline stage name.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Channel returns a slog attribute for a notification channel.
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

// Severity returns a slog attribute for an alert severity.
func Severity(s string) slog.Attr {
	return slog.String(FieldSeverity, s)
}

// Status returns a slog attribute for a lifecycle status.
func Status(s string) slog.Attr {
	return slog.String(FieldStatus, s)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
