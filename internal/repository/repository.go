// Package repository provides persistence for signals, alerts, and
// notification state.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

var (
	ErrAlertNotFound  = errors.New("alert not found")
	ErrSignalNotFound = errors.New("signal not found")
	ErrReviewNotFound = errors.New("human review not found")

	// ErrDuplicateSignal is returned when a signal with the same tenant-scoped
	// dedupe key already exists.
	ErrDuplicateSignal = errors.New("duplicate signal for dedupe key")

	// ErrNotReopenable is returned when a reopen is requested for an alert
	// that is not in a terminal AI status.
	ErrNotReopenable = errors.New("alert is not in a terminal status")
)

// RunUpdate carries the fields written when a pipeline run releases the
// in-flight lock.
type RunUpdate struct {
	RiskEscalation string
	FailureReason  string
	NeedsAttention bool
}

// Repository defines the interface for engine persistence.
//
// The in-flight run lock and the notification dispatch reservation are
// check-and-set operations against the store, not in-process mutexes:
// workers are independent processes.
type Repository interface {
	// Signal and alert creation (one transaction; no partial records)
	CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	GetAlertByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*models.Alert, error)
	ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, int, error)

	// In-flight run lock. AcquireRun atomically moves the alert from
	// pending/investigating to processing and records the run id; it returns
	// false when another run already holds the lock or the alert is terminal.
	// CompleteRun releases the lock only for the run that holds it; a stale
	// run observes false and must discard its result.
	AcquireRun(ctx context.Context, alertID, runID string) (bool, error)
	CompleteRun(ctx context.Context, alertID, runID, newStatus string, upd RunUpdate) (bool, error)

	// Revalidation scheduling. ClaimRevalidation is a check-and-set: it only
	// succeeds when no ETA is currently recorded, making duplicate schedule
	// requests no-ops. ClearRevalidation removes the ETA when the task fires.
	ClaimRevalidation(ctx context.Context, alertID string, eta time.Time) (bool, error)
	ClearRevalidation(ctx context.Context, alertID string) error
	ListScheduledRevalidations(ctx context.Context) ([]*models.Alert, error)
	IncrementInvestigationCount(ctx context.Context, alertID string) (int, error)
	AppendInvestigationHistory(ctx context.Context, entry *models.InvestigationHistoryEntry) error
	GetInvestigationHistory(ctx context.Context, alertID string) ([]*models.InvestigationHistoryEntry, error)

	// Assessment and decision (latest run overwrites; history preserved above)
	SaveAssessment(ctx context.Context, a *models.AlertAssessment) error
	GetAssessment(ctx context.Context, alertID string) (*models.AlertAssessment, error)
	SaveDecision(ctx context.Context, d *models.NotificationDecision) error
	GetDecision(ctx context.Context, alertID string) (*models.NotificationDecision, error)

	// Notification dispatch. ReserveDispatch is the atomic throttle
	// check-and-set for (dedupeKey, channel): it returns true when the caller
	// won the reservation and may dispatch, false when a dispatch within the
	// throttle window already exists.
	ReserveDispatch(ctx context.Context, dedupeKey, channel string, window time.Duration) (bool, error)
	RecordNotificationResult(ctx context.Context, r *models.NotificationExecutionResult) error
	ListNotificationResults(ctx context.Context, alertID string) ([]*models.NotificationExecutionResult, error)
	SetNotificationStatus(ctx context.Context, alertID, status string) error

	// Human review overlay (independent lifecycle; never the AI pipeline's)
	GetReview(ctx context.Context, alertID string) (*models.HumanReview, error)
	UpsertReview(ctx context.Context, review *models.HumanReview) error
	AddReviewComment(ctx context.Context, comment *models.ReviewComment) error
	ListReviewComments(ctx context.Context, alertID string) ([]*models.ReviewComment, error)

	// Explicit reopening of a terminal alert (policy-gated, never automatic)
	ReopenAlert(ctx context.Context, alertID string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
