// Package ingestion accepts raw safety events, deduplicates them, and
// creates the signal/alert pair that enters the pipeline.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/metrics"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// ValidationError describes a rejected event. The field name is included so
// callers can surface it without parsing the message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Message)
}

// Gate is the ingestion entry point: validation, deduplication, and creation
// of the signal/alert pair with exactly one pipeline run enqueued per new
// alert.
type Gate struct {
	repo     repository.Repository
	enqueuer tasks.Enqueuer
	policy   config.PolicyConfig
	logger   *logging.Logger
}

func NewGate(repo repository.Repository, enqueuer tasks.Enqueuer, policy config.PolicyConfig, logger *logging.Logger) *Gate {
	return &Gate{repo: repo, enqueuer: enqueuer, policy: policy, logger: logger}
}

// DedupeKey derives the tenant-scoped idempotency key for an event. Two
// submissions of the same provider event for the same tenant always collide.
func DedupeKey(source, providerEventID string) string {
	return source + ":" + providerEventID
}

// Ingest processes one raw event. Duplicates are a silent no-op unless the
// duplicate-reopen policy applies to a terminal alert.
func (g *Gate) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	if err := validate(req); err != nil {
		metrics.EventsRejected.WithLabelValues(err.Field).Inc()
		return nil, err
	}

	dedupeKey := DedupeKey(req.Source, req.ProviderEventID)

	existing, err := g.repo.GetAlertByDedupeKey(ctx, req.TenantID, dedupeKey)
	if err == nil {
		return g.handleDuplicate(ctx, existing, dedupeKey)
	}
	if !errors.Is(err, repository.ErrAlertNotFound) {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	now := time.Now().UTC()
	signal := &models.Signal{
		ID:              uuid.Must(uuid.NewV7()).String(),
		TenantID:        req.TenantID,
		Source:          req.Source,
		ProviderEventID: req.ProviderEventID,
		EventType:       req.EventType,
		Description:     req.Description,
		VehicleID:       req.VehicleID,
		DriverID:        req.DriverID,
		Severity:        req.Severity,
		OccurredAt:      req.OccurredAt.UTC(),
		ReceivedAt:      now,
		RawPayload:      req.RawPayload,
	}
	alert := &models.Alert{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		SignalID:           signal.ID,
		TenantID:           req.TenantID,
		DedupeKey:          dedupeKey,
		Severity:           req.Severity,
		AIStatus:           models.AIStatusPending,
		NotificationStatus: models.NotificationStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := g.repo.CreateSignalAndAlert(ctx, signal, alert); err != nil {
		if errors.Is(err, repository.ErrDuplicateSignal) {
			// Lost a create race with a concurrent submission of the same
			// event. The winner's alert is the canonical one.
			winner, lookupErr := g.repo.GetAlertByDedupeKey(ctx, req.TenantID, dedupeKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup after create race: %w", lookupErr)
			}
			return g.handleDuplicate(ctx, winner, dedupeKey)
		}
		return nil, fmt.Errorf("create signal and alert: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(req.TenantID, req.EventType).Inc()
	g.logger.InfoContext(ctx, "event accepted",
		logging.TenantID(req.TenantID), logging.AlertID(alert.ID),
		logging.SignalID(signal.ID), logging.DedupeKey(dedupeKey),
		logging.Severity(req.Severity), "event_type", req.EventType)

	if err := g.enqueuer.EnqueuePipelineRun(ctx, &tasks.PipelineRunTask{
		AlertID: alert.ID,
		Reason:  "event ingested",
	}); err != nil {
		return nil, fmt.Errorf("enqueue pipeline run: %w", err)
	}

	if err := g.enqueuer.PublishAlertCreated(ctx, &tasks.AlertCreatedEvent{
		AlertID:   alert.ID,
		SignalID:  signal.ID,
		TenantID:  req.TenantID,
		Severity:  req.Severity,
		EventType: req.EventType,
		CreatedAt: now,
	}); err != nil {
		g.logger.WarnContext(ctx, "failed to publish alert created event",
			logging.AlertID(alert.ID), logging.Error(err))
	}

	return &models.IngestResult{
		AlertID:   alert.ID,
		SignalID:  signal.ID,
		DedupeKey: dedupeKey,
	}, nil
}

func (g *Gate) handleDuplicate(ctx context.Context, alert *models.Alert, dedupeKey string) (*models.IngestResult, error) {
	metrics.EventsDeduplicated.WithLabelValues(alert.TenantID).Inc()

	result := &models.IngestResult{
		AlertID:   alert.ID,
		SignalID:  alert.SignalID,
		DedupeKey: dedupeKey,
		Duplicate: true,
	}

	// A pending alert with no active run is stalled: its create committed
	// but the pipeline task was never enqueued. The duplicate submission
	// repairs it; a redundant task is harmless because the run lock admits
	// only one run.
	if alert.AIStatus == models.AIStatusPending && alert.ActiveRunID == nil {
		if err := g.enqueuer.EnqueuePipelineRun(ctx, &tasks.PipelineRunTask{
			AlertID: alert.ID,
			Reason:  "duplicate event re-enqueued stalled alert",
		}); err != nil {
			return nil, fmt.Errorf("enqueue pipeline run: %w", err)
		}
		g.logger.InfoContext(ctx, "stalled pending alert re-enqueued",
			logging.TenantID(alert.TenantID), logging.AlertID(alert.ID),
			logging.DedupeKey(dedupeKey))
		return result, nil
	}

	if !g.policy.ReopenOnDuplicate || !alert.IsTerminal() {
		g.logger.InfoContext(ctx, "duplicate event dropped",
			logging.TenantID(alert.TenantID), logging.AlertID(alert.ID),
			logging.DedupeKey(dedupeKey))
		return result, nil
	}

	if err := g.repo.ReopenAlert(ctx, alert.ID); err != nil {
		if errors.Is(err, repository.ErrNotReopenable) {
			// The alert left its terminal status between the check and the
			// reopen; a run is active again, nothing to do.
			return result, nil
		}
		return nil, fmt.Errorf("reopen alert: %w", err)
	}

	if err := g.enqueuer.EnqueuePipelineRun(ctx, &tasks.PipelineRunTask{
		AlertID: alert.ID,
		Reason:  "duplicate event reopened terminal alert",
	}); err != nil {
		return nil, fmt.Errorf("enqueue pipeline run: %w", err)
	}

	result.Reopened = true
	g.logger.InfoContext(ctx, "terminal alert reopened by duplicate event",
		logging.TenantID(alert.TenantID), logging.AlertID(alert.ID))
	return result, nil
}

func validate(req *models.IngestRequest) *ValidationError {
	switch {
	case req.TenantID == "":
		return &ValidationError{Field: "tenant_id", Message: "is required"}
	case req.Source == "":
		return &ValidationError{Field: "source", Message: "is required"}
	case req.ProviderEventID == "":
		return &ValidationError{Field: "provider_event_id", Message: "is required"}
	case req.EventType == "":
		return &ValidationError{Field: "event_type", Message: "is required"}
	case !models.ValidSeverity(req.Severity):
		return &ValidationError{Field: "severity", Message: "is not a known level"}
	case req.OccurredAt.IsZero():
		return &ValidationError{Field: "occurred_at", Message: "is required"}
	}
	return nil
}
