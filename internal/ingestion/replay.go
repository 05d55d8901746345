package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// Replay re-submits a stored signal's raw payload as a fresh event. The new
// signal carries a replay-suffixed provider event id so the dedupe gate does
// not swallow it, and the original record is left untouched.
func (g *Gate) Replay(ctx context.Context, signalID string) (*models.IngestResult, error) {
	original, err := g.repo.GetSignal(ctx, signalID)
	if err != nil {
		return nil, err
	}

	replayID := fmt.Sprintf("%s+replay-%s", original.ProviderEventID,
		uuid.Must(uuid.NewV7()).String()[:8])
	dedupeKey := DedupeKey(original.Source, replayID)

	now := time.Now().UTC()
	signal := &models.Signal{
		ID:              uuid.Must(uuid.NewV7()).String(),
		TenantID:        original.TenantID,
		Source:          original.Source,
		ProviderEventID: replayID,
		EventType:       original.EventType,
		Description:     original.Description,
		VehicleID:       original.VehicleID,
		DriverID:        original.DriverID,
		Severity:        original.Severity,
		OccurredAt:      original.OccurredAt,
		ReceivedAt:      now,
		RawPayload:      original.RawPayload,
	}
	alert := &models.Alert{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		SignalID:           signal.ID,
		TenantID:           original.TenantID,
		DedupeKey:          dedupeKey,
		Severity:           original.Severity,
		AIStatus:           models.AIStatusPending,
		NotificationStatus: models.NotificationStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := g.repo.CreateSignalAndAlert(ctx, signal, alert); err != nil {
		return nil, fmt.Errorf("create replayed signal: %w", err)
	}

	g.logger.InfoContext(ctx, "signal replayed",
		logging.TenantID(original.TenantID), logging.SignalID(signalID),
		logging.AlertID(alert.ID))

	if err := g.enqueuer.EnqueuePipelineRun(ctx, &tasks.PipelineRunTask{
		AlertID: alert.ID,
		Reason:  "signal replay",
	}); err != nil {
		return nil, fmt.Errorf("enqueue pipeline run: %w", err)
	}

	return &models.IngestResult{
		AlertID:   alert.ID,
		SignalID:  signal.ID,
		DedupeKey: dedupeKey,
	}, nil
}
