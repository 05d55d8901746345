// Package pipeline runs the multi-stage assessment pipeline for one alert.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/archive"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/lifecycle"
	"github.com/fleetsentry-systems/fleetsentry/internal/metrics"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/preload"
	"github.com/fleetsentry-systems/fleetsentry/internal/reasoning"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// Monitor schedules the next monitoring cycle for an alert that is still
// under investigation. Implemented by the revalidation scheduler.
type Monitor interface {
	ScheduleMonitoring(ctx context.Context, alert *models.Alert, assessment *models.AlertAssessment) error
}

// Orchestrator executes pipeline runs. It is safe for concurrent use; the
// per-alert in-flight guarantee comes from the repository run lock, not from
// anything in-process, so multiple orchestrator workers can race safely.
type Orchestrator struct {
	repo         repository.Repository
	provider     reasoning.Provider
	preloader    preload.Client
	enqueuer     tasks.Enqueuer
	monitor      Monitor
	archiver     archive.Archiver
	policy       config.PolicyConfig
	stageTimeout time.Duration
	logger       *logging.Logger
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(
	repo repository.Repository,
	provider reasoning.Provider,
	preloader preload.Client,
	enqueuer tasks.Enqueuer,
	monitor Monitor,
	archiver archive.Archiver,
	policy config.PolicyConfig,
	stageTimeout time.Duration,
	logger *logging.Logger,
) *Orchestrator {
	if stageTimeout == 0 {
		stageTimeout = 45 * time.Second
	}
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	return &Orchestrator{
		repo:         repo,
		provider:     provider,
		preloader:    preloader,
		enqueuer:     enqueuer,
		monitor:      monitor,
		archiver:     archiver,
		policy:       policy,
		stageTimeout: stageTimeout,
		logger:       logger,
	}
}

// Run executes one pipeline run for the task's alert. Every early return
// before the lock is acquired is a silent no-op: the task queue may deliver
// duplicates and retries, and running zero stages is always safe.
func (o *Orchestrator) Run(ctx context.Context, task *tasks.PipelineRunTask) error {
	alert, err := o.repo.GetAlert(ctx, task.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}

	if alert.IsTerminal() {
		metrics.PipelineRunsSkipped.WithLabelValues("terminal").Inc()
		o.logger.InfoContext(ctx, "skipping run for terminal alert",
			logging.AlertID(alert.ID), logging.Status(alert.AIStatus))
		return nil
	}

	if closed, err := o.reviewClosed(ctx, alert.ID); err != nil {
		return fmt.Errorf("check review: %w", err)
	} else if closed {
		metrics.PipelineRunsSkipped.WithLabelValues("review_closed").Inc()
		o.logger.InfoContext(ctx, "skipping run for human-closed alert",
			logging.AlertID(alert.ID))
		return nil
	}

	runID := uuid.Must(uuid.NewV7()).String()
	acquired, err := o.repo.AcquireRun(ctx, alert.ID, runID)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		metrics.PipelineRunsSkipped.WithLabelValues("lock_held").Inc()
		o.logger.InfoContext(ctx, "run lock held, dropping task",
			logging.AlertID(alert.ID), logging.RunID(runID))
		return nil
	}

	log := o.logger.With("alert_id", alert.ID, "run_id", runID)
	log.InfoContext(ctx, "pipeline run started",
		"reason", task.Reason, "revalidation", task.Revalidation)

	rc, err := o.buildRunContext(ctx, alert, task.Revalidation)
	if err != nil {
		return o.failRun(ctx, alert, runID, fmt.Sprintf("context assembly failed: %v", err))
	}

	if err := o.runStages(ctx, rc, task.Revalidation); err != nil {
		return o.failRun(ctx, alert, runID, err.Error())
	}

	return o.commit(ctx, alert, runID, rc, task.Revalidation)
}

// buildRunContext loads everything the stages need: the signal, the context
// bundle from the preloader, and on revalidation the prior assessment and
// the monitoring history.
func (o *Orchestrator) buildRunContext(ctx context.Context, alert *models.Alert, revalidation bool) (*RunContext, error) {
	signal, err := o.repo.GetSignal(ctx, alert.SignalID)
	if err != nil {
		return nil, fmt.Errorf("load signal: %w", err)
	}

	rc := &RunContext{
		Alert:        alert,
		Signal:       signal,
		Revalidation: revalidation,
	}

	bundle, err := o.preloader.FetchContext(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("preload context: %w", err)
	}
	rc.Preload = bundle

	if revalidation {
		prior, err := o.repo.GetAssessment(ctx, alert.ID)
		if err != nil {
			return nil, fmt.Errorf("load prior assessment: %w", err)
		}
		rc.PriorAssessment = prior

		history, err := o.repo.GetInvestigationHistory(ctx, alert.ID)
		if err != nil {
			return nil, fmt.Errorf("load investigation history: %w", err)
		}
		rc.History = history
	}
	return rc, nil
}

// runStages executes the stage chain in order, accumulating results on rc.
// A revalidation run reuses the prior run's classification instead of
// re-triaging: the alert's type does not change between monitoring cycles.
func (o *Orchestrator) runStages(ctx context.Context, rc *RunContext, revalidation bool) error {
	if revalidation && rc.PriorAssessment != nil {
		rc.Triage = &TriageResult{
			AlertType:             rc.PriorAssessment.AlertType,
			Severity:              rc.Alert.Severity,
			InvestigationStrategy: "revalidate prior assessment against current context",
		}
	} else {
		var out TriageResult
		if err := o.runStage(ctx, rc, StageTriage, &out); err != nil {
			return err
		}
		rc.Triage = &out
	}

	var inv InvestigationResult
	if err := o.runStage(ctx, rc, StageInvestigation, &inv); err != nil {
		return err
	}
	rc.Investigation = &inv

	var msg FinalMessageResult
	if err := o.runStage(ctx, rc, StageFinalMessage, &msg); err != nil {
		return err
	}
	rc.FinalMessage = &msg

	var dec DecisionResult
	if err := o.runStage(ctx, rc, StageNotificationDecision, &dec); err != nil {
		return err
	}
	rc.Decision = &dec
	return nil
}

// runStage calls the reasoning provider for one stage and validates its
// output against the stage schema. Any failure fails the whole run.
func (o *Orchestrator) runStage(ctx context.Context, rc *RunContext, stage string, out interface{}) error {
	start := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	messages, err := rc.stageMessages(stage)
	if err != nil {
		metrics.StageFailures.WithLabelValues(stage).Inc()
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	raw, err := o.provider.Complete(stageCtx, messages)
	if err != nil {
		metrics.StageFailures.WithLabelValues(stage).Inc()
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	if err := validateStageOutput(stage, raw, out); err != nil {
		metrics.StageFailures.WithLabelValues(stage).Inc()
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return nil
}

// commit persists a successful run's outputs, releases the run lock, and
// triggers any follow-up work (monitoring cycle, notification execution).
func (o *Orchestrator) commit(ctx context.Context, alert *models.Alert, runID string, rc *RunContext, revalidation bool) error {
	assessment := assessmentFromRun(alert.ID, runID, rc)

	outcome := lifecycle.DecideOutcome(assessment, alert.InvestigationCount, o.policy.MaxInvestigations)
	if err := lifecycle.Validate(models.AIStatusProcessing, outcome.Status); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	upd := repository.RunUpdate{
		RiskEscalation: rc.Investigation.RiskEscalation,
		NeedsAttention: outcome.NeedsAttention,
	}
	if outcome.Status == models.AIStatusFailed {
		upd.FailureReason = "investigation ceiling reached without definitive verdict"
	}

	ok, err := o.repo.CompleteRun(ctx, alert.ID, runID, outcome.Status, upd)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if !ok {
		// The lock was taken over (explicit reopen, operator action). This
		// run's results are stale and must not be persisted.
		metrics.PipelineRunsSkipped.WithLabelValues("stale_run").Inc()
		o.logger.WarnContext(ctx, "discarding stale run result",
			logging.AlertID(alert.ID), logging.RunID(runID))
		return nil
	}

	if err := o.repo.SaveAssessment(ctx, assessment); err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}

	decision := &models.NotificationDecision{
		AlertID:         alert.ID,
		RunID:           runID,
		ShouldNotify:    rc.Decision.ShouldNotify,
		EscalationLevel: rc.Decision.EscalationLevel,
		ChannelsToUse:   rc.Decision.ChannelsToUse,
		Recipients:      rc.Decision.Recipients,
		MessageText:     rc.Decision.MessageText,
	}
	if err := o.repo.SaveDecision(ctx, decision); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}

	metrics.PipelineRuns.WithLabelValues(outcome.Status).Inc()
	o.logger.InfoContext(ctx, "pipeline run completed",
		logging.AlertID(alert.ID), logging.RunID(runID),
		logging.Status(outcome.Status),
		"verdict", assessment.Verdict,
		"requires_monitoring", assessment.RequiresMonitoring,
		"should_notify", decision.ShouldNotify)

	if err := o.enqueuer.PublishAlertUpdated(ctx, &tasks.AlertUpdatedEvent{
		AlertID:        alert.ID,
		TenantID:       alert.TenantID,
		AIStatus:       outcome.Status,
		NeedsAttention: outcome.NeedsAttention,
		UpdatedAt:      time.Now().UTC(),
	}); err != nil {
		o.logger.WarnContext(ctx, "failed to publish alert updated event",
			logging.AlertID(alert.ID), logging.Error(err))
	}

	if lifecycle.IsTerminal(outcome.Status) {
		archived := *alert
		archived.AIStatus = outcome.Status
		if err := o.archiver.ArchiveAlert(ctx, &archived, assessment); err != nil {
			o.logger.WarnContext(ctx, "failed to archive terminal alert",
				logging.AlertID(alert.ID), logging.Error(err))
		}
	}

	if outcome.Monitor {
		if err := o.monitor.ScheduleMonitoring(ctx, alert, assessment); err != nil {
			// The scheduler marks the alert failed itself when scheduling is
			// exhausted; nothing more to do here.
			o.logger.ErrorContext(ctx, "failed to schedule monitoring cycle",
				logging.AlertID(alert.ID), logging.Error(err))
		}
	}

	if decision.ShouldNotify {
		if err := o.repo.SetNotificationStatus(ctx, alert.ID, models.NotificationStatusPending); err != nil {
			return fmt.Errorf("set notification status: %w", err)
		}
		if err := o.enqueuer.EnqueueNotification(ctx, &tasks.NotificationTask{AlertID: alert.ID}); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
	}
	return nil
}

// failRun releases the run lock into the failed status with the failure
// reason. Stage failures never leave a partial assessment behind.
func (o *Orchestrator) failRun(ctx context.Context, alert *models.Alert, runID, reason string) error {
	ok, err := o.repo.CompleteRun(ctx, alert.ID, runID, models.AIStatusFailed, repository.RunUpdate{
		FailureReason: reason,
	})
	if err != nil {
		return fmt.Errorf("complete failed run: %w", err)
	}
	if !ok {
		metrics.PipelineRunsSkipped.WithLabelValues("stale_run").Inc()
		return nil
	}

	metrics.PipelineRuns.WithLabelValues(models.AIStatusFailed).Inc()
	o.logger.ErrorContext(ctx, "pipeline run failed",
		logging.AlertID(alert.ID), logging.RunID(runID), "reason", reason)

	if err := o.enqueuer.PublishAlertUpdated(ctx, &tasks.AlertUpdatedEvent{
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		AIStatus:  models.AIStatusFailed,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		o.logger.WarnContext(ctx, "failed to publish alert updated event",
			logging.AlertID(alert.ID), logging.Error(err))
	}
	return nil
}

func (o *Orchestrator) reviewClosed(ctx context.Context, alertID string) (bool, error) {
	review, err := o.repo.GetReview(ctx, alertID)
	if err != nil {
		if err == repository.ErrReviewNotFound {
			return false, nil
		}
		return false, err
	}
	return review.IsClosed(), nil
}

func assessmentFromRun(alertID, runID string, rc *RunContext) *models.AlertAssessment {
	var evidence json.RawMessage
	if len(rc.Investigation.SupportingEvidence) > 0 {
		evidence = rc.Investigation.SupportingEvidence
	}
	return &models.AlertAssessment{
		AlertID:            alertID,
		RunID:              runID,
		AlertType:          rc.Triage.AlertType,
		Verdict:            rc.Investigation.Verdict,
		Likelihood:         rc.Investigation.Likelihood,
		Confidence:         rc.Investigation.Confidence,
		Reasoning:          rc.Investigation.Reasoning,
		SupportingEvidence: evidence,
		RiskEscalation:     rc.Investigation.RiskEscalation,
		RecommendedActions: rc.Investigation.RecommendedActions,
		RequiresMonitoring: rc.Investigation.RequiresMonitoring,
		NextCheckMinutes:   rc.Investigation.NextCheckMinutes,
		HumanMessage:       rc.FinalMessage.HumanMessage,
		CreatedAt:          time.Now().UTC(),
	}
}
