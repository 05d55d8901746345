// Package scheduler manages fire-at-ETA revalidation timers for alerts under
// monitoring. Timers are armed in-process and backed by the persisted
// next_check_eta, so a restart restores them instead of losing them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/metrics"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// Scheduler arms one timer per alert under monitoring and enqueues a
// revalidation pipeline run when it fires. There is no polling loop.
type Scheduler struct {
	repo     repository.Repository
	enqueuer tasks.Enqueuer
	policy   config.PolicyConfig
	logger   *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Call Start before scheduling.
func New(repo repository.Repository, enqueuer tasks.Enqueuer, policy config.PolicyConfig, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		enqueuer: enqueuer,
		policy:   policy,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start establishes the base context for timer callbacks.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels all armed timers and waits for in-flight callbacks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for id, t := range s.timers {
		// Stop returning true means the callback will never run, so its
		// WaitGroup slot must be released here.
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ScheduleMonitoring records the next monitoring cycle for an alert and arms
// its timer. The persisted ETA claim is a check-and-set, so scheduling the
// same alert twice is a no-op: the first claim wins and the second caller
// backs off without arming anything.
func (s *Scheduler) ScheduleMonitoring(ctx context.Context, alert *models.Alert, assessment *models.AlertAssessment) error {
	minutes := s.policy.ClampCheckMinutes(assessment.NextCheckMinutes)
	eta := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)

	claimed, err := s.repo.ClaimRevalidation(ctx, alert.ID, eta)
	if err != nil {
		return fmt.Errorf("claim revalidation: %w", err)
	}
	if !claimed {
		s.logger.InfoContext(ctx, "revalidation already scheduled",
			logging.AlertID(alert.ID))
		return nil
	}

	count, err := s.repo.IncrementInvestigationCount(ctx, alert.ID)
	if err != nil {
		s.unclaim(ctx, alert.ID)
		return fmt.Errorf("increment investigation count: %w", err)
	}

	entry := &models.InvestigationHistoryEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AlertID:   alert.ID,
		Reason:    assessment.Reasoning,
		RunCount:  count,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendInvestigationHistory(ctx, entry); err != nil {
		s.unclaim(ctx, alert.ID)
		return fmt.Errorf("append investigation history: %w", err)
	}

	s.arm(alert.ID, eta)
	metrics.RevalidationsScheduled.Inc()
	s.logger.InfoContext(ctx, "monitoring cycle scheduled",
		logging.AlertID(alert.ID), "eta", eta, "cycle", count)
	return nil
}

// Restore re-arms timers for all alerts with a persisted ETA. Called once at
// startup. ETAs already in the past fire immediately.
func (s *Scheduler) Restore(ctx context.Context) error {
	alerts, err := s.repo.ListScheduledRevalidations(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled revalidations: %w", err)
	}

	for _, alert := range alerts {
		if alert.NextCheckETA == nil {
			continue
		}
		s.arm(alert.ID, *alert.NextCheckETA)
	}

	s.logger.InfoContext(ctx, "revalidation timers restored", "count", len(alerts))
	return nil
}

func (s *Scheduler) arm(alertID string, eta time.Time) {
	delay := time.Until(eta)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[alertID]; ok && prev.Stop() {
		s.wg.Done()
	}
	// Accounted before arming so Stop never misses an in-flight callback
	s.wg.Add(1)
	s.timers[alertID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.fire(alertID)
	})
}

// fire runs when a timer elapses. The alert's state is re-checked at wake
// time: a terminal alert or a human-closed review cancels the cycle instead
// of enqueueing a run.
func (s *Scheduler) fire(alertID string) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	delete(s.timers, alertID)
	s.mu.Unlock()

	alert, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		s.logger.ErrorContext(ctx, "revalidation wake failed to load alert",
			logging.AlertID(alertID), logging.Error(err))
		return
	}

	if alert.IsTerminal() {
		s.cancelCycle(ctx, alertID, "terminal")
		return
	}
	if closed, err := s.reviewClosed(ctx, alertID); err != nil {
		s.logger.ErrorContext(ctx, "revalidation wake failed to load review",
			logging.AlertID(alertID), logging.Error(err))
		return
	} else if closed {
		s.cancelCycle(ctx, alertID, "review_closed")
		return
	}

	if err := s.repo.ClearRevalidation(ctx, alertID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear revalidation eta",
			logging.AlertID(alertID), logging.Error(err))
		return
	}

	if err := s.enqueueWithRetry(ctx, alertID); err != nil {
		s.failAlert(ctx, alertID, fmt.Sprintf("revalidation enqueue failed: %v", err))
		return
	}
	metrics.RevalidationsFired.Inc()
}

// unclaim releases a claimed ETA when a later scheduling step fails, so the
// claim does not sit in the database with no armed timer behind it.
func (s *Scheduler) unclaim(ctx context.Context, alertID string) {
	if err := s.repo.ClearRevalidation(ctx, alertID); err != nil {
		s.logger.ErrorContext(ctx, "failed to release revalidation claim",
			logging.AlertID(alertID), logging.Error(err))
	}
}

func (s *Scheduler) cancelCycle(ctx context.Context, alertID, reason string) {
	if err := s.repo.ClearRevalidation(ctx, alertID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear cancelled revalidation",
			logging.AlertID(alertID), logging.Error(err))
		return
	}
	metrics.RevalidationsCancelled.WithLabelValues(reason).Inc()
	s.logger.InfoContext(ctx, "revalidation cancelled at wake",
		logging.AlertID(alertID), "reason", reason)
}

// enqueueWithRetry retries a bounded number of times with doubling backoff.
func (s *Scheduler) enqueueWithRetry(ctx context.Context, alertID string) error {
	task := &tasks.PipelineRunTask{
		AlertID:      alertID,
		Reason:       "scheduled revalidation",
		Revalidation: true,
	}

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= s.policy.ScheduleRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = s.enqueuer.EnqueuePipelineRun(ctx, task); lastErr == nil {
			return nil
		}
		s.logger.WarnContext(ctx, "revalidation enqueue attempt failed",
			logging.AlertID(alertID), "attempt", attempt+1, logging.Error(lastErr))
	}
	return lastErr
}

// failAlert moves an alert to failed when its revalidation cannot be
// enqueued. The run lock path is used so a racing pipeline run wins cleanly:
// if the lock cannot be taken, a run is already in flight and the alert does
// not need failing.
func (s *Scheduler) failAlert(ctx context.Context, alertID, reason string) {
	runID := uuid.Must(uuid.NewV7()).String()
	acquired, err := s.repo.AcquireRun(ctx, alertID, runID)
	if err != nil || !acquired {
		s.logger.ErrorContext(ctx, "could not mark alert failed after enqueue exhaustion",
			logging.AlertID(alertID), logging.Error(err))
		return
	}
	if _, err := s.repo.CompleteRun(ctx, alertID, runID, models.AIStatusFailed, repository.RunUpdate{
		FailureReason:  reason,
		NeedsAttention: true,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record scheduling failure",
			logging.AlertID(alertID), logging.Error(err))
		return
	}
	s.logger.ErrorContext(ctx, "alert failed after revalidation enqueue exhaustion",
		logging.AlertID(alertID), "reason", reason)
}

func (s *Scheduler) reviewClosed(ctx context.Context, alertID string) (bool, error) {
	review, err := s.repo.GetReview(ctx, alertID)
	if err != nil {
		if err == repository.ErrReviewNotFound {
			return false, nil
		}
		return false, err
	}
	return review.IsClosed(), nil
}
