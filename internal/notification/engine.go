// Package notification executes notification decisions across delivery
// channels with idempotent, throttled dispatch.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/contacts"
	"github.com/fleetsentry-systems/fleetsentry/internal/metrics"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

// Engine dispatches an alert's notification decision. It reads the decision
// and the alert's notification state only; the AI lifecycle is never touched
// from here.
type Engine struct {
	repo     repository.Repository
	resolver contacts.Resolver
	channels map[string]Channel
	gate     Gate
	cfg      config.NotificationConfig
	logger   *logging.Logger
}

// NewEngine creates a notification engine with the given channel set.
func NewEngine(
	repo repository.Repository,
	resolver contacts.Resolver,
	channels []Channel,
	gate Gate,
	cfg config.NotificationConfig,
	logger *logging.Logger,
) *Engine {
	byType := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byType[ch.Type()] = ch
	}
	if gate == nil {
		gate = NoopGate{}
	}
	return &Engine{
		repo:     repo,
		resolver: resolver,
		channels: byType,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
	}
}

// channelOutcome is the terminal state of one channel's dispatch attempt.
type channelOutcome struct {
	channel   string
	sent      bool
	throttled bool
	err       error
}

// Execute runs the dispatch for one notification task. Channels are
// dispatched in parallel and fail independently: one channel's failure never
// blocks another's delivery. Re-delivery of the same task is safe because the
// per-channel reservation is a check-and-set keyed by (dedupe key, channel).
func (e *Engine) Execute(ctx context.Context, task *tasks.NotificationTask) error {
	alert, err := e.repo.GetAlert(ctx, task.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}

	decision, err := e.repo.GetDecision(ctx, task.AlertID)
	if err != nil {
		return fmt.Errorf("load decision: %w", err)
	}

	if !decision.ShouldNotify {
		return e.repo.SetNotificationStatus(ctx, alert.ID, models.NotificationStatusSkipped)
	}

	recipients, err := e.resolver.Resolve(ctx, alert.TenantID, decision.ChannelsToUse)
	if err != nil {
		e.logger.ErrorContext(ctx, "contact resolution failed",
			logging.AlertID(alert.ID), logging.Error(err))
		if serr := e.repo.SetNotificationStatus(ctx, alert.ID, models.NotificationStatusFailed); serr != nil {
			return serr
		}
		return fmt.Errorf("resolve recipients: %w", err)
	}

	byChannel := make(map[string][]contacts.Recipient)
	for _, r := range recipients {
		byChannel[r.Channel] = append(byChannel[r.Channel], r)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []channelOutcome
	)
	for _, chName := range decision.ChannelsToUse {
		chName := chName
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.dispatchChannel(ctx, alert, decision, chName, byChannel[chName])
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := aggregateStatus(outcomes)
	if err := e.repo.SetNotificationStatus(ctx, alert.ID, status); err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}

	e.logger.InfoContext(ctx, "notification dispatch finished",
		logging.AlertID(alert.ID), logging.Status(status),
		"channels", len(decision.ChannelsToUse))
	return nil
}

// dispatchChannel reserves, sends, and records the result for one channel.
func (e *Engine) dispatchChannel(ctx context.Context, alert *models.Alert, decision *models.NotificationDecision, chName string, recips []contacts.Recipient) channelOutcome {
	out := channelOutcome{channel: chName}

	ch, ok := e.channels[chName]
	if !ok {
		out.err = fmt.Errorf("no channel configured for %s", chName)
		e.record(ctx, alert, chName, "", false, false, out.err)
		return out
	}

	// Nothing to send to: fail before reserving, so the throttle window
	// stays open for a later dispatch that does have recipients.
	if len(recips) == 0 {
		out.err = fmt.Errorf("no recipients resolved for channel %s", chName)
		e.record(ctx, alert, chName, "", false, false, out.err)
		return out
	}

	// Fast path: a Redis hit means a reservation already exists somewhere,
	// so the database check can be skipped. A gate error is not a dispatch
	// error; the repository reservation below stays authoritative.
	if hit, err := e.gate.AlreadyReserved(ctx, alert.DedupeKey, chName, e.cfg.ThrottleWindow); err != nil {
		e.logger.WarnContext(ctx, "throttle gate unavailable, falling through",
			logging.AlertID(alert.ID), logging.Channel(chName), logging.Error(err))
	} else if hit {
		out.throttled = true
		metrics.NotificationsThrottled.WithLabelValues(chName).Inc()
		e.record(ctx, alert, chName, "", false, true, nil)
		return out
	}

	reserved, err := e.repo.ReserveDispatch(ctx, alert.DedupeKey, chName, e.cfg.ThrottleWindow)
	if err != nil {
		out.err = fmt.Errorf("reserve dispatch: %w", err)
		e.record(ctx, alert, chName, "", false, false, out.err)
		return out
	}
	if !reserved {
		out.throttled = true
		metrics.NotificationsThrottled.WithLabelValues(chName).Inc()
		e.logger.InfoContext(ctx, "dispatch throttled",
			logging.AlertID(alert.ID), logging.Channel(chName),
			logging.DedupeKey(alert.DedupeKey))
		e.record(ctx, alert, chName, "", false, true, nil)
		return out
	}

	if err := e.gate.MarkReserved(ctx, alert.DedupeKey, chName, e.cfg.ThrottleWindow); err != nil {
		e.logger.WarnContext(ctx, "throttle gate mark failed",
			logging.AlertID(alert.ID), logging.Channel(chName), logging.Error(err))
	}

	sentAny := false
	for _, recip := range recips {
		if err := e.sendWithRetry(ctx, ch, recip, decision.MessageText); err != nil {
			out.err = err
			metrics.NotificationsFailed.WithLabelValues(chName).Inc()
			e.record(ctx, alert, chName, recip.Address, false, false, err)
			continue
		}
		sentAny = true
		metrics.NotificationsSent.WithLabelValues(chName).Inc()
		e.record(ctx, alert, chName, recip.Address, true, false, nil)
	}
	out.sent = sentAny
	return out
}

// sendWithRetry retries transient failures a bounded number of times.
// Permanent failures return immediately.
func (e *Engine) sendWithRetry(ctx context.Context, ch Channel, recip contacts.Recipient, message string) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
		lastErr = ch.Send(sendCtx, recip, message)
		cancel()

		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		e.logger.WarnContext(ctx, "transient send failure, retrying",
			logging.Channel(ch.Type()), "attempt", attempt+1, logging.Error(lastErr))
	}
	return lastErr
}

func (e *Engine) record(ctx context.Context, alert *models.Alert, channel, recipient string, success, throttled bool, sendErr error) {
	result := &models.NotificationExecutionResult{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AlertID:   alert.ID,
		DedupeKey: alert.DedupeKey,
		Channel:   channel,
		Recipient: recipient,
		Success:   success,
		Throttled: throttled,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr != nil {
		result.Error = sendErr.Error()
	}
	if err := e.repo.RecordNotificationResult(ctx, result); err != nil {
		e.logger.ErrorContext(ctx, "failed to record notification result",
			logging.AlertID(alert.ID), logging.Channel(channel), logging.Error(err))
	}
}

// aggregateStatus folds per-channel outcomes into the alert-level
// notification status.
func aggregateStatus(outcomes []channelOutcome) string {
	if len(outcomes) == 0 {
		return models.NotificationStatusSkipped
	}

	sent, throttled, failed := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.sent:
			sent++
		case o.throttled:
			throttled++
		default:
			failed++
		}
	}

	// A throttled channel already delivered inside the window, so it never
	// degrades the aggregate on its own.
	switch {
	case sent == 0 && failed == 0:
		return models.NotificationStatusThrottled
	case failed == 0:
		return models.NotificationStatusSent
	case sent > 0 || throttled > 0:
		return models.NotificationStatusPartial
	default:
		return models.NotificationStatusFailed
	}
}
