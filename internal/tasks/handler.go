package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/common/messaging"
)

// PipelineRunner executes one pipeline run task.
type PipelineRunner interface {
	Run(ctx context.Context, task *PipelineRunTask) error
}

// NotificationExecutor executes one notification task.
type NotificationExecutor interface {
	Execute(ctx context.Context, task *NotificationTask) error
}

// Consumer subscribes to the task subjects and dispatches to the pipeline
// orchestrator and the notification engine. All workers share one queue
// group, so each task is processed by exactly one worker process.
type Consumer struct {
	subscriber messaging.Subscriber
	pipeline   PipelineRunner
	notifier   NotificationExecutor
	logger     *logging.Logger

	subs []messaging.Subscription
}

// NewConsumer creates a task consumer.
func NewConsumer(subscriber messaging.Subscriber, pipeline PipelineRunner, notifier NotificationExecutor, logger *logging.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		pipeline:   pipeline,
		notifier:   notifier,
		logger:     logger,
	}
}

// Start subscribes to both task subjects.
func (c *Consumer) Start() error {
	sub, err := c.subscriber.QueueSubscribe(
		messaging.SubjectTasksPipeline, messaging.QueueEngineWorkers, c.handlePipeline)
	if err != nil {
		return fmt.Errorf("subscribe pipeline tasks: %w", err)
	}
	c.subs = append(c.subs, sub)

	sub, err = c.subscriber.QueueSubscribe(
		messaging.SubjectTasksNotify, messaging.QueueEngineWorkers, c.handleNotify)
	if err != nil {
		return fmt.Errorf("subscribe notification tasks: %w", err)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Stop unsubscribes from all task subjects.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.WarnContext(context.Background(), "failed to unsubscribe",
				"subject", sub.Subject(), logging.Error(err))
		}
	}
	c.subs = nil
}

func (c *Consumer) handlePipeline(ctx context.Context, msg *messaging.Message) error {
	var task PipelineRunTask
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		// A malformed task can never succeed; drop it instead of retrying.
		c.logger.ErrorContext(ctx, "dropping malformed pipeline task", logging.Error(err))
		return nil
	}
	if err := c.pipeline.Run(ctx, &task); err != nil {
		c.logger.ErrorContext(ctx, "pipeline task failed",
			logging.AlertID(task.AlertID), logging.Error(err))
		return err
	}
	return nil
}

func (c *Consumer) handleNotify(ctx context.Context, msg *messaging.Message) error {
	var task NotificationTask
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed notification task", logging.Error(err))
		return nil
	}
	if err := c.notifier.Execute(ctx, &task); err != nil {
		c.logger.ErrorContext(ctx, "notification task failed",
			logging.AlertID(task.AlertID), logging.Error(err))
		return err
	}
	return nil
}
