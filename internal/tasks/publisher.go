package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetsentry-systems/fleetsentry/common/messaging"
)

// Enqueuer is the producing side of the task queue. Components that create
// work depend on this interface rather than on the broker client.
type Enqueuer interface {
	EnqueuePipelineRun(ctx context.Context, task *PipelineRunTask) error
	EnqueueNotification(ctx context.Context, task *NotificationTask) error
	PublishAlertCreated(ctx context.Context, event *AlertCreatedEvent) error
	PublishAlertUpdated(ctx context.Context, event *AlertUpdatedEvent) error
}

// Publisher publishes task and lifecycle messages to the broker.
type Publisher struct {
	client messaging.Publisher
}

// NewPublisher creates a task publisher over a messaging client.
func NewPublisher(client messaging.Publisher) *Publisher {
	return &Publisher{client: client}
}

// EnqueuePipelineRun publishes a pipeline run request.
func (p *Publisher) EnqueuePipelineRun(ctx context.Context, task *PipelineRunTask) error {
	return p.publish(ctx, messaging.SubjectTasksPipeline, task)
}

// EnqueueNotification publishes a notification execution request.
func (p *Publisher) EnqueueNotification(ctx context.Context, task *NotificationTask) error {
	return p.publish(ctx, messaging.SubjectTasksNotify, task)
}

// PublishAlertCreated publishes an alert created event.
func (p *Publisher) PublishAlertCreated(ctx context.Context, event *AlertCreatedEvent) error {
	return p.publish(ctx, messaging.SubjectAlertsCreated, event)
}

// PublishAlertUpdated publishes an alert updated event.
func (p *Publisher) PublishAlertUpdated(ctx context.Context, event *AlertUpdatedEvent) error {
	return p.publish(ctx, messaging.SubjectAlertsUpdated, event)
}

// publish marshals data to JSON and publishes to the specified subject.
func (p *Publisher) publish(ctx context.Context, subject string, data interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.client.Publish(ctx, subject, bytes)
}
