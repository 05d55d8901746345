package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/common/messaging"
)

type fakeSubscription struct {
	subject      string
	unsubscribed bool
}

func (f *fakeSubscription) Unsubscribe() error { f.unsubscribed = true; return nil }
func (f *fakeSubscription) Subject() string    { return f.subject }
func (f *fakeSubscription) IsValid() bool      { return !f.unsubscribed }

// fakeSubscriber records handlers so tests can deliver messages directly.
type fakeSubscriber struct {
	handlers map[string]messaging.MessageHandler
	subs     []*fakeSubscription
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: map[string]messaging.MessageHandler{}}
}

func (f *fakeSubscriber) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return f.QueueSubscribe(subject, "", handler)
}

func (f *fakeSubscriber) QueueSubscribe(subject, _ string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	f.handlers[subject] = handler
	sub := &fakeSubscription{subject: subject}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) deliver(t *testing.T, subject string, data []byte) error {
	t.Helper()
	handler, ok := f.handlers[subject]
	require.True(t, ok, "no handler registered for %s", subject)
	return handler(context.Background(), &messaging.Message{Subject: subject, Data: data})
}

type fakeRunner struct {
	tasks []*PipelineRunTask
	err   error
}

func (f *fakeRunner) Run(_ context.Context, task *PipelineRunTask) error {
	f.tasks = append(f.tasks, task)
	return f.err
}

type fakeExecutor struct {
	tasks []*NotificationTask
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, task *NotificationTask) error {
	f.tasks = append(f.tasks, task)
	return f.err
}

func TestConsumerDispatchesPipelineTask(t *testing.T) {
	sub := newFakeSubscriber()
	runner := &fakeRunner{}
	consumer := NewConsumer(sub, runner, &fakeExecutor{}, logging.Default())
	require.NoError(t, consumer.Start())

	data, _ := json.Marshal(&PipelineRunTask{AlertID: "alert-1", Reason: "event ingested"})
	require.NoError(t, sub.deliver(t, messaging.SubjectTasksPipeline, data))

	require.Len(t, runner.tasks, 1)
	assert.Equal(t, "alert-1", runner.tasks[0].AlertID)
}

func TestConsumerDispatchesNotificationTask(t *testing.T) {
	sub := newFakeSubscriber()
	executor := &fakeExecutor{}
	consumer := NewConsumer(sub, &fakeRunner{}, executor, logging.Default())
	require.NoError(t, consumer.Start())

	data, _ := json.Marshal(&NotificationTask{AlertID: "alert-1"})
	require.NoError(t, sub.deliver(t, messaging.SubjectTasksNotify, data))

	require.Len(t, executor.tasks, 1)
	assert.Equal(t, "alert-1", executor.tasks[0].AlertID)
}

func TestConsumerDropsMalformedTask(t *testing.T) {
	sub := newFakeSubscriber()
	runner := &fakeRunner{}
	consumer := NewConsumer(sub, runner, &fakeExecutor{}, logging.Default())
	require.NoError(t, consumer.Start())

	// Malformed tasks can never succeed; the handler must not signal retry.
	err := sub.deliver(t, messaging.SubjectTasksPipeline, []byte("{broken"))
	assert.NoError(t, err)
	assert.Empty(t, runner.tasks)
}

func TestConsumerPropagatesProcessingError(t *testing.T) {
	sub := newFakeSubscriber()
	runner := &fakeRunner{err: errors.New("repository unavailable")}
	consumer := NewConsumer(sub, runner, &fakeExecutor{}, logging.Default())
	require.NoError(t, consumer.Start())

	data, _ := json.Marshal(&PipelineRunTask{AlertID: "alert-1"})
	err := sub.deliver(t, messaging.SubjectTasksPipeline, data)
	assert.Error(t, err)
}

func TestConsumerStopUnsubscribes(t *testing.T) {
	sub := newFakeSubscriber()
	consumer := NewConsumer(sub, &fakeRunner{}, &fakeExecutor{}, logging.Default())
	require.NoError(t, consumer.Start())
	require.Len(t, sub.subs, 2)

	consumer.Stop()
	for _, s := range sub.subs {
		assert.True(t, s.unsubscribed)
	}
}
