package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/reasoning"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

const (
	triageJSON = `{"alert_type": "harsh_braking", "severity": "high",
		"investigation_strategy": "check speed and camera context"}`
	finalMessageJSON = `{"human_message": "Hard braking verified for vehicle 12."}`
	decisionJSON     = `{"should_notify": true, "escalation_level": "urgent",
		"channels_to_use": ["sms"], "recipients": ["fleet-manager"],
		"message_text": "Hard braking event for vehicle 12."}`
	decisionQuietJSON = `{"should_notify": false, "escalation_level": "none",
		"channels_to_use": [], "recipients": [], "message_text": ""}`
)

func investigationJSON(verdict string, monitoring bool, nextMinutes int) string {
	return fmt.Sprintf(`{"verdict": %q, "likelihood": 0.85, "confidence": 0.9,
		"reasoning": "speed profile matches a hard stop",
		"risk_escalation": "elevated", "requires_monitoring": %t,
		"next_check_minutes": %d}`, verdict, monitoring, nextMinutes)
}

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ []reasoning.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.calls >= len(p.responses) {
		return "", errors.New("no scripted response left")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

type fakePreloader struct {
	err error
}

func (f *fakePreloader) FetchContext(_ context.Context, _ *models.Signal) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"vehicle": {"id": "veh-12", "model": "T680"}}`), nil
}

type fakeEnqueuer struct {
	mu            sync.Mutex
	pipelineTasks []*tasks.PipelineRunTask
	notifyTasks   []*tasks.NotificationTask
	updatedEvents []*tasks.AlertUpdatedEvent
}

func (f *fakeEnqueuer) EnqueuePipelineRun(_ context.Context, task *tasks.PipelineRunTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelineTasks = append(f.pipelineTasks, task)
	return nil
}

func (f *fakeEnqueuer) EnqueueNotification(_ context.Context, task *tasks.NotificationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyTasks = append(f.notifyTasks, task)
	return nil
}

func (f *fakeEnqueuer) PublishAlertCreated(_ context.Context, _ *tasks.AlertCreatedEvent) error {
	return nil
}

func (f *fakeEnqueuer) PublishAlertUpdated(_ context.Context, event *tasks.AlertUpdatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedEvents = append(f.updatedEvents, event)
	return nil
}

type fakeMonitor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeMonitor) ScheduleMonitoring(_ context.Context, alert *models.Alert, _ *models.AlertAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alert.ID)
	return f.err
}

func seedAlert(t *testing.T, repo repository.Repository, status string, investigationCount int) *models.Alert {
	t.Helper()
	now := time.Now().UTC()
	signal := &models.Signal{
		ID:              "sig-1",
		TenantID:        "fleet-acme",
		Source:          "telematics",
		ProviderEventID: "evt-1",
		EventType:       "harsh_braking",
		VehicleID:       "veh-12",
		Severity:        models.SeverityHigh,
		OccurredAt:      now,
		ReceivedAt:      now,
	}
	alert := &models.Alert{
		ID:                 "alert-1",
		SignalID:           signal.ID,
		TenantID:           signal.TenantID,
		DedupeKey:          "telematics:evt-1",
		Severity:           models.SeverityHigh,
		AIStatus:           status,
		InvestigationCount: investigationCount,
		NotificationStatus: models.NotificationStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, repo.CreateSignalAndAlert(context.Background(), signal, alert))
	return alert
}

func newTestOrchestrator(repo repository.Repository, provider reasoning.Provider, enq *fakeEnqueuer, mon *fakeMonitor) *Orchestrator {
	policy := config.PolicyConfig{
		MaxInvestigations: 3,
		MinCheckMinutes:   5,
		MaxCheckMinutes:   240,
	}
	return NewOrchestrator(repo, provider, &fakePreloader{}, enq, mon, nil,
		policy, time.Second, logging.Default())
}

func TestRunCompletesAlert(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	provider := &scriptedProvider{responses: []string{
		triageJSON,
		investigationJSON(models.VerdictConfirmed, false, 0),
		finalMessageJSON,
		decisionJSON,
	}}
	enq := &fakeEnqueuer{}
	mon := &fakeMonitor{}
	o := newTestOrchestrator(repo, provider, enq, mon)

	err := o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID})
	require.NoError(t, err)

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusCompleted, got.AIStatus)
	assert.Nil(t, got.ActiveRunID)
	assert.Equal(t, "elevated", got.RiskEscalation)
	assert.False(t, got.NeedsAttention)

	assessment, err := repo.GetAssessment(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictConfirmed, assessment.Verdict)
	assert.Equal(t, "harsh_braking", assessment.AlertType)
	assert.Equal(t, "Hard braking verified for vehicle 12.", assessment.HumanMessage)

	decision, err := repo.GetDecision(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.True(t, decision.ShouldNotify)

	// should_notify queued exactly one notification task
	require.Len(t, enq.notifyTasks, 1)
	assert.Equal(t, alert.ID, enq.notifyTasks[0].AlertID)

	// status moved to pending dispatch
	assert.Equal(t, models.NotificationStatusPending, got.NotificationStatus)
	assert.Empty(t, mon.calls)
	require.Len(t, enq.updatedEvents, 1)
	assert.Equal(t, models.AIStatusCompleted, enq.updatedEvents[0].AIStatus)
}

func TestRunEntersMonitoring(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	provider := &scriptedProvider{responses: []string{
		triageJSON,
		investigationJSON(models.VerdictInconclusive, true, 30),
		finalMessageJSON,
		decisionQuietJSON,
	}}
	enq := &fakeEnqueuer{}
	mon := &fakeMonitor{}
	o := newTestOrchestrator(repo, provider, enq, mon)

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusInvestigating, got.AIStatus)
	assert.Equal(t, []string{alert.ID}, mon.calls)
	assert.Empty(t, enq.notifyTasks)
}

func TestRunAtCeilingCompletesWithAttention(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusInvestigating, 3)

	provider := &scriptedProvider{responses: []string{
		triageJSON,
		investigationJSON(models.VerdictLikely, true, 30),
		finalMessageJSON,
		decisionQuietJSON,
	}}
	enq := &fakeEnqueuer{}
	mon := &fakeMonitor{}
	o := newTestOrchestrator(repo, provider, enq, mon)

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusCompleted, got.AIStatus)
	assert.True(t, got.NeedsAttention)
	assert.Empty(t, mon.calls, "exhausted alerts must not schedule another cycle")
}

func TestRunAtCeilingFailsWithoutDefinitiveVerdict(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusInvestigating, 3)

	provider := &scriptedProvider{responses: []string{
		triageJSON,
		investigationJSON(models.VerdictInconclusive, true, 30),
		finalMessageJSON,
		decisionQuietJSON,
	}}
	enq := &fakeEnqueuer{}
	o := newTestOrchestrator(repo, provider, enq, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusFailed, got.AIStatus)
	assert.True(t, got.NeedsAttention)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "ceiling")
}

func TestRunStageFailureFailsClosed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	provider := &scriptedProvider{err: errors.New("model unavailable")}
	enq := &fakeEnqueuer{}
	o := newTestOrchestrator(repo, provider, enq, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusFailed, got.AIStatus)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "model unavailable")

	// No partial assessment survives a failed run
	_, err = repo.GetAssessment(context.Background(), alert.ID)
	assert.Error(t, err)
	assert.Empty(t, enq.notifyTasks)
}

func TestRunMalformedStageOutputFailsClosed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	provider := &scriptedProvider{responses: []string{`not json at all`}}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusFailed, got.AIStatus)
}

func TestRunSkipsTerminalAlert(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusCompleted, 0)

	provider := &scriptedProvider{}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))
	assert.Zero(t, provider.calls, "terminal alert must not reach the provider")
}

func TestRunSkipsClosedReview(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)
	require.NoError(t, repo.UpsertReview(context.Background(), &models.HumanReview{
		AlertID:     alert.ID,
		HumanStatus: models.HumanStatusFalsePositive,
	}))

	provider := &scriptedProvider{}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))
	assert.Zero(t, provider.calls)

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusPending, got.AIStatus)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	// Another worker already holds the run lock
	acquired, err := repo.AcquireRun(context.Background(), alert.ID, "other-run")
	require.NoError(t, err)
	require.True(t, acquired)

	provider := &scriptedProvider{}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))
	assert.Zero(t, provider.calls)
}

func TestRevalidationSkipsTriage(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusInvestigating, 1)
	require.NoError(t, repo.SaveAssessment(context.Background(), &models.AlertAssessment{
		AlertID:   alert.ID,
		RunID:     "run-0",
		AlertType: "harsh_braking",
		Verdict:   models.VerdictInconclusive,
	}))

	// Only three stages are scripted: triage must be skipped on revalidation
	provider := &scriptedProvider{responses: []string{
		investigationJSON(models.VerdictConfirmed, false, 0),
		finalMessageJSON,
		decisionQuietJSON,
	}}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{
		AlertID:      alert.ID,
		Revalidation: true,
	}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusCompleted, got.AIStatus)
	assert.Equal(t, 3, provider.calls)

	assessment, err := repo.GetAssessment(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "harsh_braking", assessment.AlertType, "classification carries over from the prior run")
	assert.Equal(t, models.VerdictConfirmed, assessment.Verdict)
}

func TestConcurrentRunsOnlyOneExecutes(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	provider := &scriptedProvider{responses: []string{
		triageJSON,
		investigationJSON(models.VerdictConfirmed, false, 0),
		finalMessageJSON,
		decisionQuietJSON,
	}}
	o := newTestOrchestrator(repo, provider, &fakeEnqueuer{}, &fakeMonitor{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID})
		}()
	}
	wg.Wait()

	// Exactly one run got through all four stages
	assert.Equal(t, 4, provider.calls)
	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusCompleted, got.AIStatus)
}

func TestRunPreloadFailureFailsClosed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedAlert(t, repo, models.AIStatusPending, 0)

	policy := config.PolicyConfig{MaxInvestigations: 3, MinCheckMinutes: 5, MaxCheckMinutes: 240}
	o := NewOrchestrator(repo, &scriptedProvider{}, &fakePreloader{err: errors.New("context service down")},
		&fakeEnqueuer{}, &fakeMonitor{}, nil, policy, time.Second, logging.Default())

	require.NoError(t, o.Run(context.Background(), &tasks.PipelineRunTask{AlertID: alert.ID}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AIStatusFailed, got.AIStatus)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "context service down")
}
