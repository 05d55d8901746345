package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

type captureEnqueuer struct {
	mu            sync.Mutex
	pipelineTasks []*tasks.PipelineRunTask
	failuresLeft  int
}

func (c *captureEnqueuer) EnqueuePipelineRun(_ context.Context, task *tasks.PipelineRunTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failuresLeft > 0 {
		c.failuresLeft--
		return assert.AnError
	}
	c.pipelineTasks = append(c.pipelineTasks, task)
	return nil
}

func (c *captureEnqueuer) tasksSnapshot() []*tasks.PipelineRunTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*tasks.PipelineRunTask(nil), c.pipelineTasks...)
}

func (c *captureEnqueuer) EnqueueNotification(context.Context, *tasks.NotificationTask) error {
	return nil
}
func (c *captureEnqueuer) PublishAlertCreated(context.Context, *tasks.AlertCreatedEvent) error {
	return nil
}
func (c *captureEnqueuer) PublishAlertUpdated(context.Context, *tasks.AlertUpdatedEvent) error {
	return nil
}

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		MaxInvestigations: 3,
		MinCheckMinutes:   5,
		MaxCheckMinutes:   240,
		ScheduleRetries:   1,
	}
}

func seedInvestigatingAlert(t *testing.T, repo repository.Repository, id string) *models.Alert {
	t.Helper()
	now := time.Now().UTC()
	signal := &models.Signal{
		ID: "sig-" + id, TenantID: "fleet-acme", Source: "telematics",
		ProviderEventID: "evt-" + id, EventType: "speeding",
		Severity: models.SeverityMedium, OccurredAt: now, ReceivedAt: now,
	}
	alert := &models.Alert{
		ID: id, SignalID: signal.ID, TenantID: signal.TenantID,
		DedupeKey: "telematics:evt-" + id, Severity: models.SeverityMedium,
		AIStatus:           models.AIStatusInvestigating,
		NotificationStatus: models.NotificationStatusNone,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateSignalAndAlert(context.Background(), signal, alert))
	return alert
}

func TestScheduleMonitoringClaimsAndRecords(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	assessment := &models.AlertAssessment{
		AlertID:          alert.ID,
		Reasoning:        "still inconclusive, watch the next trip",
		NextCheckMinutes: 30,
	}
	require.NoError(t, s.ScheduleMonitoring(context.Background(), alert, assessment))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextCheckETA)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *got.NextCheckETA, 5*time.Second)
	assert.Equal(t, 1, got.InvestigationCount)

	history, err := repo.GetInvestigationHistory(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].RunCount)
	assert.Equal(t, "still inconclusive, watch the next trip", history[0].Reason)
}

func TestScheduleMonitoringClampsDelay(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")

	s := New(repo, &captureEnqueuer{}, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	// Below the floor clamps up to min_check_minutes
	require.NoError(t, s.ScheduleMonitoring(context.Background(), alert,
		&models.AlertAssessment{AlertID: alert.ID, NextCheckMinutes: 1}))

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextCheckETA)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *got.NextCheckETA, 5*time.Second)
}

func TestScheduleMonitoringIsIdempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")

	s := New(repo, &captureEnqueuer{}, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	assessment := &models.AlertAssessment{AlertID: alert.ID, NextCheckMinutes: 30}
	require.NoError(t, s.ScheduleMonitoring(context.Background(), alert, assessment))
	require.NoError(t, s.ScheduleMonitoring(context.Background(), alert, assessment))

	// Second claim was a no-op: one count bump, one history entry
	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.InvestigationCount)

	history, err := repo.GetInvestigationHistory(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFireEnqueuesRevalidation(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	s.arm(alert.ID, time.Now().Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return len(enq.tasksSnapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	task := enq.tasksSnapshot()[0]
	assert.Equal(t, alert.ID, task.AlertID)
	assert.True(t, task.Revalidation)

	// ETA cleared so the next cycle can claim again
	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextCheckETA)
}

func TestFireCancelsForClosedReview(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	require.NoError(t, repo.UpsertReview(context.Background(), &models.HumanReview{
		AlertID:     alert.ID,
		HumanStatus: models.HumanStatusResolved,
	}))
	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	s.arm(alert.ID, time.Now().Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		got, err := repo.GetAlert(context.Background(), alert.ID)
		return err == nil && got.NextCheckETA == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, enq.tasksSnapshot(), "closed review must cancel the cycle")
}

func TestFireCancelsForTerminalAlert(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// The alert went terminal while the timer was pending
	acquired, err := repo.AcquireRun(context.Background(), alert.ID, "run-x")
	require.NoError(t, err)
	require.True(t, acquired)
	_, err = repo.CompleteRun(context.Background(), alert.ID, "run-x",
		models.AIStatusCompleted, repository.RunUpdate{})
	require.NoError(t, err)

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	s.arm(alert.ID, time.Now().Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		got, err := repo.GetAlert(context.Background(), alert.ID)
		return err == nil && got.NextCheckETA == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, enq.tasksSnapshot())
}

func TestFireRetriesEnqueue(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{failuresLeft: 1}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	s.arm(alert.ID, time.Now().Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return len(enq.tasksSnapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFireExhaustionFailsAlert(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{failuresLeft: 10}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	s.arm(alert.ID, time.Now().Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		got, err := repo.GetAlert(context.Background(), alert.ID)
		return err == nil && got.AIStatus == models.AIStatusFailed
	}, 10*time.Second, 50*time.Millisecond)

	got, err := repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsAttention)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "enqueue failed")
}

func TestRestoreArmsPersistedTimers(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	// ETA already in the past, as after a long restart
	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID,
		time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Restore(context.Background()))

	require.Eventually(t, func() bool {
		return len(enq.tasksSnapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, enq.tasksSnapshot()[0].Revalidation)
}

// failingCountRepo makes IncrementInvestigationCount fail so the error
// branch after a successful ETA claim can be exercised.
type failingCountRepo struct {
	repository.Repository
	fail bool
}

func (r *failingCountRepo) IncrementInvestigationCount(ctx context.Context, alertID string) (int, error) {
	if r.fail {
		return 0, assert.AnError
	}
	return r.Repository.IncrementInvestigationCount(ctx, alertID)
}

func TestScheduleMonitoringReleasesClaimOnError(t *testing.T) {
	mem := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, mem, "alert-1")
	repo := &failingCountRepo{Repository: mem, fail: true}
	enq := &captureEnqueuer{}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	assessment := &models.AlertAssessment{
		AlertID: alert.ID, RequiresMonitoring: true, NextCheckMinutes: 30,
		Reasoning: "needs another look",
	}
	err := s.ScheduleMonitoring(context.Background(), alert, assessment)
	require.Error(t, err)

	// The failed attempt must not leave the ETA claimed
	got, err := mem.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextCheckETA)

	// A later attempt can claim and schedule normally
	repo.fail = false
	require.NoError(t, s.ScheduleMonitoring(context.Background(), alert, assessment))
	got, err = mem.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.NextCheckETA)
}

func TestStopWaitsOutArmedAndFiredTimers(t *testing.T) {
	repo := repository.NewMemoryRepository()
	fired := seedInvestigatingAlert(t, repo, "alert-fired")
	armed := seedInvestigatingAlert(t, repo, "alert-armed")
	enq := &captureEnqueuer{}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())

	claimed, err := repo.ClaimRevalidation(context.Background(), fired.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// One timer fires immediately, one never fires before Stop
	s.arm(fired.ID, time.Now())
	s.arm(armed.ID, time.Now().Add(time.Hour))

	require.Eventually(t, func() bool {
		return len(enq.tasksSnapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return with an armed timer outstanding")
	}
}

func TestRearmReplacesPendingTimer(t *testing.T) {
	repo := repository.NewMemoryRepository()
	alert := seedInvestigatingAlert(t, repo, "alert-1")
	enq := &captureEnqueuer{}

	s := New(repo, enq, testPolicy(), logging.Default())
	s.Start(context.Background())
	defer s.Stop()

	claimed, err := repo.ClaimRevalidation(context.Background(), alert.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// Re-arming before the first delay elapses must not double-fire or
	// unbalance shutdown accounting
	s.arm(alert.ID, time.Now().Add(time.Hour))
	s.arm(alert.ID, time.Now())

	require.Eventually(t, func() bool {
		return len(enq.tasksSnapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
