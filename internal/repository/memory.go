package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// MemoryRepository is an in-memory implementation of Repository.
// Used for unit tests and local development without PostgreSQL.
type MemoryRepository struct {
	mu           sync.Mutex
	signals      map[string]*models.Signal
	alerts       map[string]*models.Alert
	dedupe       map[string]string // tenantID+"\x00"+dedupeKey -> alertID
	history      map[string][]*models.InvestigationHistoryEntry
	assessments  map[string]*models.AlertAssessment
	decisions    map[string]*models.NotificationDecision
	reservations map[string]time.Time // dedupeKey+"\x00"+channel -> reserved_at
	results      map[string][]*models.NotificationExecutionResult
	reviews      map[string]*models.HumanReview
	comments     map[string][]*models.ReviewComment
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		signals:      make(map[string]*models.Signal),
		alerts:       make(map[string]*models.Alert),
		dedupe:       make(map[string]string),
		history:      make(map[string][]*models.InvestigationHistoryEntry),
		assessments:  make(map[string]*models.AlertAssessment),
		decisions:    make(map[string]*models.NotificationDecision),
		reservations: make(map[string]time.Time),
		results:      make(map[string][]*models.NotificationExecutionResult),
		reviews:      make(map[string]*models.HumanReview),
		comments:     make(map[string][]*models.ReviewComment),
	}
}

func dedupeIndexKey(tenantID, dedupeKey string) string {
	return tenantID + "\x00" + dedupeKey
}

func (m *MemoryRepository) CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupeIndexKey(alert.TenantID, alert.DedupeKey)
	if _, exists := m.dedupe[key]; exists {
		return ErrDuplicateSignal
	}

	sigCopy := *signal
	alertCopy := *alert
	m.signals[signal.ID] = &sigCopy
	m.alerts[alert.ID] = &alertCopy
	m.dedupe[key] = alert.ID
	return nil
}

func (m *MemoryRepository) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, ErrSignalNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) GetAlertByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.dedupe[dedupeIndexKey(tenantID, dedupeKey)]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *m.alerts[id]
	return &cp, nil
}

func (m *MemoryRepository) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := []*models.Alert{}
	for _, a := range m.alerts {
		if req.TenantID != "" && a.TenantID != req.TenantID {
			continue
		}
		if req.AIStatus != "" && a.AIStatus != req.AIStatus {
			continue
		}
		if req.Severity != "" && a.Severity != req.Severity {
			continue
		}
		if req.NeedsAttention != nil && a.NeedsAttention != *req.NeedsAttention {
			continue
		}
		if req.From != nil && a.CreatedAt.Before(*req.From) {
			continue
		}
		if req.To != nil && a.CreatedAt.After(*req.To) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if req.Limit > 0 {
		start := (req.Page - 1) * req.Limit
		if start > total {
			start = total
		}
		end := start + req.Limit
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *MemoryRepository) AcquireRun(ctx context.Context, alertID, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return false, ErrAlertNotFound
	}
	if a.ActiveRunID != nil {
		return false, nil
	}
	if a.AIStatus != models.AIStatusPending && a.AIStatus != models.AIStatusInvestigating {
		return false, nil
	}
	rid := runID
	a.ActiveRunID = &rid
	a.AIStatus = models.AIStatusProcessing
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) CompleteRun(ctx context.Context, alertID, runID, newStatus string, upd RunUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return false, ErrAlertNotFound
	}
	if a.ActiveRunID == nil || *a.ActiveRunID != runID {
		return false, nil
	}
	a.ActiveRunID = nil
	a.AIStatus = newStatus
	if upd.RiskEscalation != "" {
		a.RiskEscalation = upd.RiskEscalation
	}
	if upd.FailureReason != "" {
		reason := upd.FailureReason
		a.FailureReason = &reason
	} else {
		a.FailureReason = nil
	}
	if upd.NeedsAttention {
		a.NeedsAttention = true
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) ClaimRevalidation(ctx context.Context, alertID string, eta time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return false, ErrAlertNotFound
	}
	if a.NextCheckETA != nil {
		return false, nil
	}
	t := eta
	a.NextCheckETA = &t
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) ClearRevalidation(ctx context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.alerts[alertID]; ok {
		a.NextCheckETA = nil
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryRepository) ListScheduledRevalidations(ctx context.Context) ([]*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := []*models.Alert{}
	for _, a := range m.alerts {
		if a.NextCheckETA != nil && a.AIStatus == models.AIStatusInvestigating {
			cp := *a
			alerts = append(alerts, &cp)
		}
	}
	return alerts, nil
}

func (m *MemoryRepository) IncrementInvestigationCount(ctx context.Context, alertID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return 0, ErrAlertNotFound
	}
	a.InvestigationCount++
	a.UpdatedAt = time.Now()
	return a.InvestigationCount, nil
}

func (m *MemoryRepository) AppendInvestigationHistory(ctx context.Context, entry *models.InvestigationHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.history[entry.AlertID] = append(m.history[entry.AlertID], &cp)
	return nil
}

func (m *MemoryRepository) GetInvestigationHistory(ctx context.Context, alertID string) ([]*models.InvestigationHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*models.InvestigationHistoryEntry, 0, len(m.history[alertID]))
	for _, e := range m.history[alertID] {
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (m *MemoryRepository) SaveAssessment(ctx context.Context, a *models.AlertAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.assessments[a.AlertID] = &cp
	return nil
}

func (m *MemoryRepository) GetAssessment(ctx context.Context, alertID string) (*models.AlertAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) SaveDecision(ctx context.Context, d *models.NotificationDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.decisions[d.AlertID] = &cp
	return nil
}

func (m *MemoryRepository) GetDecision(ctx context.Context, alertID string) (*models.NotificationDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryRepository) ReserveDispatch(ctx context.Context, dedupeKey, channel string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupeKey + "\x00" + channel
	if reservedAt, ok := m.reservations[key]; ok {
		if time.Since(reservedAt) < window {
			return false, nil
		}
	}
	m.reservations[key] = time.Now()
	return true, nil
}

func (m *MemoryRepository) RecordNotificationResult(ctx context.Context, n *models.NotificationExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.results[n.AlertID] = append(m.results[n.AlertID], &cp)
	return nil
}

func (m *MemoryRepository) ListNotificationResults(ctx context.Context, alertID string) ([]*models.NotificationExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]*models.NotificationExecutionResult, 0, len(m.results[alertID]))
	for _, n := range m.results[alertID] {
		cp := *n
		results = append(results, &cp)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (m *MemoryRepository) SetNotificationStatus(ctx context.Context, alertID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	a.NotificationStatus = status
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) GetReview(ctx context.Context, alertID string) (*models.HumanReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[alertID]
	if !ok {
		return nil, ErrReviewNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRepository) UpsertReview(ctx context.Context, review *models.HumanReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *review
	if existing, ok := m.reviews[review.AlertID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.reviews[review.AlertID] = &cp
	return nil
}

func (m *MemoryRepository) AddReviewComment(ctx context.Context, comment *models.ReviewComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *comment
	m.comments[comment.AlertID] = append(m.comments[comment.AlertID], &cp)
	return nil
}

func (m *MemoryRepository) ListReviewComments(ctx context.Context, alertID string) ([]*models.ReviewComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comments := make([]*models.ReviewComment, 0, len(m.comments[alertID]))
	for _, c := range m.comments[alertID] {
		cp := *c
		comments = append(comments, &cp)
	}
	return comments, nil
}

func (m *MemoryRepository) ReopenAlert(ctx context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	if a.AIStatus != models.AIStatusCompleted && a.AIStatus != models.AIStatusFailed {
		return ErrNotReopenable
	}
	a.AIStatus = models.AIStatusPending
	a.InvestigationCount = 0
	a.NextCheckETA = nil
	a.ActiveRunID = nil
	a.FailureReason = nil
	a.NeedsAttention = false
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }
