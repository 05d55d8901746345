package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// CreateSignalAndAlert inserts the immutable signal and its alert in one
// transaction. A dedupe key conflict rolls everything back and returns
// ErrDuplicateSignal so ingestion can fall back to the idempotent path.
func (r *PostgresRepository) CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO signals (id, tenant_id, source, provider_event_id, event_type,
			description, vehicle_id, driver_id, severity, occurred_at, received_at, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, signal.ID, signal.TenantID, signal.Source, signal.ProviderEventID, signal.EventType,
		signal.Description, signal.VehicleID, signal.DriverID, signal.Severity,
		signal.OccurredAt, signal.ReceivedAt, signal.RawPayload)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alerts (id, signal_id, tenant_id, dedupe_key, severity, ai_status,
			investigation_count, notification_status, needs_attention, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, alert.ID, alert.SignalID, alert.TenantID, alert.DedupeKey, alert.Severity,
		alert.AIStatus, alert.InvestigationCount, alert.NotificationStatus,
		alert.NeedsAttention, alert.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID
func (r *PostgresRepository) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	s := &models.Signal{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, source, provider_event_id, event_type, description,
			vehicle_id, driver_id, severity, occurred_at, received_at, raw_payload
		FROM signals WHERE id = $1
	`, id).Scan(&s.ID, &s.TenantID, &s.Source, &s.ProviderEventID, &s.EventType,
		&s.Description, &s.VehicleID, &s.DriverID, &s.Severity, &s.OccurredAt,
		&s.ReceivedAt, &s.RawPayload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSignalNotFound
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return s, nil
}

const alertColumns = `id, signal_id, tenant_id, dedupe_key, severity, ai_status,
	failure_reason, investigation_count, next_check_eta, notification_status,
	risk_escalation, needs_attention, active_run_id, created_at, updated_at`

func scanAlert(row pgx.Row) (*models.Alert, error) {
	a := &models.Alert{}
	err := row.Scan(&a.ID, &a.SignalID, &a.TenantID, &a.DedupeKey, &a.Severity,
		&a.AIStatus, &a.FailureReason, &a.InvestigationCount, &a.NextCheckETA,
		&a.NotificationStatus, &a.RiskEscalation, &a.NeedsAttention,
		&a.ActiveRunID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAlert retrieves an alert by ID
func (r *PostgresRepository) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE id = $1", alertColumns), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// GetAlertByDedupeKey retrieves the alert for a tenant-scoped dedupe key
func (r *PostgresRepository) GetAlertByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*models.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE tenant_id = $1 AND dedupe_key = $2 ORDER BY created_at DESC LIMIT 1", alertColumns),
		tenantID, dedupeKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert by dedupe key: %w", err)
	}
	return a, nil
}

// ListAlerts retrieves a paginated list of alerts
func (r *PostgresRepository) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, int, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.TenantID != "" {
		whereClause += fmt.Sprintf(" AND tenant_id = $%d", argPos)
		args = append(args, req.TenantID)
		argPos++
	}
	if req.AIStatus != "" {
		whereClause += fmt.Sprintf(" AND ai_status = $%d", argPos)
		args = append(args, req.AIStatus)
		argPos++
	}
	if req.Severity != "" {
		whereClause += fmt.Sprintf(" AND severity = $%d", argPos)
		args = append(args, req.Severity)
		argPos++
	}
	if req.NeedsAttention != nil {
		whereClause += fmt.Sprintf(" AND needs_attention = $%d", argPos)
		args = append(args, *req.NeedsAttention)
		argPos++
	}
	if req.From != nil {
		whereClause += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *req.From)
		argPos++
	}
	if req.To != nil {
		whereClause += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *req.To)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alerts %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	offset := (req.Page - 1) * req.Limit
	args = append(args, req.Limit, offset)

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereClause, argPos, argPos+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return alerts, total, nil
}

// AcquireRun takes the in-flight lock for a pipeline run. The WHERE clause is
// the check-and-set: only an unlocked, non-terminal alert is claimed.
func (r *PostgresRepository) AcquireRun(ctx context.Context, alertID, runID string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE alerts
		SET ai_status = $1, active_run_id = $2, updated_at = $3
		WHERE id = $4
			AND active_run_id IS NULL
			AND ai_status IN ($5, $6)
	`, models.AIStatusProcessing, runID, time.Now(), alertID,
		models.AIStatusPending, models.AIStatusInvestigating)
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CompleteRun releases the in-flight lock and applies the run's terminal
// transition. A run that no longer holds the lock affects zero rows and its
// result is discarded by the caller.
func (r *PostgresRepository) CompleteRun(ctx context.Context, alertID, runID, newStatus string, upd RunUpdate) (bool, error) {
	var failureReason *string
	if upd.FailureReason != "" {
		failureReason = &upd.FailureReason
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE alerts
		SET ai_status = $1,
			active_run_id = NULL,
			risk_escalation = COALESCE(NULLIF($2, ''), risk_escalation),
			failure_reason = $3,
			needs_attention = needs_attention OR $4,
			updated_at = $5
		WHERE id = $6 AND active_run_id = $7
	`, newStatus, upd.RiskEscalation, failureReason, upd.NeedsAttention,
		time.Now(), alertID, runID)
	if err != nil {
		return false, fmt.Errorf("failed to complete run: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ClaimRevalidation records the next check ETA if and only if none is set.
func (r *PostgresRepository) ClaimRevalidation(ctx context.Context, alertID string, eta time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE alerts
		SET next_check_eta = $1, updated_at = $2
		WHERE id = $3 AND next_check_eta IS NULL
	`, eta, time.Now(), alertID)
	if err != nil {
		return false, fmt.Errorf("failed to claim revalidation: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ClearRevalidation removes a recorded check ETA once the task fires.
func (r *PostgresRepository) ClearRevalidation(ctx context.Context, alertID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE alerts SET next_check_eta = NULL, updated_at = $1 WHERE id = $2
	`, time.Now(), alertID)
	if err != nil {
		return fmt.Errorf("failed to clear revalidation: %w", err)
	}
	return nil
}

// ListScheduledRevalidations returns alerts with a pending check ETA.
// Used on startup to restore fire-at-ETA timers after a restart.
func (r *PostgresRepository) ListScheduledRevalidations(ctx context.Context) ([]*models.Alert, error) {
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE next_check_eta IS NOT NULL AND ai_status = $1", alertColumns),
		models.AIStatusInvestigating)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled revalidations: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// IncrementInvestigationCount bumps the monotonic counter and returns the new value.
func (r *PostgresRepository) IncrementInvestigationCount(ctx context.Context, alertID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE alerts
		SET investigation_count = investigation_count + 1, updated_at = $1
		WHERE id = $2
		RETURNING investigation_count
	`, time.Now(), alertID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAlertNotFound
		}
		return 0, fmt.Errorf("failed to increment investigation count: %w", err)
	}
	return count, nil
}

// AppendInvestigationHistory adds an append-only monitoring history entry.
func (r *PostgresRepository) AppendInvestigationHistory(ctx context.Context, entry *models.InvestigationHistoryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO investigation_history (id, alert_id, reason, run_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.AlertID, entry.Reason, entry.RunCount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append investigation history: %w", err)
	}
	return nil
}

// GetInvestigationHistory lists monitoring history entries, oldest first.
func (r *PostgresRepository) GetInvestigationHistory(ctx context.Context, alertID string) ([]*models.InvestigationHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_id, reason, run_count, created_at
		FROM investigation_history
		WHERE alert_id = $1
		ORDER BY created_at ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get investigation history: %w", err)
	}
	defer rows.Close()

	entries := []*models.InvestigationHistoryEntry{}
	for rows.Next() {
		e := &models.InvestigationHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Reason, &e.RunCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveAssessment stores the latest assessment for an alert, overwriting the
// previous run's output.
func (r *PostgresRepository) SaveAssessment(ctx context.Context, a *models.AlertAssessment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alert_assessments (alert_id, run_id, alert_type, verdict, likelihood,
			confidence, reasoning, supporting_evidence, risk_escalation,
			recommended_actions, requires_monitoring, next_check_minutes,
			human_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (alert_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			alert_type = EXCLUDED.alert_type,
			verdict = EXCLUDED.verdict,
			likelihood = EXCLUDED.likelihood,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			supporting_evidence = EXCLUDED.supporting_evidence,
			risk_escalation = EXCLUDED.risk_escalation,
			recommended_actions = EXCLUDED.recommended_actions,
			requires_monitoring = EXCLUDED.requires_monitoring,
			next_check_minutes = EXCLUDED.next_check_minutes,
			human_message = EXCLUDED.human_message,
			created_at = EXCLUDED.created_at
	`, a.AlertID, a.RunID, a.AlertType, a.Verdict, a.Likelihood, a.Confidence,
		a.Reasoning, a.SupportingEvidence, a.RiskEscalation, a.RecommendedActions,
		a.RequiresMonitoring, a.NextCheckMinutes, a.HumanMessage, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// GetAssessment retrieves the latest assessment for an alert.
func (r *PostgresRepository) GetAssessment(ctx context.Context, alertID string) (*models.AlertAssessment, error) {
	a := &models.AlertAssessment{}
	err := r.pool.QueryRow(ctx, `
		SELECT alert_id, run_id, alert_type, verdict, likelihood, confidence,
			reasoning, supporting_evidence, risk_escalation, recommended_actions,
			requires_monitoring, next_check_minutes, human_message, created_at
		FROM alert_assessments WHERE alert_id = $1
	`, alertID).Scan(&a.AlertID, &a.RunID, &a.AlertType, &a.Verdict, &a.Likelihood,
		&a.Confidence, &a.Reasoning, &a.SupportingEvidence, &a.RiskEscalation,
		&a.RecommendedActions, &a.RequiresMonitoring, &a.NextCheckMinutes,
		&a.HumanMessage, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

// SaveDecision stores the latest notification decision for an alert.
func (r *PostgresRepository) SaveDecision(ctx context.Context, d *models.NotificationDecision) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_decisions (alert_id, run_id, should_notify,
			escalation_level, channels_to_use, recipients, message_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			should_notify = EXCLUDED.should_notify,
			escalation_level = EXCLUDED.escalation_level,
			channels_to_use = EXCLUDED.channels_to_use,
			recipients = EXCLUDED.recipients,
			message_text = EXCLUDED.message_text
	`, d.AlertID, d.RunID, d.ShouldNotify, d.EscalationLevel, d.ChannelsToUse,
		d.Recipients, d.MessageText)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// GetDecision retrieves the latest notification decision for an alert.
func (r *PostgresRepository) GetDecision(ctx context.Context, alertID string) (*models.NotificationDecision, error) {
	d := &models.NotificationDecision{}
	err := r.pool.QueryRow(ctx, `
		SELECT alert_id, run_id, should_notify, escalation_level, channels_to_use,
			recipients, message_text
		FROM notification_decisions WHERE alert_id = $1
	`, alertID).Scan(&d.AlertID, &d.RunID, &d.ShouldNotify, &d.EscalationLevel,
		&d.ChannelsToUse, &d.Recipients, &d.MessageText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// ReserveDispatch atomically claims the right to dispatch on a channel.
// The upsert only succeeds when no reservation exists inside the throttle
// window, which makes two workers racing on the same channel resolve to
// exactly one dispatcher.
func (r *PostgresRepository) ReserveDispatch(ctx context.Context, dedupeKey, channel string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	result, err := r.pool.Exec(ctx, `
		INSERT INTO notification_dispatch (dedupe_key, channel, reserved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (dedupe_key, channel) DO UPDATE
			SET reserved_at = EXCLUDED.reserved_at
			WHERE notification_dispatch.reserved_at < $4
	`, dedupeKey, channel, time.Now(), cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to reserve dispatch: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// RecordNotificationResult appends one per-channel dispatch outcome.
func (r *PostgresRepository) RecordNotificationResult(ctx context.Context, n *models.NotificationExecutionResult) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_results (id, alert_id, dedupe_key, channel,
			recipient, success, error, throttled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.AlertID, n.DedupeKey, n.Channel, n.Recipient, n.Success,
		n.Error, n.Throttled, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record notification result: %w", err)
	}
	return nil
}

// ListNotificationResults lists dispatch outcomes for an alert, oldest first.
func (r *PostgresRepository) ListNotificationResults(ctx context.Context, alertID string) ([]*models.NotificationExecutionResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_id, dedupe_key, channel, recipient, success, error, throttled, created_at
		FROM notification_results
		WHERE alert_id = $1
		ORDER BY created_at ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification results: %w", err)
	}
	defer rows.Close()

	results := []*models.NotificationExecutionResult{}
	for rows.Next() {
		n := &models.NotificationExecutionResult{}
		if err := rows.Scan(&n.ID, &n.AlertID, &n.DedupeKey, &n.Channel,
			&n.Recipient, &n.Success, &n.Error, &n.Throttled, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification result: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// SetNotificationStatus updates the alert's aggregate notification outcome.
func (r *PostgresRepository) SetNotificationStatus(ctx context.Context, alertID, status string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE alerts SET notification_status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now(), alertID)
	if err != nil {
		return fmt.Errorf("failed to set notification status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// GetReview retrieves the human review for an alert.
func (r *PostgresRepository) GetReview(ctx context.Context, alertID string) (*models.HumanReview, error) {
	rev := &models.HumanReview{}
	err := r.pool.QueryRow(ctx, `
		SELECT alert_id, human_status, reviewer, created_at, updated_at
		FROM human_reviews WHERE alert_id = $1
	`, alertID).Scan(&rev.AlertID, &rev.HumanStatus, &rev.Reviewer, &rev.CreatedAt, &rev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return rev, nil
}

// UpsertReview creates or updates the human review record. Created lazily on
// the first human action.
func (r *PostgresRepository) UpsertReview(ctx context.Context, review *models.HumanReview) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO human_reviews (alert_id, human_status, reviewer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (alert_id) DO UPDATE SET
			human_status = EXCLUDED.human_status,
			reviewer = EXCLUDED.reviewer,
			updated_at = EXCLUDED.updated_at
	`, review.AlertID, review.HumanStatus, review.Reviewer, review.CreatedAt, review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert review: %w", err)
	}
	return nil
}

// AddReviewComment appends an operator comment.
func (r *PostgresRepository) AddReviewComment(ctx context.Context, comment *models.ReviewComment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO review_comments (id, alert_id, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.AlertID, comment.Author, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add review comment: %w", err)
	}
	return nil
}

// ListReviewComments lists comments for an alert, oldest first.
func (r *PostgresRepository) ListReviewComments(ctx context.Context, alertID string) ([]*models.ReviewComment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_id, author, body, created_at
		FROM review_comments
		WHERE alert_id = $1
		ORDER BY created_at ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.ReviewComment{}
	for rows.Next() {
		c := &models.ReviewComment{}
		if err := rows.Scan(&c.ID, &c.AlertID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ReopenAlert moves a terminal alert back to pending for a new cycle.
// Explicit only; ingestion never calls this unless policy allows it.
func (r *PostgresRepository) ReopenAlert(ctx context.Context, alertID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE alerts
		SET ai_status = $1,
			investigation_count = 0,
			next_check_eta = NULL,
			active_run_id = NULL,
			failure_reason = NULL,
			needs_attention = FALSE,
			updated_at = $2
		WHERE id = $3 AND ai_status IN ($4, $5)
	`, models.AIStatusPending, time.Now(), alertID,
		models.AIStatusCompleted, models.AIStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reopen alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotReopenable
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
