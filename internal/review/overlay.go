// Package review implements the human review overlay: operator-owned state
// layered next to an alert, never driven by the AI pipeline.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
)

// Urgency levels surfaced to operators.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Service owns review state transitions and comments.
type Service struct {
	repo   repository.Repository
	logger *logging.Logger
}

func NewService(repo repository.Repository, logger *logging.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetStatus sets the human review status for an alert, creating the review
// lazily on first touch. The AI lifecycle is unaffected; closing a review
// only takes effect on the pipeline at the next scheduling checkpoint.
func (s *Service) SetStatus(ctx context.Context, alertID string, req *models.SetReviewRequest) (*models.HumanReview, error) {
	if !models.ValidHumanStatus(req.HumanStatus) {
		return nil, fmt.Errorf("invalid human status %q", req.HumanStatus)
	}

	if _, err := s.repo.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	review, err := s.repo.GetReview(ctx, alertID)
	if err != nil {
		if err != repository.ErrReviewNotFound {
			return nil, err
		}
		review = &models.HumanReview{
			AlertID:   alertID,
			CreatedAt: now,
		}
	}

	review.HumanStatus = req.HumanStatus
	review.Reviewer = req.Reviewer
	review.UpdatedAt = now

	if err := s.repo.UpsertReview(ctx, review); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}

	s.logger.InfoContext(ctx, "human review updated",
		logging.AlertID(alertID), logging.Status(req.HumanStatus),
		"reviewer", req.Reviewer)
	return review, nil
}

// AddComment appends an operator comment, creating the review lazily.
func (s *Service) AddComment(ctx context.Context, alertID string, req *models.AddCommentRequest) (*models.ReviewComment, error) {
	if req.Body == "" {
		return nil, fmt.Errorf("comment body is required")
	}

	if _, err := s.repo.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.repo.GetReview(ctx, alertID); err != nil {
		if err != repository.ErrReviewNotFound {
			return nil, err
		}
		review := &models.HumanReview{
			AlertID:     alertID,
			HumanStatus: models.HumanStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.UpsertReview(ctx, review); err != nil {
			return nil, fmt.Errorf("create review: %w", err)
		}
	}

	comment := &models.ReviewComment{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AlertID:   alertID,
		Author:    req.Author,
		Body:      req.Body,
		CreatedAt: now,
	}
	if err := s.repo.AddReviewComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("save comment: %w", err)
	}
	return comment, nil
}

// Comments lists an alert's review comments, oldest first.
func (s *Service) Comments(ctx context.Context, alertID string) ([]*models.ReviewComment, error) {
	return s.repo.ListReviewComments(ctx, alertID)
}

// Urgency derives the operator-facing urgency for an alert from its current
// state. The mapping is deterministic: the same inputs always give the same
// level, so the value can be recomputed anywhere instead of stored.
func Urgency(severity, riskEscalation, aiStatus string, shouldNotify bool) string {
	score := 0

	switch severity {
	case models.SeverityCritical:
		score += 3
	case models.SeverityHigh:
		score += 2
	case models.SeverityMedium:
		score++
	}

	switch riskEscalation {
	case "critical":
		score += 3
	case "high":
		score += 2
	case "elevated":
		score++
	}

	if aiStatus == models.AIStatusFailed {
		score++
	}
	if shouldNotify {
		score++
	}

	switch {
	case score >= 6:
		return UrgencyCritical
	case score >= 4:
		return UrgencyHigh
	case score >= 2:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
