// Package lifecycle owns the alert AI status graph and its transition rules.
package lifecycle

import (
	"fmt"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// transitions is the legal ai_status graph. Terminal statuses have no
// outgoing edges; leaving them requires an explicit reopen, which is not a
// transition the pipeline may take.
var transitions = map[string][]string{
	models.AIStatusPending:       {models.AIStatusProcessing},
	models.AIStatusProcessing:    {models.AIStatusInvestigating, models.AIStatusCompleted, models.AIStatusFailed},
	models.AIStatusInvestigating: {models.AIStatusProcessing, models.AIStatusCompleted, models.AIStatusFailed},
	models.AIStatusCompleted:     {},
	models.AIStatusFailed:        {},
}

// CanTransition reports whether moving from one ai_status to another is legal.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the AI lifecycle.
func IsTerminal(status string) bool {
	return status == models.AIStatusCompleted || status == models.AIStatusFailed
}

// ErrIllegalTransition is returned when a transition is not in the graph.
type ErrIllegalTransition struct {
	From, To string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal ai_status transition %s -> %s", e.From, e.To)
}

// Validate returns an error when a transition is not legal.
func Validate(from, to string) error {
	if !CanTransition(from, to) {
		return &ErrIllegalTransition{From: from, To: to}
	}
	return nil
}

// Outcome describes where a successful pipeline run should land.
type Outcome struct {
	Status         string
	NeedsAttention bool
	// Monitor is set when the alert should enter another monitoring cycle.
	Monitor bool
}

// DecideOutcome computes the post-run status for a successful pipeline run.
//
// requires_monitoring with headroom left under the investigation ceiling
// keeps the alert under monitoring. At the ceiling, a definitive verdict
// completes with a best-effort result; a non-definitive one fails, and both
// are flagged for human attention (escalation exhaustion is a defined
// outcome, not an error).
func DecideOutcome(assessment *models.AlertAssessment, investigationCount, maxInvestigations int) Outcome {
	if !assessment.RequiresMonitoring {
		return Outcome{Status: models.AIStatusCompleted}
	}

	if investigationCount < maxInvestigations {
		return Outcome{Status: models.AIStatusInvestigating, Monitor: true}
	}

	if assessment.IsDefinitive() || assessment.Verdict == models.VerdictLikely {
		return Outcome{Status: models.AIStatusCompleted, NeedsAttention: true}
	}
	return Outcome{Status: models.AIStatusFailed, NeedsAttention: true}
}
