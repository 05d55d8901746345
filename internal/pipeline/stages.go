package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/reasoning"
)

// TriageResult is the structured output of the triage stage.
type TriageResult struct {
	AlertType             string `json:"alert_type"`
	Severity              string `json:"severity"`
	InvestigationStrategy string `json:"investigation_strategy"`
}

// InvestigationResult is the structured output of the investigation stage.
type InvestigationResult struct {
	Verdict            string          `json:"verdict"`
	Likelihood         float64         `json:"likelihood"`
	Confidence         float64         `json:"confidence"`
	Reasoning          string          `json:"reasoning"`
	SupportingEvidence json.RawMessage `json:"supporting_evidence,omitempty"`
	RiskEscalation     string          `json:"risk_escalation"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	RequiresMonitoring bool            `json:"requires_monitoring"`
	NextCheckMinutes   int             `json:"next_check_minutes"`
}

// FinalMessageResult is the structured output of the final message stage.
type FinalMessageResult struct {
	HumanMessage string `json:"human_message"`
}

// DecisionResult is the structured output of the notification decision stage.
type DecisionResult struct {
	ShouldNotify    bool     `json:"should_notify"`
	EscalationLevel string   `json:"escalation_level"`
	ChannelsToUse   []string `json:"channels_to_use"`
	Recipients      []string `json:"recipients"`
	MessageText     string   `json:"message_text"`
}

// RunContext is the accumulated context handed from stage to stage.
// Stages only ever append; earlier results are never rewritten.
type RunContext struct {
	Alert   *models.Alert   `json:"alert"`
	Signal  *models.Signal  `json:"signal"`
	Preload json.RawMessage `json:"preload,omitempty"`

	// Revalidation marks a run re-entering from the scheduler. Triage is
	// skipped; the prior classification seeds the investigation stage.
	Revalidation    bool                                `json:"revalidation"`
	PriorAssessment *models.AlertAssessment             `json:"prior_assessment,omitempty"`
	History         []*models.InvestigationHistoryEntry `json:"history,omitempty"`

	Triage        *TriageResult        `json:"triage,omitempty"`
	Investigation *InvestigationResult `json:"investigation,omitempty"`
	FinalMessage  *FinalMessageResult  `json:"final_message,omitempty"`
	Decision      *DecisionResult      `json:"decision,omitempty"`
}

const systemPrompt = `You are the assessment engine for a vehicle fleet safety platform.
You receive one safety alert with its vehicle, driver, and camera context and
respond with a single JSON object matching the requested stage contract exactly.
Respond with JSON only, no surrounding prose.`

func (rc *RunContext) stageMessages(stage string) ([]reasoning.Message, error) {
	ctxJSON, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("marshal run context: %w", err)
	}

	var instruction string
	switch stage {
	case StageTriage:
		instruction = `Classify this alert. Return {"alert_type", "severity", "investigation_strategy"}.`
	case StageInvestigation:
		instruction = `Investigate this alert using the triage classification and preloaded context.
Return {"verdict", "likelihood", "confidence", "reasoning", "supporting_evidence",
"risk_escalation", "recommended_actions", "requires_monitoring", "next_check_minutes"}.`
	case StageFinalMessage:
		instruction = `Write the operator-facing summary of the investigation. Return {"human_message"}.`
	case StageNotificationDecision:
		instruction = `Decide whether and how to notify human contacts.
Return {"should_notify", "escalation_level", "channels_to_use", "recipients", "message_text"}.`
	default:
		return nil, fmt.Errorf("unknown stage %s", stage)
	}

	return []reasoning.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: instruction + "\n\nContext:\n" + string(ctxJSON)},
	}, nil
}
