package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTriageOutput(t *testing.T) {
	var out TriageResult
	err := validateStageOutput(StageTriage, `{
		"alert_type": "harsh_braking",
		"severity": "high",
		"investigation_strategy": "review camera footage and speed profile"
	}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "harsh_braking", out.AlertType)
	assert.Equal(t, "high", out.Severity)
}

func TestValidateTriageOutputRejectsBadSeverity(t *testing.T) {
	var out TriageResult
	err := validateStageOutput(StageTriage, `{
		"alert_type": "harsh_braking",
		"severity": "catastrophic",
		"investigation_strategy": "x"
	}`, &out)
	assert.Error(t, err)
}

func TestValidateInvestigationOutput(t *testing.T) {
	var out InvestigationResult
	err := validateStageOutput(StageInvestigation, `{
		"verdict": "likely",
		"likelihood": 0.8,
		"confidence": 0.7,
		"reasoning": "speed profile is consistent with hard stop",
		"risk_escalation": "elevated",
		"requires_monitoring": true,
		"next_check_minutes": 30
	}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "likely", out.Verdict)
	assert.True(t, out.RequiresMonitoring)
	assert.Equal(t, 30, out.NextCheckMinutes)
}

func TestValidateInvestigationOutputMissingField(t *testing.T) {
	var out InvestigationResult
	err := validateStageOutput(StageInvestigation, `{
		"verdict": "likely",
		"likelihood": 0.8
	}`, &out)
	assert.Error(t, err)
}

func TestValidateInvestigationOutputLikelihoodOutOfRange(t *testing.T) {
	var out InvestigationResult
	err := validateStageOutput(StageInvestigation, `{
		"verdict": "likely",
		"likelihood": 1.5,
		"confidence": 0.7,
		"reasoning": "x",
		"risk_escalation": "none",
		"requires_monitoring": false,
		"next_check_minutes": 0
	}`, &out)
	assert.Error(t, err)
}

func TestValidateFinalMessageOutput(t *testing.T) {
	var out FinalMessageResult
	err := validateStageOutput(StageFinalMessage, `{"human_message": "Vehicle 12 braked hard near the depot; no collision detected."}`, &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.HumanMessage)

	err = validateStageOutput(StageFinalMessage, `{"human_message": ""}`, &out)
	assert.Error(t, err)
}

func TestValidateDecisionOutput(t *testing.T) {
	var out DecisionResult
	err := validateStageOutput(StageNotificationDecision, `{
		"should_notify": true,
		"escalation_level": "urgent",
		"channels_to_use": ["sms", "email"],
		"recipients": ["fleet-manager"],
		"message_text": "Hard braking event confirmed for vehicle 12."
	}`, &out)
	require.NoError(t, err)
	assert.True(t, out.ShouldNotify)
	assert.Equal(t, []string{"sms", "email"}, out.ChannelsToUse)
}

func TestValidateRejectsNonJSON(t *testing.T) {
	var out TriageResult
	err := validateStageOutput(StageTriage, `the alert looks serious`, &out)
	assert.Error(t, err)
}

func TestValidateUnknownStage(t *testing.T) {
	var out TriageResult
	err := validateStageOutput("summarize", `{}`, &out)
	assert.Error(t, err)
}
