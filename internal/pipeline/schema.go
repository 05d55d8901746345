package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Stage names, in execution order.
const (
	StageTriage               = "triage"
	StageInvestigation        = "investigation"
	StageFinalMessage         = "final_message"
	StageNotificationDecision = "notification_decision"
)

// Per-stage output schemas. Stage outputs are validated on receipt and fail
// closed on mismatch; nothing is coerced.
const triageSchema = `{
	"type": "object",
	"required": ["alert_type", "severity", "investigation_strategy"],
	"properties": {
		"alert_type": {"type": "string", "minLength": 1},
		"severity": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
		"investigation_strategy": {"type": "string", "minLength": 1}
	}
}`

const investigationSchema = `{
	"type": "object",
	"required": ["verdict", "likelihood", "confidence", "reasoning",
		"risk_escalation", "requires_monitoring", "next_check_minutes"],
	"properties": {
		"verdict": {"type": "string", "enum": ["confirmed", "likely", "inconclusive", "false_positive"]},
		"likelihood": {"type": "number", "minimum": 0, "maximum": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string", "minLength": 1},
		"supporting_evidence": {"type": "object"},
		"risk_escalation": {"type": "string", "enum": ["none", "elevated", "high", "critical"]},
		"recommended_actions": {"type": "array", "items": {"type": "string"}},
		"requires_monitoring": {"type": "boolean"},
		"next_check_minutes": {"type": "integer", "minimum": 0}
	}
}`

const finalMessageSchema = `{
	"type": "object",
	"required": ["human_message"],
	"properties": {
		"human_message": {"type": "string", "minLength": 1}
	}
}`

const notificationDecisionSchema = `{
	"type": "object",
	"required": ["should_notify", "escalation_level", "channels_to_use", "recipients", "message_text"],
	"properties": {
		"should_notify": {"type": "boolean"},
		"escalation_level": {"type": "string", "enum": ["none", "standard", "urgent", "emergency"]},
		"channels_to_use": {"type": "array", "items": {"type": "string", "enum": ["sms", "whatsapp", "voice", "email", "webhook"]}},
		"recipients": {"type": "array", "items": {"type": "string"}},
		"message_text": {"type": "string"}
	}
}`

var stageSchemas = map[string]*jsonschema.Schema{}

func init() {
	sources := map[string]string{
		StageTriage:               triageSchema,
		StageInvestigation:        investigationSchema,
		StageFinalMessage:         finalMessageSchema,
		StageNotificationDecision: notificationDecisionSchema,
	}
	for name, src := range sources {
		stageSchemas[name] = jsonschema.MustCompileString(name+".json", src)
	}
}

// validateStageOutput checks a raw stage result against the stage's schema
// and decodes it into out. An unparseable or schema-violating result is a
// stage failure, never coerced.
func validateStageOutput(stage, raw string, out interface{}) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("stage %s returned unparseable output: %w", stage, err)
	}

	schema, ok := stageSchemas[stage]
	if !ok {
		return fmt.Errorf("no schema registered for stage %s", stage)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("stage %s output violates schema: %w", stage, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("stage %s output decode: %w", stage, err)
	}
	return nil
}
