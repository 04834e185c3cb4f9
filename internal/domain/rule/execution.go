package rule

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the final status of one rule-evaluation attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ActionResult is the recorded outcome of one action execution.
type ActionResult struct {
	Index   int            `json:"index"`
	Type    ActionType     `json:"type"`
	Success bool           `json:"success"`
	Detail  map[string]any `json:"detail,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Execution is the audit record of one rule evaluation for one dispatch.
// It is created in a default failed state before evaluation starts, so a
// crash mid-evaluation still leaves a record, and finalized exactly once.
type Execution struct {
	ID        string `json:"id"`
	RuleID    string `json:"rule_id"`
	SubjectID string `json:"subject_id,omitempty"`

	// TriggerEvent is the envelope snapshot that produced this evaluation.
	TriggerEvent json.RawMessage `json:"trigger_event,omitempty"`

	Status           ExecutionStatus   `json:"status"`
	ConditionsPassed bool              `json:"conditions_passed"`
	ConditionsResult []ConditionResult `json:"conditions_result,omitempty"`
	ActionsResult    []ActionResult    `json:"actions_result,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	DurationMS       int64             `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// MarkSuccess finalizes the execution after all actions succeeded.
func (e *Execution) MarkSuccess(conditions []ConditionResult, actions []ActionResult, duration time.Duration) {
	e.Status = ExecutionSuccess
	e.ConditionsPassed = true
	e.ConditionsResult = conditions
	e.ActionsResult = actions
	e.DurationMS = duration.Milliseconds()
}

// MarkPartial finalizes the execution when some actions failed.
func (e *Execution) MarkPartial(conditions []ConditionResult, actions []ActionResult, duration time.Duration) {
	e.Status = ExecutionPartial
	e.ConditionsPassed = true
	e.ConditionsResult = conditions
	e.ActionsResult = actions
	e.ErrorMessage = "some actions failed"
	e.DurationMS = duration.Milliseconds()
}

// MarkFailed finalizes the execution as failed with a message.
func (e *Execution) MarkFailed(msg string, conditions []ConditionResult, duration time.Duration) {
	e.Status = ExecutionFailed
	e.ConditionsResult = conditions
	e.ErrorMessage = msg
	e.DurationMS = duration.Milliseconds()
}
