package rule

import (
	"fmt"
	"strings"

	"github.com/quarryhq/quarry/internal/domain/event"
	"github.com/quarryhq/quarry/internal/domain/issue"
)

// EvalContext is the read-only context conditions and actions evaluate over.
type EvalContext struct {
	Issue    *issue.Issue
	Actor    *issue.Actor
	Envelope *event.Envelope
	Changes  map[string]event.Change
}

// ConditionResult is the recorded outcome of one condition evaluation.
type ConditionResult struct {
	Index  int           `json:"index"`
	Type   ConditionType `json:"type"`
	Passed bool          `json:"passed"`
	Error  string        `json:"error,omitempty"`
}

// EvaluateConditions evaluates every condition of a rule. All conditions run
// even after a failure so the execution record shows each outcome; the rule
// passes only if all pass, and an empty list always passes. An evaluation
// error counts as a failing condition but does not stop the siblings.
func EvaluateConditions(specs []ConditionSpec, ctx *EvalContext) (bool, []ConditionResult) {
	if len(specs) == 0 {
		return true, nil
	}

	allPassed := true
	results := make([]ConditionResult, 0, len(specs))
	for i, spec := range specs {
		passed, err := EvaluateCondition(spec, ctx)
		res := ConditionResult{Index: i, Type: spec.Type, Passed: passed}
		if err != nil {
			res.Passed = false
			res.Error = err.Error()
		}
		if !res.Passed {
			allPassed = false
		}
		results = append(results, res)
	}
	return allPassed, results
}

// EvaluateCondition evaluates a single condition. Pure over the context.
func EvaluateCondition(spec ConditionSpec, ctx *EvalContext) (bool, error) {
	if ctx.Issue == nil {
		return false, nil
	}

	switch spec.Type {
	case ConditionFieldEquals:
		return evalFieldEquals(spec.Config, ctx.Issue)
	case ConditionFieldContains:
		return evalFieldContains(spec.Config, ctx.Issue)
	case ConditionIssueTypeIs:
		return evalIssueTypeIs(spec.Config, ctx.Issue), nil
	case ConditionPriorityIs:
		return evalPriorityIs(spec.Config, ctx.Issue), nil
	case ConditionAssigneeIs:
		return evalAssigneeIs(spec.Config, ctx), nil
	case ConditionUserInRole:
		return evalUserInRole(spec.Config, ctx), nil
	default:
		// Unreachable for validated rules; reported as a failing condition.
		return false, fmt.Errorf("unknown condition type %q", spec.Type)
	}
}

func evalFieldEquals(cfg Config, iss *issue.Issue) (bool, error) {
	field := cfg.String("field")
	actual, ok := issue.Resolve(iss, field)
	if !ok {
		return false, fmt.Errorf("field %q not found", field)
	}
	return fmt.Sprintf("%v", actual) == cfg.String("value"), nil
}

func evalFieldContains(cfg Config, iss *issue.Issue) (bool, error) {
	field := cfg.String("field")
	actual, ok := issue.Resolve(iss, field)
	if !ok {
		return false, fmt.Errorf("field %q not found", field)
	}
	if actual == nil {
		return false, nil
	}
	return strings.Contains(
		strings.ToLower(fmt.Sprintf("%v", actual)),
		strings.ToLower(cfg.String("value")),
	), nil
}

func evalIssueTypeIs(cfg Config, iss *issue.Issue) bool {
	if iss.TypeID == "" && iss.TypeName == "" {
		return false
	}
	expected := cfg.String("issue_type")
	return iss.TypeID == expected || iss.TypeName == expected
}

func evalPriorityIs(cfg Config, iss *issue.Issue) bool {
	if iss.PriorityID == "" && iss.PriorityName == "" {
		return false
	}
	expected := cfg.String("priority")
	return iss.PriorityID == expected || iss.PriorityName == expected
}

func evalAssigneeIs(cfg Config, ctx *EvalContext) bool {
	assignee := ctx.Issue.AssigneeID
	switch expected := cfg.String("assignee"); expected {
	case "currentUser":
		return ctx.Actor != nil && assignee != "" && assignee == ctx.Actor.ID
	case "empty":
		return assignee == ""
	default:
		return assignee != "" && assignee == expected
	}
}

func evalUserInRole(cfg Config, ctx *EvalContext) bool {
	if ctx.Actor == nil {
		return false
	}
	return ctx.Actor.Role != "" && ctx.Actor.Role == cfg.String("role")
}
