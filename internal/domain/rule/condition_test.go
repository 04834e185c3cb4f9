package rule_test

import (
	"testing"

	"github.com/quarryhq/quarry/internal/domain/issue"
	"github.com/quarryhq/quarry/internal/domain/rule"
)

func evalCtx() *rule.EvalContext {
	return &rule.EvalContext{
		Issue: &issue.Issue{
			ID:           "iss-1",
			Key:          "PROJ-7",
			Summary:      "Crash on login",
			StatusID:     "st-open",
			StatusName:   "Open",
			PriorityID:   "p-high",
			PriorityName: "High",
			TypeID:       "t-bug",
			TypeName:     "Bug",
			AssigneeID:   "user-1",
			CustomFields: map[string]any{"severity": "sev1", "points": 5},
		},
		Actor: &issue.Actor{ID: "user-1", Role: "admin"},
	}
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name string
		spec rule.ConditionSpec
		want bool
	}{
		{"field_equals native match", rule.ConditionSpec{
			Type: rule.ConditionFieldEquals, Config: rule.Config{"field": "status", "value": "st-open"},
		}, true},
		{"field_equals native mismatch", rule.ConditionSpec{
			Type: rule.ConditionFieldEquals, Config: rule.Config{"field": "status", "value": "st-done"},
		}, false},
		{"field_equals custom match", rule.ConditionSpec{
			Type: rule.ConditionFieldEquals, Config: rule.Config{"field": "severity", "value": "sev1"},
		}, true},
		{"field_equals custom numeric", rule.ConditionSpec{
			Type: rule.ConditionFieldEquals, Config: rule.Config{"field": "points", "value": "5"},
		}, true},
		{"field_contains case insensitive", rule.ConditionSpec{
			Type: rule.ConditionFieldContains, Config: rule.Config{"field": "summary", "value": "CRASH"},
		}, true},
		{"field_contains no match", rule.ConditionSpec{
			Type: rule.ConditionFieldContains, Config: rule.Config{"field": "summary", "value": "timeout"},
		}, false},
		{"issue_type_is by id", rule.ConditionSpec{
			Type: rule.ConditionIssueTypeIs, Config: rule.Config{"issue_type": "t-bug"},
		}, true},
		{"issue_type_is by name", rule.ConditionSpec{
			Type: rule.ConditionIssueTypeIs, Config: rule.Config{"issue_type": "Bug"},
		}, true},
		{"issue_type_is mismatch", rule.ConditionSpec{
			Type: rule.ConditionIssueTypeIs, Config: rule.Config{"issue_type": "Task"},
		}, false},
		{"priority_is by name", rule.ConditionSpec{
			Type: rule.ConditionPriorityIs, Config: rule.Config{"priority": "High"},
		}, true},
		{"assignee_is exact", rule.ConditionSpec{
			Type: rule.ConditionAssigneeIs, Config: rule.Config{"assignee": "user-1"},
		}, true},
		{"assignee_is currentUser", rule.ConditionSpec{
			Type: rule.ConditionAssigneeIs, Config: rule.Config{"assignee": "currentUser"},
		}, true},
		{"assignee_is empty fails when assigned", rule.ConditionSpec{
			Type: rule.ConditionAssigneeIs, Config: rule.Config{"assignee": "empty"},
		}, false},
		{"user_in_role match", rule.ConditionSpec{
			Type: rule.ConditionUserInRole, Config: rule.Config{"role": "admin"},
		}, true},
		{"user_in_role mismatch", rule.ConditionSpec{
			Type: rule.ConditionUserInRole, Config: rule.Config{"role": "viewer"},
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rule.EvaluateCondition(tc.spec, evalCtx())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditionUnknownField(t *testing.T) {
	spec := rule.ConditionSpec{
		Type:   rule.ConditionFieldEquals,
		Config: rule.Config{"field": "nonexistent", "value": "x"},
	}
	passed, err := rule.EvaluateCondition(spec, evalCtx())
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if passed {
		t.Error("unknown field must not pass")
	}
}

func TestEvaluateConditionAssigneeEmpty(t *testing.T) {
	ctx := evalCtx()
	ctx.Issue.AssigneeID = ""

	spec := rule.ConditionSpec{
		Type:   rule.ConditionAssigneeIs,
		Config: rule.Config{"assignee": "empty"},
	}
	passed, err := rule.EvaluateCondition(spec, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Error("empty sentinel must pass on unassigned issue")
	}
}

func TestEvaluateConditionNilActor(t *testing.T) {
	ctx := evalCtx()
	ctx.Actor = nil

	for _, spec := range []rule.ConditionSpec{
		{Type: rule.ConditionUserInRole, Config: rule.Config{"role": "admin"}},
		{Type: rule.ConditionAssigneeIs, Config: rule.Config{"assignee": "currentUser"}},
	} {
		passed, err := rule.EvaluateCondition(spec, ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if passed {
			t.Errorf("%s must not pass without an actor", spec.Type)
		}
	}
}

func TestEvaluateConditionsEmptyPasses(t *testing.T) {
	passed, results := rule.EvaluateConditions(nil, evalCtx())
	if !passed {
		t.Error("empty condition list must pass")
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestEvaluateConditionsAllRunAfterFailure(t *testing.T) {
	specs := []rule.ConditionSpec{
		{Type: rule.ConditionPriorityIs, Config: rule.Config{"priority": "Low"}},
		{Type: rule.ConditionIssueTypeIs, Config: rule.Config{"issue_type": "Bug"}},
		{Type: rule.ConditionFieldEquals, Config: rule.Config{"field": "nonexistent", "value": "x"}},
	}

	passed, results := rule.EvaluateConditions(specs, evalCtx())
	if passed {
		t.Error("expected overall failure")
	}
	if len(results) != 3 {
		t.Fatalf("expected every condition evaluated, got %d results", len(results))
	}
	if results[0].Passed {
		t.Error("condition 0 should fail")
	}
	if !results[1].Passed {
		t.Error("condition 1 should pass")
	}
	if results[2].Passed || results[2].Error == "" {
		t.Error("condition 2 should fail with a recorded error")
	}
}

func TestEvaluateConditionsNilIssue(t *testing.T) {
	specs := []rule.ConditionSpec{
		{Type: rule.ConditionIssueTypeIs, Config: rule.Config{"issue_type": "Bug"}},
	}
	passed, _ := rule.EvaluateConditions(specs, &rule.EvalContext{})
	if passed {
		t.Error("conditions must fail without an issue snapshot")
	}
}
