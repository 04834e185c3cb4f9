// Package rule defines automation rules: the trigger, condition and action
// kinds, save-time validation, and the pure evaluation logic that runs over
// event envelopes.
package rule

import (
	"fmt"
	"time"

	"github.com/quarryhq/quarry/internal/domain"
)

// TriggerType identifies the event category a rule reacts to.
type TriggerType string

const (
	TriggerIssueCreated      TriggerType = "issue_created"
	TriggerIssueUpdated      TriggerType = "issue_updated"
	TriggerFieldChanged      TriggerType = "field_changed"
	TriggerIssueTransitioned TriggerType = "issue_transitioned"
	TriggerIssueAssigned     TriggerType = "issue_assigned"
	TriggerCommentAdded      TriggerType = "comment_added"

	// TriggerScheduled is accepted in stored rules for forward compatibility;
	// no scheduler dispatches it.
	TriggerScheduled TriggerType = "scheduled"
)

// ConditionType identifies a condition kind.
type ConditionType string

const (
	ConditionFieldEquals   ConditionType = "field_equals"
	ConditionFieldContains ConditionType = "field_contains"
	ConditionIssueTypeIs   ConditionType = "issue_type_is"
	ConditionPriorityIs    ConditionType = "priority_is"
	ConditionAssigneeIs    ConditionType = "assignee_is"
	ConditionUserInRole    ConditionType = "user_in_role"
)

// ActionType identifies an action kind.
type ActionType string

const (
	ActionUpdateField       ActionType = "update_field"
	ActionAssignToUser      ActionType = "assign_to_user"
	ActionTransitionIssue   ActionType = "transition_issue"
	ActionAddComment        ActionType = "add_comment"
	ActionSendNotification  ActionType = "send_notification"
	ActionCreateLinkedIssue ActionType = "create_linked_issue"
)

// Config is an opaque per-kind configuration object stored as JSON.
type Config map[string]any

// String returns the string value of a config key, or "" if absent.
func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// ConditionSpec pairs a condition kind with its configuration.
type ConditionSpec struct {
	Type   ConditionType `json:"type"`
	Config Config        `json:"config"`
}

// ActionSpec pairs an action kind with its configuration.
type ActionSpec struct {
	Type   ActionType `json:"type"`
	Config Config     `json:"config"`
}

// Rule is an organization-scoped automation rule. ProjectID narrows the rule
// to one project; empty means organization-wide. Rules are soft-deleted.
type Rule struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`

	TriggerType   TriggerType     `json:"trigger_type"`
	TriggerConfig Config          `json:"trigger_config,omitempty"`
	Conditions    []ConditionSpec `json:"conditions,omitempty"`
	Actions       []ActionSpec    `json:"actions"`

	IsActive       bool       `json:"is_active"`
	ExecutionCount int        `json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate performs save-time validation: unknown kinds and missing required
// config keys are rejected here so they can never surface during evaluation.
func (r *Rule) Validate() error {
	if err := validateTriggerConfig(r.TriggerType, r.TriggerConfig); err != nil {
		return err
	}

	for i, c := range r.Conditions {
		if err := validateConditionConfig(c.Type, c.Config); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", domain.ErrInvalidConfig)
	}
	for i, a := range r.Actions {
		if err := validateActionConfig(a.Type, a.Config); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}

func validateTriggerConfig(t TriggerType, cfg Config) error {
	switch t {
	case TriggerIssueCreated, TriggerIssueUpdated, TriggerIssueTransitioned,
		TriggerIssueAssigned, TriggerCommentAdded:
		return nil
	case TriggerFieldChanged:
		return requireKeys(cfg, string(t), "field")
	case TriggerScheduled:
		return requireKeys(cfg, string(t), "cron")
	default:
		return fmt.Errorf("%w: unknown trigger type %q", domain.ErrInvalidConfig, t)
	}
}

func validateConditionConfig(t ConditionType, cfg Config) error {
	switch t {
	case ConditionFieldEquals, ConditionFieldContains:
		return requireKeys(cfg, string(t), "field", "value")
	case ConditionIssueTypeIs:
		return requireKeys(cfg, string(t), "issue_type")
	case ConditionPriorityIs:
		return requireKeys(cfg, string(t), "priority")
	case ConditionAssigneeIs:
		return requireKeys(cfg, string(t), "assignee")
	case ConditionUserInRole:
		return requireKeys(cfg, string(t), "role")
	default:
		return fmt.Errorf("%w: unknown condition type %q", domain.ErrInvalidConfig, t)
	}
}

func validateActionConfig(t ActionType, cfg Config) error {
	switch t {
	case ActionUpdateField:
		return requireKeys(cfg, string(t), "field", "value")
	case ActionAssignToUser:
		return requireKeys(cfg, string(t), "user")
	case ActionTransitionIssue:
		return requireKeys(cfg, string(t), "status")
	case ActionAddComment:
		return requireKeys(cfg, string(t), "body")
	case ActionSendNotification:
		return requireKeys(cfg, string(t), "message")
	case ActionCreateLinkedIssue:
		return requireKeys(cfg, string(t), "summary", "issue_type")
	default:
		return fmt.Errorf("%w: unknown action type %q", domain.ErrInvalidConfig, t)
	}
}

func requireKeys(cfg Config, kind string, keys ...string) error {
	for _, k := range keys {
		if _, ok := cfg[k]; !ok {
			return fmt.Errorf("%w: %s requires %q in config", domain.ErrInvalidConfig, kind, k)
		}
	}
	return nil
}
