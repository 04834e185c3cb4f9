package rule

import "github.com/quarryhq/quarry/internal/domain/event"

// Dispatch is one matching pass over an envelope under a trigger category.
// A single issue_updated envelope fans out into several dispatches: one per
// changed field (field_changed), plus issue_transitioned when the status
// changed and issue_assigned on a first assignment. Field carries the changed
// field name for field_changed dispatches; the envelope itself is shared and
// never copied.
type Dispatch struct {
	Category TriggerType
	Field    string
	Envelope *event.Envelope
}

// Dispatches expands an envelope into its primary and synthesized trigger
// categories. Each dispatch is matched against rules independently, so one
// mutation can satisfy several distinct rules.
func Dispatches(env *event.Envelope) []Dispatch {
	switch env.Type {
	case event.TypeIssueCreated:
		return []Dispatch{{Category: TriggerIssueCreated, Envelope: env}}
	case event.TypeCommentAdded:
		return []Dispatch{{Category: TriggerCommentAdded, Envelope: env}}
	case event.TypeIssueUpdated:
		out := []Dispatch{{Category: TriggerIssueUpdated, Envelope: env}}
		for _, f := range env.ChangedFields {
			out = append(out, Dispatch{Category: TriggerFieldChanged, Field: f, Envelope: env})
		}
		if env.FieldChanged("status") {
			out = append(out, Dispatch{Category: TriggerIssueTransitioned, Envelope: env})
		}
		if env.FieldChanged("assignee") && env.FirstAssignment() {
			out = append(out, Dispatch{Category: TriggerIssueAssigned, Envelope: env})
		}
		return out
	default:
		return nil
	}
}

// MatchTrigger re-checks that a rule's trigger fires for a dispatch. Pure and
// deterministic; unknown trigger types cannot reach here because rules are
// validated at save time.
func MatchTrigger(t TriggerType, cfg Config, d Dispatch) bool {
	env := d.Envelope
	switch t {
	case TriggerIssueCreated:
		return env.Type == event.TypeIssueCreated
	case TriggerIssueUpdated:
		return env.Type == event.TypeIssueUpdated
	case TriggerCommentAdded:
		return env.Type == event.TypeCommentAdded
	case TriggerFieldChanged:
		if env.Type != event.TypeIssueUpdated {
			return false
		}
		field := cfg.String("field")
		return field != "" && env.FieldChanged(field)
	case TriggerIssueTransitioned:
		return env.Type == event.TypeIssueUpdated && env.FieldChanged("status")
	case TriggerIssueAssigned:
		return env.Type == event.TypeIssueUpdated &&
			env.FieldChanged("assignee") && env.FirstAssignment()
	case TriggerScheduled:
		return false
	default:
		return false
	}
}

// Matches reports whether a rule is a candidate for a dispatch: active, same
// trigger category, in scope, and trigger config satisfied.
func (r *Rule) Matches(d Dispatch) bool {
	if !r.IsActive || r.DeletedAt != nil {
		return false
	}
	if r.TriggerType != d.Category {
		return false
	}
	env := d.Envelope
	if r.OrganizationID != env.OrganizationID {
		return false
	}
	if r.ProjectID != "" && r.ProjectID != env.ProjectID {
		return false
	}
	if r.TriggerType == TriggerFieldChanged {
		field := r.TriggerConfig.String("field")
		if field == "" || !env.FieldChanged(field) {
			return false
		}
		// A field_changed dispatch is per-field; the rule only fires on its own.
		if d.Field != "" && d.Field != field {
			return false
		}
	}
	return MatchTrigger(r.TriggerType, r.TriggerConfig, d)
}
