// Package event defines the immutable event envelope the automation engine
// and webhook dispatcher both consume.
package event

import (
	"time"

	"github.com/quarryhq/quarry/internal/domain/issue"
)

// Type classifies the domain mutation that produced an envelope.
type Type string

const (
	TypeIssueCreated Type = "issue_created"
	TypeIssueUpdated Type = "issue_updated"
	TypeIssueDeleted Type = "issue_deleted"
	TypeCommentAdded Type = "comment_added"
)

// Change records the old and new value of a single field.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Envelope is an immutable record of a domain event. It is created once per
// mutation by the collaborator that owns the mutation and is never modified
// afterwards; both the engine and the dispatcher read the same instance.
type Envelope struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	// SubjectID is the issue the event is about.
	SubjectID      string `json:"subject_id"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`

	// Actor is the user who caused the mutation, nil for system events.
	Actor *issue.Actor `json:"actor,omitempty"`

	// ChangedFields preserves diff order; Changes maps field to old/new.
	ChangedFields []string          `json:"changed_fields,omitempty"`
	Changes       map[string]Change `json:"changes,omitempty"`

	// Issue is the post-mutation snapshot; Comment is set for comment events.
	Issue   *issue.Issue   `json:"issue"`
	Comment *issue.Comment `json:"comment,omitempty"`
}

// FieldChanged reports whether the named field is in the envelope's diff.
func (e *Envelope) FieldChanged(name string) bool {
	for _, f := range e.ChangedFields {
		if f == name {
			return true
		}
	}
	return false
}

// FirstAssignment reports whether the assignee went from empty to non-empty,
// which distinguishes an initial assignment from a reassignment.
func (e *Envelope) FirstAssignment() bool {
	ch, ok := e.Changes["assignee"]
	if !ok {
		return false
	}
	return isEmptyValue(ch.Old) && !isEmptyValue(ch.New)
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
