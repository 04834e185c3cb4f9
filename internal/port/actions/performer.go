// Package actions defines the port through which automation actions perform
// their side effects. The tracker that owns issue persistence implements it;
// the engine only records outcomes.
package actions

import "context"

// LinkedIssueRequest describes the issue an action creates and links.
type LinkedIssueRequest struct {
	ProjectID   string
	TypeID      string
	Summary     string
	Description string
	ReporterID  string
	LinkType    string
}

// Performer executes the side effects of automation actions. Every method
// returns an error instead of panicking; the engine isolates failures per
// action.
type Performer interface {
	// UpdateField sets a native or custom field on an issue.
	UpdateField(ctx context.Context, issueID, field string, value any) error

	// AssignIssue assigns the issue to the referenced user (ID or email) and
	// returns the resolved assignee's display name.
	AssignIssue(ctx context.Context, issueID, userRef string) (string, error)

	// TransitionIssue moves the issue to the given status and returns the
	// status display name.
	TransitionIssue(ctx context.Context, issueID, statusID string) (string, error)

	// AddComment adds a comment authored by authorID and returns its ID.
	AddComment(ctx context.Context, issueID, authorID, body string) (string, error)

	// SendNotification delivers a message to the recipients.
	SendNotification(ctx context.Context, recipients []string, message string) error

	// CreateLinkedIssue creates a new issue linked to issueID and returns the
	// new issue's key.
	CreateLinkedIssue(ctx context.Context, issueID string, req LinkedIssueRequest) (string, error)
}
