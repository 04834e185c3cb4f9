// Package issue defines the issue snapshot consumed by the automation
// pipeline. The tracker that owns issue persistence passes these snapshots
// into event envelopes; the pipeline never reads issues back from storage.
package issue

// Ref identifies an entity by ID with its organization/project scope.
type Ref struct {
	ID             string `json:"id"`
	Key            string `json:"key,omitempty"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
}

// Actor identifies the user who caused a domain event. Role is the actor's
// project role, resolved by the caller (the pipeline does no authz lookups).
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Issue is a point-in-time snapshot of an issue. Reference fields carry both
// the ID (stable, used for comparisons) and the display name.
type Issue struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
	ProjectKey     string `json:"project_key,omitempty"`
	ProjectName    string `json:"project_name,omitempty"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`

	StatusID     string `json:"status_id,omitempty"`
	StatusName   string `json:"status_name,omitempty"`
	PriorityID   string `json:"priority_id,omitempty"`
	PriorityName string `json:"priority_name,omitempty"`
	TypeID       string `json:"type_id,omitempty"`
	TypeName     string `json:"type_name,omitempty"`

	AssigneeID    string `json:"assignee_id,omitempty"`
	AssigneeName  string `json:"assignee_name,omitempty"`
	AssigneeEmail string `json:"assignee_email,omitempty"`
	ReporterID    string `json:"reporter_id,omitempty"`
	ReporterName  string `json:"reporter_name,omitempty"`
	ReporterEmail string `json:"reporter_email,omitempty"`

	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// Comment is a snapshot of a comment attached to an issue event.
type Comment struct {
	ID       string `json:"id"`
	IssueID  string `json:"issue_id"`
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
}
