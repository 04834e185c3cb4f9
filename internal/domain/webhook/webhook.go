// Package webhook defines outbound webhook subscriptions and the delivery
// state machine, including the signed wire contract external receivers
// verify against.
package webhook

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Event type tags external subscribers can register for.
const (
	EventIssueCreated       = "issue:created"
	EventIssueUpdated       = "issue:updated"
	EventIssueDeleted       = "issue:deleted"
	EventIssueAssigned      = "issue:assigned"
	EventIssueTransitioned  = "issue:transitioned"
	EventIssueCommented     = "issue:commented"
	EventAutomationExecuted = "automation:executed"
	EventTest               = "webhook:test"
)

// Webhook is an outbound subscription. ProjectID narrows it to one project;
// empty means organization-wide, which matches events from every project.
type Webhook struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`

	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	Secret        string            `json:"-"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`

	MaxRetries     int  `json:"max_retries"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	IsActive       bool `json:"is_active"`

	TotalDeliveries      int        `json:"total_deliveries"`
	SuccessfulDeliveries int        `json:"successful_deliveries"`
	FailedDeliveries     int        `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsSubscribedTo reports whether the webhook subscribes to an event type.
func (w *Webhook) IsSubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// InScope reports whether the webhook applies to the given org/project.
// Org-wide webhooks apply to all projects of their organization.
func (w *Webhook) InScope(orgID, projectID string) bool {
	if w.OrganizationID != orgID {
		return false
	}
	return w.ProjectID == "" || w.ProjectID == projectID
}

// SuccessRate returns the delivery success rate as a percentage.
func (w *Webhook) SuccessRate() float64 {
	if w.TotalDeliveries == 0 {
		return 0
	}
	return float64(w.SuccessfulDeliveries) / float64(w.TotalDeliveries) * 100
}

// NewSecret generates a URL-safe random secret for HMAC signing.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
