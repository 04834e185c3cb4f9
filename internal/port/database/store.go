// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/domain/webhook"
)

// ExecutionFilter narrows audit queries over automation executions.
type ExecutionFilter struct {
	RuleID    string
	SubjectID string
	Status    rule.ExecutionStatus
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// DeliveryFilter narrows audit queries over webhook deliveries.
type DeliveryFilter struct {
	WebhookID string
	EventType string
	Status    webhook.DeliveryStatus
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Store is the port interface for pipeline persistence.
type Store interface {
	// Rules
	ListActiveRules(ctx context.Context, orgID string, trigger rule.TriggerType, projectID string) ([]rule.Rule, error)
	GetRule(ctx context.Context, id string) (*rule.Rule, error)
	CreateRule(ctx context.Context, r *rule.Rule) error
	UpdateRule(ctx context.Context, r *rule.Rule) error
	SoftDeleteRule(ctx context.Context, id string) error
	// IncrementRuleExecution bumps execution_count and last_executed_at.
	IncrementRuleExecution(ctx context.Context, id string, at time.Time) error

	// Executions
	CreateExecution(ctx context.Context, e *rule.Execution) error
	// FinalizeExecution writes the terminal status and results exactly once;
	// an already-finalized execution returns domain.ErrConflict.
	FinalizeExecution(ctx context.Context, e *rule.Execution) error
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]rule.Execution, error)

	// Webhooks
	ListActiveWebhooks(ctx context.Context, orgID, projectID, eventType string) ([]webhook.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*webhook.Webhook, error)
	CreateWebhook(ctx context.Context, w *webhook.Webhook) error
	UpdateWebhook(ctx context.Context, w *webhook.Webhook) error
	SoftDeleteWebhook(ctx context.Context, id string) error
	UpdateWebhookSecret(ctx context.Context, id, secret string) error

	// Deliveries
	CreateDelivery(ctx context.Context, d *webhook.Delivery) error
	GetDelivery(ctx context.Context, id string) (*webhook.Delivery, error)
	// MarkDelivering transitions pending/retrying → delivering; returns
	// domain.ErrConflict if the delivery is not in a dispatchable state, so
	// two workers never execute the same attempt.
	MarkDelivering(ctx context.Context, id string) error
	// FinalizeDeliveryAttempt persists the attempt outcome and updates the
	// webhook's aggregate counters in the same transaction.
	FinalizeDeliveryAttempt(ctx context.Context, d *webhook.Delivery, success bool) error
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error)
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]webhook.Delivery, error)
	DeleteOldDeliveries(ctx context.Context, before time.Time) (int64, error)
}
