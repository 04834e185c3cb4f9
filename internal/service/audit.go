package service

import (
	"context"
	"fmt"

	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/database"
)

// Audit exposes read-only queries over execution and delivery history.
type Audit struct {
	store database.Store
}

// NewAudit creates an Audit service.
func NewAudit(store database.Store) *Audit {
	return &Audit{store: store}
}

// Executions lists execution records matching the filter, newest first.
func (a *Audit) Executions(ctx context.Context, f database.ExecutionFilter) ([]rule.Execution, error) {
	execs, err := a.store.ListExecutions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit executions: %w", err)
	}
	return execs, nil
}

// Deliveries lists delivery records matching the filter, newest first.
func (a *Audit) Deliveries(ctx context.Context, f database.DeliveryFilter) ([]webhook.Delivery, error) {
	deliveries, err := a.store.ListDeliveries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit deliveries: %w", err)
	}
	return deliveries, nil
}
