package service

import (
	"context"
	"fmt"

	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/port/database"
)

// Rules manages the automation rule lifecycle. Validation happens here at
// save time so evaluation never sees an unknown kind or a missing config key.
type Rules struct {
	store database.Store
}

// NewRules creates a Rules service.
func NewRules(store database.Store) *Rules {
	return &Rules{store: store}
}

// Create validates and persists a new rule.
func (s *Rules) Create(ctx context.Context, r *rule.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	if err := s.store.CreateRule(ctx, r); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Update validates and persists changes to an existing rule.
func (s *Rules) Update(ctx context.Context, r *rule.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return nil
}

// Get returns a rule by ID.
func (s *Rules) Get(ctx context.Context, id string) (*rule.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// Delete soft-deletes a rule; it stops matching immediately (modulo cache
// TTL) but its execution history remains queryable.
func (s *Rules) Delete(ctx context.Context, id string) error {
	if err := s.store.SoftDeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}
