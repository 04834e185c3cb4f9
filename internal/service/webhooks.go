package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/quarryhq/quarry/internal/domain"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/database"
)

// Webhooks manages webhook subscriptions, including secret generation and
// rotation. Secrets are generated server-side and returned exactly once on
// create and rotate.
type Webhooks struct {
	store database.Store
}

// NewWebhooks creates a Webhooks service.
func NewWebhooks(store database.Store) *Webhooks {
	return &Webhooks{store: store}
}

// Create validates and persists a new webhook, generating its signing
// secret. Defaults: 3 retries, 30 second timeout.
func (s *Webhooks) Create(ctx context.Context, w *webhook.Webhook) error {
	if err := validateWebhook(w); err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}
	if w.TimeoutSeconds <= 0 {
		w.TimeoutSeconds = 30
	}
	w.Secret = webhook.NewSecret()

	if err := s.store.CreateWebhook(ctx, w); err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

// Update persists changes to an existing webhook. The secret is not
// touched; use RotateSecret.
func (s *Webhooks) Update(ctx context.Context, w *webhook.Webhook) error {
	if err := validateWebhook(w); err != nil {
		return fmt.Errorf("update webhook %s: %w", w.ID, err)
	}
	if err := s.store.UpdateWebhook(ctx, w); err != nil {
		return fmt.Errorf("update webhook %s: %w", w.ID, err)
	}
	return nil
}

// Get returns a webhook by ID.
func (s *Webhooks) Get(ctx context.Context, id string) (*webhook.Webhook, error) {
	return s.store.GetWebhook(ctx, id)
}

// Delete soft-deletes a webhook. In-flight deliveries finalize against the
// missing webhook and stop retrying.
func (s *Webhooks) Delete(ctx context.Context, id string) error {
	if err := s.store.SoftDeleteWebhook(ctx, id); err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	return nil
}

// RotateSecret replaces the signing secret and returns the new value.
// Pending deliveries are signed with the new secret at send time.
func (s *Webhooks) RotateSecret(ctx context.Context, id string) (string, error) {
	secret := webhook.NewSecret()
	if err := s.store.UpdateWebhookSecret(ctx, id, secret); err != nil {
		return "", fmt.Errorf("rotate webhook secret %s: %w", id, err)
	}
	return secret, nil
}

func validateWebhook(w *webhook.Webhook) error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be a valid http(s) URL", domain.ErrInvalidConfig)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("%w: at least one event subscription is required", domain.ErrInvalidConfig)
	}
	return nil
}
