package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quarryhq/quarry/internal/domain/webhook"
)

const webhookColumns = `id, organization_id, project_id, name, description,
	url, events, secret, custom_headers,
	max_retries, timeout_seconds, is_active,
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_success_at,
	created_at, updated_at, deleted_at`

func (s *Store) ListActiveWebhooks(ctx context.Context, orgID, projectID, eventType string) ([]webhook.Webhook, error) {
	// Org-wide webhooks (project_id IS NULL) receive events from every project.
	// Event subscription is a text[] membership check.
	rows, err := s.pool.Query(ctx,
		`SELECT `+webhookColumns+`
		 FROM webhooks
		 WHERE organization_id = $1
		   AND is_active AND deleted_at IS NULL
		   AND (project_id IS NULL OR project_id = $2)
		   AND $3 = ANY(events)
		 ORDER BY created_at`,
		orgID, nullIfEmpty(projectID), eventType)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []webhook.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*webhook.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 AND deleted_at IS NULL`, id)

	w, err := scanWebhook(row)
	if err != nil {
		return nil, notFoundWrap(err, "get webhook %s", id)
	}
	return &w, nil
}

func (s *Store) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	headers, err := marshalHeaders(w.CustomHeaders)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO webhooks
		   (organization_id, project_id, name, description, url, events, secret,
		    custom_headers, max_retries, timeout_seconds, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		w.OrganizationID, nullIfEmpty(w.ProjectID), w.Name, w.Description,
		w.URL, pgTextArray(w.Events), w.Secret, headers,
		w.MaxRetries, w.TimeoutSeconds, w.IsActive)

	if err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (s *Store) UpdateWebhook(ctx context.Context, w *webhook.Webhook) error {
	headers, err := marshalHeaders(w.CustomHeaders)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE webhooks
		 SET name = $2, description = $3, url = $4, events = $5, custom_headers = $6,
		     max_retries = $7, timeout_seconds = $8, is_active = $9, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		w.ID, w.Name, w.Description, w.URL, pgTextArray(w.Events), headers,
		w.MaxRetries, w.TimeoutSeconds, w.IsActive)
	return execExpectOne(tag, err, "update webhook %s", w.ID)
}

func (s *Store) SoftDeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhooks SET deleted_at = now(), is_active = false
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return execExpectOne(tag, err, "delete webhook %s", id)
}

func (s *Store) UpdateWebhookSecret(ctx context.Context, id, secret string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhooks SET secret = $2, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`, id, secret)
	return execExpectOne(tag, err, "update webhook secret %s", id)
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		h = map[string]string{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal custom headers: %w", err)
	}
	return b, nil
}

func scanWebhook(row scannable) (webhook.Webhook, error) {
	var (
		w         webhook.Webhook
		projectID *string
		headers   []byte
	)
	err := row.Scan(&w.ID, &w.OrganizationID, &projectID, &w.Name, &w.Description,
		&w.URL, &w.Events, &w.Secret, &headers,
		&w.MaxRetries, &w.TimeoutSeconds, &w.IsActive,
		&w.TotalDeliveries, &w.SuccessfulDeliveries, &w.FailedDeliveries,
		&w.LastDeliveryAt, &w.LastSuccessAt,
		&w.CreatedAt, &w.UpdatedAt, &w.DeletedAt)
	if err != nil {
		return webhook.Webhook{}, err
	}

	w.ProjectID = derefOrEmpty(projectID)
	if err := json.Unmarshal(headers, &w.CustomHeaders); err != nil {
		return webhook.Webhook{}, fmt.Errorf("unmarshal custom headers: %w", err)
	}
	return w, nil
}
