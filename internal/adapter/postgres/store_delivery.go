package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quarryhq/quarry/internal/domain"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/database"
)

const deliveryColumns = `id, webhook_id, event_type, event_id, status,
	request_url, request_headers, request_body,
	response_status_code, response_headers, response_body,
	error_message, error_type, duration_ms, delivered_at,
	retry_count, next_retry_at, created_at`

func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	reqHeaders, err := marshalHeaders(d.RequestHeaders)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_deliveries
		   (webhook_id, event_type, event_id, status, request_url, request_headers, request_body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		d.WebhookID, d.EventType, d.EventID, d.Status,
		d.RequestURL, reqHeaders, d.RequestBody)

	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*webhook.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)

	d, err := scanDelivery(row)
	if err != nil {
		return nil, notFoundWrap(err, "get delivery %s", id)
	}
	return &d, nil
}

func (s *Store) MarkDelivering(ctx context.Context, id string) error {
	// Conditional transition so two workers never run the same attempt.
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET status = $2
		 WHERE id = $1 AND status IN ($3, $4)`,
		id, webhook.StatusDelivering, webhook.StatusPending, webhook.StatusRetrying)
	if err != nil {
		return fmt.Errorf("mark delivering %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("mark delivering %s: %w", id, err)
		}
		if exists {
			return fmt.Errorf("mark delivering %s: %w", id, domain.ErrConflict)
		}
		return fmt.Errorf("mark delivering %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) FinalizeDeliveryAttempt(ctx context.Context, d *webhook.Delivery, success bool) error {
	respHeaders, err := marshalHeaders(d.ResponseHeaders)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("finalize delivery %s: begin: %w", d.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE webhook_deliveries
		 SET status = $2, response_status_code = $3, response_headers = $4,
		     response_body = $5, error_message = $6, error_type = $7,
		     duration_ms = $8, delivered_at = $9, retry_count = $10, next_retry_at = $11
		 WHERE id = $1`,
		d.ID, d.Status, d.ResponseStatusCode, respHeaders,
		d.ResponseBody, d.ErrorMessage, d.ErrorType,
		d.DurationMS, d.DeliveredAt, d.RetryCount, d.NextRetryAt)
	if err := execExpectOne(tag, err, "finalize delivery %s", d.ID); err != nil {
		return err
	}

	// Aggregate counters move with the delivery record so audit views and
	// counters never disagree.
	if success {
		_, err = tx.Exec(ctx,
			`UPDATE webhooks
			 SET total_deliveries = total_deliveries + 1,
			     successful_deliveries = successful_deliveries + 1,
			     last_delivery_at = $2, last_success_at = $2
			 WHERE id = $1`, d.WebhookID, d.DeliveredAt)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE webhooks
			 SET total_deliveries = total_deliveries + 1,
			     failed_deliveries = failed_deliveries + 1,
			     last_delivery_at = $2
			 WHERE id = $1`, d.WebhookID, d.DeliveredAt)
	}
	if err != nil {
		return fmt.Errorf("finalize delivery %s: update counters: %w", d.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("finalize delivery %s: commit: %w", d.ID, err)
	}
	return nil
}

func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+`
		 FROM webhook_deliveries
		 WHERE status = $1 AND next_retry_at <= $2
		 ORDER BY next_retry_at
		 LIMIT $3`,
		webhook.StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func (s *Store) ListDeliveries(ctx context.Context, f database.DeliveryFilter) ([]webhook.Delivery, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.WebhookID != "" {
		add("webhook_id = ?", f.WebhookID)
	}
	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Since != nil {
		add("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		add("created_at < ?", *f.Until)
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func (s *Store) DeleteOldDeliveries(ctx context.Context, before time.Time) (int64, error) {
	// Only terminal deliveries are eligible; retrying ones still carry state.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_deliveries
		 WHERE created_at < $1 AND status IN ($2, $3)`,
		before, webhook.StatusSuccess, webhook.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectDeliveries(rows pgx.Rows) ([]webhook.Delivery, error) {
	var deliveries []webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row scannable) (webhook.Delivery, error) {
	var (
		d           webhook.Delivery
		reqHeaders  []byte
		respHeaders []byte
	)
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.EventID, &d.Status,
		&d.RequestURL, &reqHeaders, &d.RequestBody,
		&d.ResponseStatusCode, &respHeaders, &d.ResponseBody,
		&d.ErrorMessage, &d.ErrorType, &d.DurationMS, &d.DeliveredAt,
		&d.RetryCount, &d.NextRetryAt, &d.CreatedAt)
	if err != nil {
		return webhook.Delivery{}, err
	}

	if err := json.Unmarshal(reqHeaders, &d.RequestHeaders); err != nil {
		return webhook.Delivery{}, fmt.Errorf("unmarshal request headers: %w", err)
	}
	if err := json.Unmarshal(respHeaders, &d.ResponseHeaders); err != nil {
		return webhook.Delivery{}, fmt.Errorf("unmarshal response headers: %w", err)
	}
	return d, nil
}
