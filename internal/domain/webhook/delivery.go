package webhook

import (
	"encoding/json"
	"time"
)

// DeliveryStatus tracks the delivery state machine:
// pending → delivering → success or failed; failed attempts that still have
// retry budget move to retrying and loop back through delivering.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusDelivering DeliveryStatus = "delivering"
	StatusSuccess    DeliveryStatus = "success"
	StatusFailed     DeliveryStatus = "failed"
	StatusRetrying   DeliveryStatus = "retrying"
)

// retryBaseDelay is the first retry interval; each retry doubles it.
const retryBaseDelay = 60 * time.Second

// Payload is the JSON body POSTed to webhook endpoints. Field names are the
// wire contract external integrators parse; do not rename.
type Payload struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delivery is one webhook transmission and its retries. A delivery and its
// retries share one record mutated through state transitions, preserving a
// single first-attempt time across attempts.
type Delivery struct {
	ID        string `json:"id"`
	WebhookID string `json:"webhook_id"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id,omitempty"`

	Status DeliveryStatus `json:"status"`

	RequestURL     string            `json:"request_url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body"`

	ResponseStatusCode int               `json:"response_status_code,omitempty"`
	ResponseHeaders    map[string]string `json:"response_headers,omitempty"`
	ResponseBody       string            `json:"response_body,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`

	DurationMS  int64      `json:"duration_ms,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MarkSuccess records a successful attempt.
func (d *Delivery) MarkSuccess(statusCode int, headers map[string]string, body string, duration time.Duration, now time.Time) {
	d.Status = StatusSuccess
	d.ResponseStatusCode = statusCode
	d.ResponseHeaders = headers
	d.ResponseBody = body
	d.DurationMS = duration.Milliseconds()
	d.DeliveredAt = &now
	d.NextRetryAt = nil
}

// MarkFailed records a failed attempt. The caller decides afterwards whether
// to schedule a retry.
func (d *Delivery) MarkFailed(errType, errMsg string, statusCode int, body string, duration time.Duration, now time.Time) {
	d.Status = StatusFailed
	d.ErrorType = errType
	d.ErrorMessage = errMsg
	d.ResponseStatusCode = statusCode
	d.ResponseBody = body
	d.DurationMS = duration.Milliseconds()
	d.DeliveredAt = &now
}

// CanRetry reports whether another attempt is allowed under the webhook's
// retry budget.
func (d *Delivery) CanRetry(maxRetries int) bool {
	if d.Status != StatusFailed && d.Status != StatusRetrying {
		return false
	}
	return d.RetryCount < maxRetries
}

// ScheduleRetry transitions to retrying and computes the next attempt time
// with exponential backoff (60s, 120s, 240s, ...).
func (d *Delivery) ScheduleRetry(now time.Time) {
	delay := RetryDelay(d.RetryCount)
	d.RetryCount++
	d.Status = StatusRetrying
	next := now.Add(delay)
	d.NextRetryAt = &next
}

// RetryDelay returns the backoff delay before attempt retryCount+1.
func RetryDelay(retryCount int) time.Duration {
	return retryBaseDelay * (1 << retryCount)
}
