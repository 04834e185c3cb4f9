package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	qotel "github.com/quarryhq/quarry/internal/adapter/otel"
	"github.com/quarryhq/quarry/internal/domain"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/database"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
	"github.com/quarryhq/quarry/internal/resilience"
)

// maxStoredResponseBody bounds the response body snapshot kept for audit.
const maxStoredResponseBody = 10 * 1024

// Executor performs webhook HTTP deliveries. Work arrives on the
// deliveries.dispatch subject; a weighted semaphore bounds concurrent
// outbound requests and a per-webhook circuit breaker keeps one dead
// endpoint from burning the worker pool.
type Executor struct {
	store    database.Store
	queue    messagequeue.Queue
	breakers *resilience.BreakerSet
	sem      *semaphore.Weighted
	client   *http.Client
	metrics  *qotel.Metrics
	log      *slog.Logger
}

// NewExecutor creates an Executor. maxConcurrent bounds in-flight HTTP
// deliveries across all webhooks.
func NewExecutor(store database.Store, queue messagequeue.Queue, breakers *resilience.BreakerSet,
	maxConcurrent int64, metrics *qotel.Metrics, log *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		queue:    queue,
		breakers: breakers,
		sem:      semaphore.NewWeighted(maxConcurrent),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Per-request timeouts come from each webhook's configuration.
		},
		metrics: metrics,
		log:     log,
	}
}

// Start subscribes the executor to the dispatch subject. The returned
// function cancels the subscription.
func (x *Executor) Start(ctx context.Context) (func(), error) {
	return x.queue.Subscribe(ctx, messagequeue.SubjectDeliveryDispatch, x.handleDispatch)
}

func (x *Executor) handleDispatch(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.DeliveryDispatchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}

	if err := x.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire delivery slot: %w", err)
	}
	defer x.sem.Release(1)

	return x.Execute(ctx, payload.DeliveryID)
}

// Execute runs one delivery attempt end to end: claim, sign, POST, record.
// A delivery already claimed by another worker is a silent no-op.
func (x *Executor) Execute(ctx context.Context, deliveryID string) error {
	d, err := x.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("execute delivery %s: %w", deliveryID, err)
	}

	w, err := x.store.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Webhook deleted between dispatch and execution; park the delivery.
			return x.abandon(ctx, d, "webhook_missing", "webhook no longer exists")
		}
		return fmt.Errorf("execute delivery %s: %w", deliveryID, err)
	}

	if err := x.store.MarkDelivering(ctx, d.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another worker owns this attempt, or it already finished.
			return nil
		}
		return fmt.Errorf("execute delivery %s: %w", deliveryID, err)
	}
	d.Status = webhook.StatusDelivering

	ctx, span := qotel.StartDeliverySpan(ctx, d.ID, w.ID)
	defer span.End()

	x.attempt(ctx, w, d)
	return nil
}

// attempt performs the HTTP POST and finalizes the delivery record. All
// failure modes are recorded on the delivery; nothing propagates.
func (x *Executor) attempt(ctx context.Context, w *webhook.Webhook, d *webhook.Delivery) {
	body := []byte(d.RequestBody)
	headers := buildHeaders(w, d, body)
	d.RequestHeaders = headers

	start := time.Now()
	now := func() time.Time { return time.Now().UTC() }

	var (
		statusCode  int
		respHeaders map[string]string
		respBody    string
	)
	httpErr := x.breakers.Execute(w.ID, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(w.TimeoutSeconds)*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.RequestURL, strings.NewReader(d.RequestBody))
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := x.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		statusCode = resp.StatusCode
		respHeaders = flattenHeader(resp.Header)
		respBody = readBounded(resp.Body)

		if statusCode < 200 || statusCode >= 400 {
			return fmt.Errorf("endpoint returned %d", statusCode)
		}
		return nil
	})

	duration := time.Since(start)

	if httpErr == nil {
		d.MarkSuccess(statusCode, respHeaders, respBody, duration, now())
		x.record(ctx, w, d, true)
		return
	}

	errType := classifyDeliveryError(httpErr, statusCode)
	d.MarkFailed(errType, httpErr.Error(), statusCode, respBody, duration, now())
	if d.CanRetry(w.MaxRetries) {
		d.ScheduleRetry(now())
	}
	x.record(ctx, w, d, false)
}

// abandon terminates a delivery whose webhook disappeared.
func (x *Executor) abandon(ctx context.Context, d *webhook.Delivery, errType, msg string) error {
	if err := x.store.MarkDelivering(ctx, d.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("abandon delivery %s: %w", d.ID, err)
	}
	d.MarkFailed(errType, msg, 0, "", 0, time.Now().UTC())
	if err := x.store.FinalizeDeliveryAttempt(ctx, d, false); err != nil {
		return fmt.Errorf("abandon delivery %s: %w", d.ID, err)
	}
	return nil
}

func (x *Executor) record(ctx context.Context, w *webhook.Webhook, d *webhook.Delivery, success bool) {
	if err := x.store.FinalizeDeliveryAttempt(ctx, d, success); err != nil {
		x.log.Error("finalize delivery attempt", "delivery_id", d.ID, "error", err)
		return
	}

	x.log.Info("delivery attempted",
		"delivery_id", d.ID,
		"webhook_id", w.ID,
		"event", d.EventType,
		"status", d.Status,
		"http_status", d.ResponseStatusCode,
		"retry_count", d.RetryCount,
		"duration_ms", d.DurationMS)

	if x.metrics != nil {
		x.metrics.DeliveriesAttempted.Add(ctx, 1)
		if !success {
			x.metrics.DeliveriesFailed.Add(ctx, 1)
		}
		x.metrics.DeliveryDuration.Record(ctx, float64(d.DurationMS)/1000)
	}
}

// buildHeaders assembles the wire-contract headers: the HMAC signature over
// the raw body plus identification headers, merged with the webhook's custom
// headers. Custom headers cannot shadow the contract headers.
func buildHeaders(w *webhook.Webhook, d *webhook.Delivery, body []byte) map[string]string {
	headers := make(map[string]string, len(w.CustomHeaders)+5)
	for k, v := range w.CustomHeaders {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers[webhook.SignatureHeader] = webhook.Sign(body, w.Secret)
	headers[webhook.WebhookIDHeader] = w.ID
	headers[webhook.EventHeader] = d.EventType
	headers[webhook.DeliveryIDHeader] = d.ID
	return headers
}

// classifyDeliveryError buckets a delivery failure for the audit record.
func classifyDeliveryError(err error, statusCode int) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case statusCode != 0:
		return "http_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		return "connection_error"
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func readBounded(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxStoredResponseBody))
	if err != nil {
		return ""
	}
	return string(b)
}
