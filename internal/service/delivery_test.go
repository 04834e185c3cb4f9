package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
	"github.com/quarryhq/quarry/internal/resilience"
)

func newTestExecutor(store *mockStore) *Executor {
	return NewExecutor(store, &mockQueue{}, resilience.NewBreakerSet(5, time.Minute), 4, nil, testLogger())
}

func seedDelivery(store *mockStore, url string) (*webhook.Webhook, *webhook.Delivery) {
	w := &webhook.Webhook{
		ID:             "wh-1",
		OrganizationID: "org-1",
		Name:           "ci hook",
		URL:            url,
		Events:         []string{webhook.EventIssueCreated},
		Secret:         "topsecret",
		CustomHeaders:  map[string]string{"X-Custom": "yes"},
		MaxRetries:     3,
		TimeoutSeconds: 5,
		IsActive:       true,
	}
	store.webhooks[w.ID] = w

	d := &webhook.Delivery{
		ID:          "del-1",
		WebhookID:   w.ID,
		EventType:   webhook.EventIssueCreated,
		EventID:     "evt-1",
		Status:      webhook.StatusPending,
		RequestURL:  url,
		RequestBody: `{"event_type":"issue:created","data":{}}`,
	}
	store.deliveries[d.ID] = d
	return w, d
}

func TestExecuteDeliverySuccess(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusSuccess {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ResponseStatusCode != http.StatusOK {
		t.Errorf("response code = %d", final.ResponseStatusCode)
	}
	if final.ResponseBody != "ok" {
		t.Errorf("response body = %q", final.ResponseBody)
	}

	sig := gotHeader.Get(webhook.SignatureHeader)
	if !webhook.VerifySignature(gotBody, "topsecret", sig) {
		t.Error("request signature must verify against the raw body")
	}
	if gotHeader.Get(webhook.WebhookIDHeader) != "wh-1" {
		t.Errorf("webhook id header = %q", gotHeader.Get(webhook.WebhookIDHeader))
	}
	if gotHeader.Get(webhook.EventHeader) != webhook.EventIssueCreated {
		t.Errorf("event header = %q", gotHeader.Get(webhook.EventHeader))
	}
	if gotHeader.Get(webhook.DeliveryIDHeader) != "del-1" {
		t.Errorf("delivery id header = %q", gotHeader.Get(webhook.DeliveryIDHeader))
	}
	if gotHeader.Get("X-Custom") != "yes" {
		t.Error("custom header must be sent")
	}

	if store.webhooks["wh-1"].SuccessfulDeliveries != 1 {
		t.Errorf("success counter = %d", store.webhooks["wh-1"].SuccessfulDeliveries)
	}
}

func TestExecuteDeliveryRedirectRangeCountsAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := store.deliveries[d.ID].Status; got != webhook.StatusSuccess {
		t.Errorf("status = %s, want success for 304", got)
	}
}

func TestExecuteDeliveryFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream broke`))
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusRetrying {
		t.Fatalf("status = %s, want retrying", final.Status)
	}
	if final.RetryCount != 1 {
		t.Errorf("retry count = %d", final.RetryCount)
	}
	if final.ErrorType != "http_error" {
		t.Errorf("error type = %q", final.ErrorType)
	}
	if final.NextRetryAt == nil {
		t.Fatal("next retry must be scheduled")
	}
	if store.webhooks["wh-1"].FailedDeliveries != 1 {
		t.Errorf("failed counter = %d", store.webhooks["wh-1"].FailedDeliveries)
	}
}

func TestExecuteDeliveryRetryExhaustionStaysFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	store.deliveries[d.ID].Status = webhook.StatusRetrying
	store.deliveries[d.ID].RetryCount = 3

	x := newTestExecutor(store)
	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusFailed {
		t.Fatalf("status = %s, want terminal failed", final.Status)
	}
	if final.NextRetryAt != nil {
		t.Error("exhausted delivery must not be rescheduled")
	}
}

func TestExecuteDeliveryConnectionError(t *testing.T) {
	store := newMockStore()
	_, d := seedDelivery(store, "http://127.0.0.1:1")
	x := newTestExecutor(store)

	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusRetrying {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ErrorType != "connection_error" {
		t.Errorf("error type = %q", final.ErrorType)
	}
}

func TestExecuteDeliveryClaimedByOtherWorker(t *testing.T) {
	store := newMockStore()
	_, d := seedDelivery(store, "http://example.invalid")
	store.deliveries[d.ID].Status = webhook.StatusDelivering

	x := newTestExecutor(store)
	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("claimed delivery must be a silent no-op, got %v", err)
	}
	if got := store.deliveries[d.ID].Status; got != webhook.StatusDelivering {
		t.Errorf("status = %s, must be untouched", got)
	}
}

func TestExecuteDeliveryWebhookDeleted(t *testing.T) {
	store := newMockStore()
	w, d := seedDelivery(store, "http://example.invalid")
	now := time.Now()
	store.webhooks[w.ID].DeletedAt = &now

	x := newTestExecutor(store)
	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusFailed {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ErrorType != "webhook_missing" {
		t.Errorf("error type = %q", final.ErrorType)
	}
}

func TestExecuteDeliveryTruncatesResponseBody(t *testing.T) {
	big := strings.Repeat("x", maxStoredResponseBody*2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, big)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := len(store.deliveries[d.ID].ResponseBody); got != maxStoredResponseBody {
		t.Errorf("stored body = %d bytes, want %d", got, maxStoredResponseBody)
	}
}

func TestExecuteDeliveryCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMockStore()
	w, _ := seedDelivery(store, srv.URL)

	breakers := resilience.NewBreakerSet(1, time.Minute)
	x := NewExecutor(store, &mockQueue{}, breakers, 4, nil, testLogger())

	// Trip the breaker for this webhook.
	_ = breakers.Execute(w.ID, func() error { return context.DeadlineExceeded })

	if err := x.Execute(context.Background(), "del-1"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	final := store.deliveries["del-1"]
	if final.ErrorType != "circuit_open" {
		t.Errorf("error type = %q, want circuit_open", final.ErrorType)
	}
}

func TestExecuteDeliveryFullRetrySequence(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	// Initial attempt plus one per retry; the sweeper would re-dispatch each
	// due retry, which Execute's claim transition accepts from retrying.
	for i := 0; i < 4; i++ {
		if err := x.Execute(context.Background(), d.ID); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	final := store.deliveries[d.ID]
	if attempts != 4 {
		t.Errorf("HTTP attempts = %d, want 4", attempts)
	}
	if final.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", final.RetryCount)
	}
	if final.Status != webhook.StatusFailed {
		t.Errorf("status = %s, want terminal failed", final.Status)
	}

	// Terminal deliveries are not executable again.
	if err := x.Execute(context.Background(), d.ID); err != nil {
		t.Fatalf("post-terminal execute: %v", err)
	}
	if attempts != 4 {
		t.Errorf("terminal delivery made another HTTP attempt (%d total)", attempts)
	}
}

func TestExecuteDeliveryRetryThenSuccess(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	for i := 0; i < 2; i++ {
		if err := x.Execute(context.Background(), d.ID); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	final := store.deliveries[d.ID]
	if final.Status != webhook.StatusSuccess {
		t.Fatalf("status = %s", final.Status)
	}
	if final.NextRetryAt != nil {
		t.Error("successful delivery must not keep a retry schedule")
	}
	if final.RetryCount != 1 {
		t.Errorf("retry count = %d", final.RetryCount)
	}
}

func TestHandleDispatchDecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMockStore()
	_, d := seedDelivery(store, srv.URL)
	x := newTestExecutor(store)

	msg, _ := json.Marshal(messagequeue.DeliveryDispatchPayload{DeliveryID: d.ID, WebhookID: d.WebhookID})
	if err := x.handleDispatch(context.Background(), messagequeue.SubjectDeliveryDispatch, msg); err != nil {
		t.Fatalf("handleDispatch failed: %v", err)
	}
	if got := store.deliveries[d.ID].Status; got != webhook.StatusSuccess {
		t.Errorf("status = %s", got)
	}

	if err := x.handleDispatch(context.Background(), messagequeue.SubjectDeliveryDispatch, []byte("not-json")); err == nil {
		t.Fatal("malformed payload must error for DLQ handling")
	}
}
