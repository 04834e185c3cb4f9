package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/domain"
	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/actions"
	"github.com/quarryhq/quarry/internal/port/database"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testDeliveryCfg() config.Delivery {
	return config.Delivery{
		MaxConcurrent:   4,
		SweepInterval:   30 * time.Second,
		SweepBatch:      100,
		CleanupAge:      30 * 24 * time.Hour,
		CleanupInterval: 24 * time.Hour,
	}
}

// mockStore implements database.Store in memory.
type mockStore struct {
	mu sync.Mutex

	rules      []rule.Rule
	executions map[string]*rule.Execution
	webhooks   map[string]*webhook.Webhook
	deliveries map[string]*webhook.Delivery

	nextID int

	listRulesErr    error
	createExecErr   error
	finalizedExecs  []string
	incrementedRule []string
}

func newMockStore() *mockStore {
	return &mockStore{
		executions: make(map[string]*rule.Execution),
		webhooks:   make(map[string]*webhook.Webhook),
		deliveries: make(map[string]*webhook.Delivery),
	}
}

func (s *mockStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *mockStore) ListActiveRules(_ context.Context, orgID string, trigger rule.TriggerType, projectID string) ([]rule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listRulesErr != nil {
		return nil, s.listRulesErr
	}
	var out []rule.Rule
	for _, r := range s.rules {
		if r.OrganizationID != orgID || r.TriggerType != trigger || !r.IsActive {
			continue
		}
		if r.ProjectID != "" && r.ProjectID != projectID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *mockStore) GetRule(_ context.Context, id string) (*rule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			r := s.rules[i]
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = s.id("rule")
	}
	s.rules = append(s.rules, *r)
	return nil
}

func (s *mockStore) UpdateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == r.ID {
			s.rules[i] = *r
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) SoftDeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			now := time.Now()
			s.rules[i].DeletedAt = &now
			s.rules[i].IsActive = false
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *mockStore) IncrementRuleExecution(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementedRule = append(s.incrementedRule, id)
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].ExecutionCount++
			s.rules[i].LastExecutedAt = &at
		}
	}
	return nil
}

func (s *mockStore) CreateExecution(_ context.Context, e *rule.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createExecErr != nil {
		return s.createExecErr
	}
	if e.ID == "" {
		e.ID = s.id("exec")
	}
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *mockStore) FinalizeExecution(_ context.Context, e *rule.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.executions[e.ID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, id := range s.finalizedExecs {
		if id == e.ID {
			return domain.ErrConflict
		}
	}
	s.finalizedExecs = append(s.finalizedExecs, e.ID)
	*stored = *e
	return nil
}

func (s *mockStore) ListExecutions(_ context.Context, _ database.ExecutionFilter) ([]rule.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rule.Execution
	for _, e := range s.executions {
		out = append(out, *e)
	}
	return out, nil
}

func (s *mockStore) ListActiveWebhooks(_ context.Context, orgID, projectID, eventType string) ([]webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Webhook
	for _, w := range s.webhooks {
		if !w.IsActive || w.DeletedAt != nil {
			continue
		}
		if !w.InScope(orgID, projectID) || !w.IsSubscribedTo(eventType) {
			continue
		}
		cp := *w
		cp.Secret = ""
		out = append(out, cp)
	}
	return out, nil
}

func (s *mockStore) GetWebhook(_ context.Context, id string) (*webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok || w.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *mockStore) CreateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = s.id("wh")
	}
	cp := *w
	s.webhooks[w.ID] = &cp
	return nil
}

func (s *mockStore) UpdateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.webhooks[w.ID]
	if !ok {
		return domain.ErrNotFound
	}
	secret := stored.Secret
	*stored = *w
	stored.Secret = secret
	return nil
}

func (s *mockStore) SoftDeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	w.DeletedAt = &now
	w.IsActive = false
	return nil
}

func (s *mockStore) UpdateWebhookSecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Secret = secret
	return nil
}

func (s *mockStore) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = s.id("del")
	}
	d.CreatedAt = time.Now().UTC()
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *mockStore) GetDelivery(_ context.Context, id string) (*webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *mockStore) MarkDelivering(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != webhook.StatusPending && d.Status != webhook.StatusRetrying {
		return domain.ErrConflict
	}
	d.Status = webhook.StatusDelivering
	return nil
}

func (s *mockStore) FinalizeDeliveryAttempt(_ context.Context, d *webhook.Delivery, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.deliveries[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	*stored = *d
	w, ok := s.webhooks[d.WebhookID]
	if ok {
		w.TotalDeliveries++
		if success {
			w.SuccessfulDeliveries++
		} else {
			w.FailedDeliveries++
		}
	}
	return nil
}

func (s *mockStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range s.deliveries {
		if d.Status != webhook.StatusRetrying || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) ListDeliveries(_ context.Context, _ database.DeliveryFilter) ([]webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range s.deliveries {
		out = append(out, *d)
	}
	return out, nil
}

func (s *mockStore) DeleteOldDeliveries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.deliveries {
		if d.Status != webhook.StatusSuccess && d.Status != webhook.StatusFailed {
			continue
		}
		if d.CreatedAt.Before(before) {
			delete(s.deliveries, id)
			n++
		}
	}
	return n, nil
}

// mockCache implements cache.Cache in memory, ignoring TTLs.
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	gets    int
	hits    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
	handlers   map[string]messagequeue.Handler
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) publishedTo(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [][]byte
	for _, p := range q.published {
		if p.subject == subject {
			out = append(out, p.data)
		}
	}
	return out
}

// mockPerformer implements actions.Performer and records every call.
type mockPerformer struct {
	mu    sync.Mutex
	calls []string

	failOn string
	err    error
	panics bool
}

func (p *mockPerformer) record(call string) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	if p.panics {
		panic("performer exploded")
	}
	if p.failOn != "" && call == p.failOn {
		if p.err != nil {
			return p.err
		}
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (p *mockPerformer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *mockPerformer) UpdateField(_ context.Context, _, _ string, _ any) error {
	return p.record("update_field")
}

func (p *mockPerformer) AssignIssue(_ context.Context, _, userRef string) (string, error) {
	if err := p.record("assign_to_user"); err != nil {
		return "", err
	}
	return "name of " + userRef, nil
}

func (p *mockPerformer) TransitionIssue(_ context.Context, _, statusID string) (string, error) {
	if err := p.record("transition_issue"); err != nil {
		return "", err
	}
	return "status " + statusID, nil
}

func (p *mockPerformer) AddComment(_ context.Context, _, _, _ string) (string, error) {
	if err := p.record("add_comment"); err != nil {
		return "", err
	}
	return "cmt-1", nil
}

func (p *mockPerformer) SendNotification(_ context.Context, _ []string, _ string) error {
	return p.record("send_notification")
}

func (p *mockPerformer) CreateLinkedIssue(_ context.Context, _ string, _ actions.LinkedIssueRequest) (string, error) {
	if err := p.record("create_linked_issue"); err != nil {
		return "", err
	}
	return "PROJ-99", nil
}
