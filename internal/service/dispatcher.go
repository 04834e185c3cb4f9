package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/cache"
	"github.com/quarryhq/quarry/internal/port/database"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
)

// Dispatcher turns domain events into pending webhook deliveries. It decides
// WHICH webhooks receive an event and snapshots the request body; the
// executor does the actual HTTP work off the event path.
type Dispatcher struct {
	store    database.Store
	cache    cache.Cache
	queue    messagequeue.Queue
	log      *slog.Logger
	cacheTTL time.Duration
}

// NewDispatcher creates a Dispatcher with all dependencies.
func NewDispatcher(store database.Store, c cache.Cache, queue messagequeue.Queue,
	log *slog.Logger, cacheTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    store,
		cache:    c,
		queue:    queue,
		log:      log,
		cacheTTL: cacheTTL,
	}
}

// Broadcast creates a pending delivery for every active webhook of the
// organization that subscribes to eventType and is in scope for the project.
// No matching webhooks is a silent no-op. The request body is snapshotted
// now; signing happens at delivery time so secret rotation applies to
// retries.
func (d *Dispatcher) Broadcast(ctx context.Context, orgID, projectID, eventType, eventID string, data any) error {
	hooks, err := d.activeWebhooks(ctx, orgID, projectID, eventType)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", eventType, err)
	}
	if len(hooks) == 0 {
		return nil
	}

	rawData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("broadcast %s: marshal data: %w", eventType, err)
	}

	body, err := json.Marshal(webhook.Payload{
		EventType: eventType,
		EventID:   eventID,
		Data:      rawData,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("broadcast %s: marshal payload: %w", eventType, err)
	}

	for i := range hooks {
		if err := d.enqueue(ctx, &hooks[i], eventType, eventID, body); err != nil {
			// One bad webhook must not starve the others.
			d.log.Error("enqueue delivery", "webhook_id", hooks[i].ID, "event", eventType, "error", err)
		}
	}
	return nil
}

// TestDelivery sends a webhook:test event to a single webhook regardless of
// its event subscriptions, so integrators can verify their endpoint and
// signature handling.
func (d *Dispatcher) TestDelivery(ctx context.Context, webhookID string) (*webhook.Delivery, error) {
	w, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("test delivery: %w", err)
	}

	body, err := json.Marshal(webhook.Payload{
		EventType: webhook.EventTest,
		Data:      json.RawMessage(`{"test":true}`),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("test delivery: marshal payload: %w", err)
	}

	delivery := &webhook.Delivery{
		WebhookID:   w.ID,
		EventType:   webhook.EventTest,
		Status:      webhook.StatusPending,
		RequestURL:  w.URL,
		RequestBody: string(body),
	}
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("test delivery: %w", err)
	}
	if err := d.publishDispatch(ctx, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, w *webhook.Webhook, eventType, eventID string, body []byte) error {
	delivery := &webhook.Delivery{
		WebhookID:   w.ID,
		EventType:   eventType,
		EventID:     eventID,
		Status:      webhook.StatusPending,
		RequestURL:  w.URL,
		RequestBody: string(body),
	}
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		return err
	}
	return d.publishDispatch(ctx, delivery)
}

func (d *Dispatcher) publishDispatch(ctx context.Context, delivery *webhook.Delivery) error {
	msg, err := json.Marshal(messagequeue.DeliveryDispatchPayload{
		DeliveryID: delivery.ID,
		WebhookID:  delivery.WebhookID,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	if err := d.queue.Publish(ctx, messagequeue.SubjectDeliveryDispatch, msg); err != nil {
		return fmt.Errorf("publish dispatch: %w", err)
	}
	return nil
}

// activeWebhooks returns the subscribed webhooks for one org/project/event,
// served from the L1 cache when fresh.
func (d *Dispatcher) activeWebhooks(ctx context.Context, orgID, projectID, eventType string) ([]webhook.Webhook, error) {
	key := cache.WebhookSetKey(orgID, projectID, eventType)

	if data, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		var hooks []webhook.Webhook
		if err := json.Unmarshal(data, &hooks); err == nil {
			return hooks, nil
		}
	}

	hooks, err := d.store.ListActiveWebhooks(ctx, orgID, projectID, eventType)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}

	if data, err := json.Marshal(hooks); err == nil {
		if err := d.cache.Set(ctx, key, data, d.cacheTTL); err != nil {
			d.log.Warn("cache webhook set", "key", key, "error", err)
		}
	}
	return hooks, nil
}
