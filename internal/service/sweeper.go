package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/port/database"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
)

// Sweeper re-enqueues retrying deliveries whose backoff has elapsed and
// reaps old terminal delivery records. Re-enqueueing the same delivery twice
// is harmless: the executor's claim transition rejects the second worker.
type Sweeper struct {
	store database.Store
	queue messagequeue.Queue
	log   *slog.Logger
	cfg   config.Delivery
}

// NewSweeper creates a Sweeper.
func NewSweeper(store database.Store, queue messagequeue.Queue, log *slog.Logger, cfg config.Delivery) *Sweeper {
	return &Sweeper{store: store, queue: queue, log: log, cfg: cfg}
}

// Run blocks, sweeping on the configured intervals until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.sweepRetries(ctx)
		case <-cleanup.C:
			s.cleanupDeliveries(ctx)
		}
	}
}

// sweepRetries re-enqueues due retries. Exported through Run; split out so
// tests can drive a single pass.
func (s *Sweeper) sweepRetries(ctx context.Context) {
	due, err := s.store.ListDueRetries(ctx, time.Now().UTC(), s.cfg.SweepBatch)
	if err != nil {
		s.log.Error("list due retries", "error", err)
		return
	}

	for i := range due {
		d := &due[i]
		msg, err := json.Marshal(messagequeue.DeliveryDispatchPayload{
			DeliveryID: d.ID,
			WebhookID:  d.WebhookID,
		})
		if err != nil {
			s.log.Error("marshal retry dispatch", "delivery_id", d.ID, "error", err)
			continue
		}
		if err := s.queue.Publish(ctx, messagequeue.SubjectDeliveryDispatch, msg); err != nil {
			s.log.Error("publish retry dispatch", "delivery_id", d.ID, "error", err)
			continue
		}
	}

	if len(due) > 0 {
		s.log.Info("retry sweep", "re_enqueued", len(due))
	}
}

func (s *Sweeper) cleanupDeliveries(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.CleanupAge)
	n, err := s.store.DeleteOldDeliveries(ctx, cutoff)
	if err != nil {
		s.log.Error("delivery cleanup", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("delivery cleanup", "deleted", n, "older_than", cutoff)
	}
}
