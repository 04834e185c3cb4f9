// Package cache defines the port interface for caching. The pipeline uses it
// to keep active rule and webhook sets off the hot dispatch path. Entries
// carry a short TTL rather than explicit invalidation: evaluation always uses
// the configuration snapshot it read at dispatch time, so bounded staleness
// is acceptable.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builders for the lookup sets the dispatch path caches.

// RuleSetKey is the cache key for active rules of one org/trigger/project.
func RuleSetKey(orgID, trigger, projectID string) string {
	return "rules:" + orgID + ":" + trigger + ":" + projectID
}

// WebhookSetKey is the cache key for active webhooks of one org/project/event.
func WebhookSetKey(orgID, projectID, eventType string) string {
	return "webhooks:" + orgID + ":" + projectID + ":" + eventType
}
