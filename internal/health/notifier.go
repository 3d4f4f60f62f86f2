package health

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventQuotaAlert is the Redis channel alerts are published on. The
// operator dashboard subscribes and forwards to its notification feed.
const EventQuotaAlert = "EVENT_QUOTA_ALERT"

// RedisNotifier publishes alerts as JSON events on Redis pub/sub.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier returns a Notifier backed by the given client.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal quota alert: %w", err)
	}
	if err := n.rdb.Publish(ctx, EventQuotaAlert, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", EventQuotaAlert, err)
	}
	return nil
}
