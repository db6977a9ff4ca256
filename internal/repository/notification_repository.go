package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/cache"
)

// NotificationRepository keeps a bounded per-user inbox in Redis and publishes
// each message on the user's channel for live consumers.
type NotificationRepository struct {
	client *redis.Client
	ttl    time.Duration
	limit  int64
}

// NewNotificationRepository constructs the inbox store.
func NewNotificationRepository(client *redis.Client, ttl time.Duration, limit int) *NotificationRepository {
	if limit <= 0 {
		limit = 100
	}
	return &NotificationRepository{client: client, ttl: ttl, limit: int64(limit)}
}

// InboxKey is the list holding a user's notifications, newest first.
func InboxKey(userID string) string {
	return cache.Key("inbox", userID)
}

// ChannelKey is the pub/sub channel for a user's notifications.
func ChannelKey(userID string) string {
	return cache.Key("notify", userID)
}

// Push stores the notification and publishes it.
func (r *NotificationRepository) Push(ctx context.Context, notification models.Notification) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := InboxKey(notification.UserID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, r.limit-1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.Publish(ctx, ChannelKey(notification.UserID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification %s: %w", notification.ID, err)
	}
	return nil
}

// List returns up to limit notifications for the user, newest first.
func (r *NotificationRepository) List(ctx context.Context, userID string, limit int64) ([]models.Notification, error) {
	if r.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > r.limit {
		limit = r.limit
	}
	raw, err := r.client.LRange(ctx, InboxKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	notifications := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}
