// Package notify delivers workflow notifications. Delivery is fire-and-forget: failures are
// logged and never surface to the workflow that raised the notification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

// LogNotifier writes notification requests to the log. It is the sink of the lite binary and of
// deployments without a delivery service.
type LogNotifier struct {
	log *logrus.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

// Notify logs the request
func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.log.WithFields(logrus.Fields{
		"notification_id":     msg.ID,
		"recipient_id":        msg.RecipientID,
		"type":                msg.Type,
		"secondary_review_id": msg.SecondaryReviewID,
		"case_id":             msg.CaseID,
	}).Info("Notification requested")
	return nil
}

// RedisNotifier pushes JSON-encoded requests onto a Redis list consumed by the delivery service
type RedisNotifier struct {
	client *redis.Client
	list   string
	log    *logrus.Logger
}

// NewRedisNotifier connects to Redis and verifies the connection
func NewRedisNotifier(ctx context.Context, config domain.CacheConfig, list string, logger *logrus.Logger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisNotifierWithClient(client, list, logger), nil
}

// NewRedisNotifierWithClient uses an existing client
func NewRedisNotifierWithClient(client *redis.Client, list string, logger *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, list: list, log: logger}
}

// Notify appends the request to the list
func (n *RedisNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	if err := n.client.RPush(ctx, n.list, payload).Err(); err != nil {
		return fmt.Errorf("pushing notification to %s: %w", n.list, err)
	}

	n.log.WithFields(logrus.Fields{
		"notification_id": msg.ID,
		"recipient_id":    msg.RecipientID,
		"type":            msg.Type,
		"list":            n.list,
	}).Debug("Notification queued in Redis")
	return nil
}

// Close closes the Redis client
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
