package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notification is the document forwarded to subscribers.
type Notification struct {
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// Notifier forwards a notification to a channel.
type Notifier interface {
	Notify(ctx context.Context, channel string, n Notification) error
}

// RedisNotifier publishes notifications on Redis pub/sub channels.
type RedisNotifier struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    zerolog.Logger
}

// NewRedisNotifier creates a RedisNotifier over an existing client.
func NewRedisNotifier(client redis.UniversalClient, cfg *RedisConfig, logger zerolog.Logger) (*RedisNotifier, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisNotifier{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With().Str("component", "RedisNotifier").Logger(),
	}, nil
}

// ChannelName returns the Redis channel a notification channel maps to.
func (n *RedisNotifier) ChannelName(channel string) string {
	return n.keyPrefix + "notify:" + channel
}

// Notify publishes n. Having no subscriber is not an error.
func (n *RedisNotifier) Notify(ctx context.Context, channel string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return queueengine.Permanent(fmt.Errorf("encode notification: %w", err))
	}
	receivers, err := n.client.Publish(ctx, n.ChannelName(channel), payload).Result()
	if err != nil {
		return queueengine.Retryable(fmt.Errorf("redis publish to %s: %w", channel, err))
	}
	n.logger.Debug().Str("channel", channel).Int64("receivers", receivers).Msg("Notification published.")
	return nil
}

// NewNotificationHandler returns the handler for "notification" messages.
func NewNotificationHandler(notifier Notifier) queueengine.Handler {
	return queueengine.Typed[types.NotificationData](func(ctx context.Context, p *types.NotificationData, meta queueengine.Meta) error {
		return notifier.Notify(ctx, p.Channel, Notification{
			MessageID: meta.MessageID,
			Recipient: p.Recipient,
			Body:      p.Body,
		})
	})
}

// NotificationSchema is the JSON schema for "notification" payloads.
const NotificationSchema = `{
  "type": "object",
  "required": ["channel", "recipient", "body"],
  "properties": {
    "channel":   {"type": "string", "minLength": 1},
    "recipient": {"type": "string", "minLength": 1},
    "body":      {"type": "string", "maxLength": 4096}
  }
}`
