package handlers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/handlers"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationHandler_PublishesToRedis(t *testing.T) {
	// Arrange
	_, client := setupRedis(t)
	notifier, err := handlers.NewRedisNotifier(client, &handlers.RedisConfig{KeyPrefix: "qw:"}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	sub := client.Subscribe(ctx, notifier.ChannelName("email"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	h := handlers.NewNotificationHandler(notifier)

	// Act
	err = handle(t, h, types.MessageTypeNotification, types.NotificationData{Channel: "email", Recipient: "ops@example.com", Body: "disk full"}, "msg-9")
	require.NoError(t, err)

	// Assert
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qw:notify:email", msg.Channel)
	var n handlers.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, handlers.Notification{MessageID: "msg-9", Recipient: "ops@example.com", Body: "disk full"}, n)
}

func TestNotificationHandler_NoSubscriberIsFine(t *testing.T) {
	_, client := setupRedis(t)
	notifier, err := handlers.NewRedisNotifier(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	h := handlers.NewNotificationHandler(notifier)

	err = handle(t, h, types.MessageTypeNotification, types.NotificationData{Channel: "sms", Recipient: "r", Body: "b"}, "m")
	assert.NoError(t, err)
}

func TestNotificationHandler_RedisDownIsRetryable(t *testing.T) {
	mr, client := setupRedis(t)
	notifier, err := handlers.NewRedisNotifier(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	mr.Close()

	err = handle(t, handlers.NewNotificationHandler(notifier), types.MessageTypeNotification, types.NotificationData{Channel: "sms", Recipient: "r", Body: "b"}, "m")
	assert.Equal(t, queueengine.ClassRetryable, queueengine.Classify(err))
}
