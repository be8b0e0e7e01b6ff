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

type ackRecorder struct {
	acked, retried int
}

func (a *ackRecorder) Acknowledge()        { a.acked++ }
func (a *ackRecorder) Retry(time.Duration) { a.retried++ }

func TestRegistrations_CoverEveryKnownType(t *testing.T) {
	_, client := setupRedis(t)
	counters, err := handlers.NewRedisCounterStore(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	notifier, err := handlers.NewRedisNotifier(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)

	registry, err := queueengine.NewRegistry(handlers.Registrations(handlers.Dependencies{
		Tasks:         newMockTaskStore(),
		Counters:      counters,
		Notifications: notifier,
		Now:           clock,
	})...)
	require.NoError(t, err)
	assert.NoError(t, registry.RequireTypes(types.KnownMessageTypes()...))
}

func TestRegistrations_SchemaRejectsBeforeHandler(t *testing.T) {
	// Arrange
	_, client := setupRedis(t)
	counters, err := handlers.NewRedisCounterStore(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	notifier, err := handlers.NewRedisNotifier(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	tasks := newMockTaskStore()
	registry, err := queueengine.NewRegistry(handlers.Registrations(handlers.Dependencies{Tasks: tasks, Counters: counters, Notifications: notifier})...)
	require.NoError(t, err)
	processor, err := queueengine.NewBatchProcessor(registry, zerolog.Nop())
	require.NoError(t, err)

	good := &ackRecorder{}
	bad := &ackRecorder{}
	batch := &queueengine.Batch{Queue: "jobs", Deliveries: []queueengine.Delivery{
		{ID: "1", Acker: good, Body: &types.Message{Type: types.MessageTypeTask, Data: json.RawMessage(`{"task_id":"t-1","action":"create"}`)}},
		{ID: "2", Acker: bad, Body: &types.Message{Type: types.MessageTypeTask, Data: json.RawMessage(`{"task_id":"t-2","action":"archive"}`)}},
	}}

	// Act
	result, err := processor.Process(context.Background(), batch)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, queueengine.BatchResult{Acknowledged: 2}, result)
	assert.Equal(t, 1, good.acked)
	assert.Equal(t, 1, bad.acked)
	_, created := tasks.Get("t-1")
	assert.True(t, created)
	_, created = tasks.Get("t-2")
	assert.False(t, created)
}
