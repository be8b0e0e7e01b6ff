package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/handlers"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCounterStore_ApplyIsIdempotentPerMessage(t *testing.T) {
	// Arrange
	mr, client := setupRedis(t)
	store, err := handlers.NewRedisCounterStore(client, &handlers.RedisConfig{KeyPrefix: "qw:", DedupTTL: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	// Act
	v1, err := store.Apply(ctx, "hits", "msg-1", 5)
	require.NoError(t, err)
	v2, err := store.Apply(ctx, "hits", "msg-1", 5)
	require.NoError(t, err)
	v3, err := store.Apply(ctx, "hits", "msg-2", -2)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int64(5), v1)
	assert.Equal(t, int64(5), v2, "a redelivered message must not count twice")
	assert.Equal(t, int64(3), v3)
	got, err := mr.Get("qw:counter:hits")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.True(t, mr.Exists("qw:counter-applied:msg-1"))
	assert.Equal(t, time.Hour, mr.TTL("qw:counter-applied:msg-1"))
}

func TestRedisCounterStore_UnavailableIsRetryable(t *testing.T) {
	mr, client := setupRedis(t)
	store, err := handlers.NewRedisCounterStore(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	mr.Close()

	_, err = store.Apply(context.Background(), "hits", "msg-1", 1)
	assert.Equal(t, queueengine.ClassRetryable, queueengine.Classify(err))
}

func TestCounterHandler(t *testing.T) {
	mr, client := setupRedis(t)
	store, err := handlers.NewRedisCounterStore(client, &handlers.RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	h := handlers.NewCounterHandler(store)

	require.NoError(t, handle(t, h, types.MessageTypeCounter, types.CounterData{Name: "jobs", Increment: 2}, "m-1"))
	got, err := mr.Get(store.CounterKey("jobs"))
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	err = handle(t, h, types.MessageTypeCounter, types.CounterData{Name: "jobs"}, "m-2")
	assert.Equal(t, queueengine.ClassValidation, queueengine.Classify(err))
}

func TestNewRedisCounterStore_NilClient(t *testing.T) {
	_, err := handlers.NewRedisCounterStore(nil, &handlers.RedisConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr, _ := setupRedis(t)
	client, err := handlers.NewRedisClient(context.Background(), &handlers.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = handlers.NewRedisClient(context.Background(), &handlers.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	assert.Error(t, err)
}
