package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings shared by the Redis-backed handlers.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key and channel the handlers touch.
	KeyPrefix string
	// DedupTTL is how long an applied counter increment is remembered.
	DedupTTL time.Duration
}

// NewRedisClient connects to Redis and pings it before returning.
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return rdb, nil
}

// applyIncrement adds ARGV[1] to KEYS[1] unless the marker KEYS[2] is already
// set, and returns the counter value.
var applyIncrement = redis.NewScript(`
if redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[2]) then
  return redis.call('INCRBY', KEYS[1], ARGV[1])
end
return tonumber(redis.call('GET', KEYS[1]) or '0')
`)

// RedisCounterStore applies counter increments at most once per message ID.
type RedisCounterStore struct {
	client    redis.UniversalClient
	keyPrefix string
	dedupTTL  time.Duration
	logger    zerolog.Logger
}

// NewRedisCounterStore creates a RedisCounterStore over an existing client.
func NewRedisCounterStore(client redis.UniversalClient, cfg *RedisConfig, logger zerolog.Logger) (*RedisCounterStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounterStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		dedupTTL:  ttl,
		logger:    logger.With().Str("component", "RedisCounterStore").Logger(),
	}, nil
}

// Apply adds increment to the named counter. A second call with the same
// messageID leaves the counter unchanged and returns its current value.
func (s *RedisCounterStore) Apply(ctx context.Context, name, messageID string, increment int64) (int64, error) {
	keys := []string{s.CounterKey(name), s.keyPrefix + "counter-applied:" + messageID}
	ttlSeconds := int64(s.dedupTTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	v, err := applyIncrement.Run(ctx, s.client, keys, increment, ttlSeconds).Int64()
	if err != nil {
		return 0, queueengine.Retryable(fmt.Errorf("redis counter %s: %w", name, err))
	}
	return v, nil
}

// CounterKey returns the Redis key holding the named counter.
func (s *RedisCounterStore) CounterKey(name string) string {
	return s.keyPrefix + "counter:" + name
}

// CounterStore applies idempotent counter increments.
type CounterStore interface {
	Apply(ctx context.Context, name, messageID string, increment int64) (int64, error)
}

// NewCounterHandler returns the handler for "counter" messages.
func NewCounterHandler(store CounterStore) queueengine.Handler {
	return queueengine.Typed[types.CounterData](func(ctx context.Context, p *types.CounterData, meta queueengine.Meta) error {
		value, err := store.Apply(ctx, p.Name, meta.MessageID, p.Increment)
		if err != nil {
			return err
		}
		meta.Logger.Debug().Str("counter", p.Name).Int64("value", value).Msg("Counter applied.")
		return nil
	})
}

// CounterSchema is the JSON schema for "counter" payloads.
const CounterSchema = `{
  "type": "object",
  "required": ["name", "increment"],
  "properties": {
    "name":      {"type": "string", "minLength": 1},
    "increment": {"type": "integer"}
  }
}`
