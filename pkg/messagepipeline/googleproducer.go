package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// ErrInvalidMessage wraps producer-side validation failures.
var ErrInvalidMessage = errors.New("invalid message")

// TypeAttribute is the broker attribute carrying the message type, so that
// subscriptions can filter without decoding the body.
const TypeAttribute = "type"

// GooglePubsubProducerConfig holds configuration for the Google Pub/Sub producer.
type GooglePubsubProducerConfig struct {
	ProjectID                  string
	TopicID                    string
	BatchSize                  int           // Corresponds to Pub/Sub's CountThreshold.
	BatchDelay                 time.Duration // Corresponds to Pub/Sub's DelayThreshold.
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducerDefaults provides a config with sensible defaults.
func NewGooglePubsubProducerDefaults(topicID string) *GooglePubsubProducerConfig {
	cfg := &GooglePubsubProducerConfig{
		TopicID:                    topicID,
		BatchSize:                  100,
		BatchDelay:                 10 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
	if bs := os.Getenv("PUBSUB_PRODUCER_BATCH_SIZE"); bs != "" {
		if val, err := strconv.Atoi(bs); err == nil {
			cfg.BatchSize = val
		}
	}
	if bd := os.Getenv("PUBSUB_PRODUCER_BATCH_DELAY"); bd != "" {
		if val, err := time.ParseDuration(bd); err == nil {
			cfg.BatchDelay = val
		}
	}
	return cfg
}

// GooglePubsubProducer validates messages and publishes them to a Pub/Sub
// topic. Send blocks until the broker confirms the publish.
type GooglePubsubProducer struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducer creates a producer after verifying the topic exists.
func NewGooglePubsubProducer(
	ctx context.Context,
	cfg *GooglePubsubProducerConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubProducer, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for producer")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePubsubProducer initialized successfully.")
	return &GooglePubsubProducer{
		topic:                      topic,
		logger:                     logger.With().Str("component", "GooglePubsubProducer").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Send validates msg and publishes it.
func (p *GooglePubsubProducer) Send(ctx context.Context, msg types.Message) error {
	payload, err := encodeForSend(msg)
	if err != nil {
		return err
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{TypeAttribute: string(msg.Type)},
	})

	getCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	id, err := res.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msg.Type, err)
	}
	p.logger.Debug().Str("pubsub_msg_id", id).Str("message_type", string(msg.Type)).Msg("Message published.")
	return nil
}

// Stop flushes outstanding publishes, bounded by ctx.
func (p *GooglePubsubProducer) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping Pub/Sub producer...")
	return stopTopic(ctx, p.topic)
}

// encodeForSend runs the producer-side checks and serialises the body.
func encodeForSend(msg types.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	payload, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return payload, nil
}

// stopTopic wraps the blocking topic.Stop so it respects ctx.
func stopTopic(ctx context.Context, topic *pubsub.Topic) error {
	if topic == nil {
		return nil
	}
	stopDone := make(chan struct{})
	go func() {
		topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
