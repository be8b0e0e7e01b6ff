package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher defines a direct, unbatched publisher of raw payloads. It is
// used for dead-lettering, where the caller needs to know the publish landed.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisher implements a direct-to-Pub/Sub publisher.
type GoogleSimplePublisher struct {
	topic          *pubsub.Topic
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewGoogleSimplePublisher creates a new simple, non-batching publisher.
// It accepts a context to verify that the target topic exists before returning.
func NewGoogleSimplePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &GoogleSimplePublisher{
		topic:          topic,
		confirmTimeout: 30 * time.Second,
		logger:         logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish sends a single message to Pub/Sub and waits for the broker to
// confirm it.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	getCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	return stopTopic(ctx, p.topic)
}
