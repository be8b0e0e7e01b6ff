package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// --- Google Cloud Pub/Sub Consumer Implementation ---

// ErrNoDeliveryAttempts is returned for a subscription without a dead-letter
// policy. Pub/Sub only counts delivery attempts on such subscriptions, and a
// nacked body is redelivered unchanged, so without the counter a failing
// message would start again at attempt 1 on every redelivery.
var ErrNoDeliveryAttempts = errors.New("subscription has no dead-letter policy; delivery attempts are not tracked")

// GooglePubsubConsumerConfig holds configuration for the Pub/Sub consumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string
	SubscriptionID         string
	CredentialsFile        string // Optional
	MaxOutstandingMessages int
	NumGoroutines          int
	// SubscriptionExistsTimeout bounds the existence check made at construction.
	SubscriptionExistsTimeout time.Duration
}

// NewGooglePubsubConsumerDefaults returns a config for subID with sensible
// defaults, overridable through PUBSUB_CONSUMER_* environment variables.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	cfg := &GooglePubsubConsumerConfig{
		SubscriptionID:            subID,
		MaxOutstandingMessages:    100,
		NumGoroutines:             5,
		SubscriptionExistsTimeout: 20 * time.Second,
	}
	if v := os.Getenv("PUBSUB_CONSUMER_MAX_OUTSTANDING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOutstandingMessages = n
		}
	}
	if v := os.Getenv("PUBSUB_CONSUMER_GOROUTINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumGoroutines = n
		}
	}
	return cfg
}

// GooglePubsubConsumer receives messages from a Pub/Sub subscription. The
// subscription must have a dead-letter policy; its delivery attempt counter is
// reported as Message.DeliveryAttempt.
type GooglePubsubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	wg                 sync.WaitGroup
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer creates a consumer after verifying the subscription exists.
func NewGooglePubsubConsumer(cfg *GooglePubsubConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	timeout := cfg.SubscriptionExistsTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	subContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	exists, err := sub.Exists(subContext)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	subConfig, err := sub.Config(subContext)
	if err != nil {
		return nil, fmt.Errorf("failed to read config of subscription %s: %w", cfg.SubscriptionID, err)
	}
	if subConfig.DeadLetterPolicy == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDeliveryAttempts, cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	bufferSize := cfg.MaxOutstandingMessages
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &GooglePubsubConsumer{
		client:       client,
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan Message, bufferSize),
		doneChan:     make(chan struct{}),
	}, nil
}

func (c *GooglePubsubConsumer) Messages() <-chan Message { return c.outputChan }

func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			consumed := Message{
				MessageData: MessageData{
					ID:          msg.ID,
					Payload:     payloadCopy,
					PublishTime: msg.PublishTime,
				},
				Attributes: msg.Attributes,
				Ack:        msg.Ack,
				Nack:       msg.Nack,
			}
			if msg.DeliveryAttempt != nil {
				consumed.DeliveryAttempt = *msg.DeliveryAttempt
			}

			select {
			case c.outputChan <- consumed:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message due to receive context done.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop cancels the receive loop and waits for it to exit, bounded by ctx.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription == nil {
			close(c.doneChan)
			close(c.outputChan)
			return
		}
		c.cancelSubscription()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			err = ctx.Err()
		}
	})
	return err
}

func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }
