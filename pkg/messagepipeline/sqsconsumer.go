package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// SQSClient is the subset of the SQS API used by the consumer and producer.
// *sqs.Client satisfies it; tests substitute a mock.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// maxVisibilityTimeout is the largest visibility timeout SQS accepts.
const maxVisibilityTimeout = 12 * time.Hour

// SQSConsumerConfig holds configuration for the SQS consumer.
type SQSConsumerConfig struct {
	QueueURL string
	// MaxMessages is the number of messages requested per ReceiveMessage call (1-10).
	MaxMessages int32
	// WaitTime enables long polling.
	WaitTime time.Duration
	// SignalTimeout bounds each DeleteMessage/ChangeMessageVisibility call.
	SignalTimeout time.Duration
	// ErrorBackoff is the pause after a failed ReceiveMessage call.
	ErrorBackoff time.Duration
}

// NewSQSConsumerDefaults returns a config for queueURL with sensible defaults,
// overridable through SQS_CONSUMER_* environment variables.
func NewSQSConsumerDefaults(queueURL string) *SQSConsumerConfig {
	cfg := &SQSConsumerConfig{
		QueueURL:      queueURL,
		MaxMessages:   10,
		WaitTime:      10 * time.Second,
		SignalTimeout: 5 * time.Second,
		ErrorBackoff:  2 * time.Second,
	}
	if v := os.Getenv("SQS_CONSUMER_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessages = int32(n)
		}
	}
	if v := os.Getenv("SQS_CONSUMER_WAIT_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitTime = d
		}
	}
	return cfg
}

// SQSConsumer long-polls an SQS queue. Ack deletes the message; Nack makes it
// visible again immediately and NackAfter defers its visibility. The
// ApproximateReceiveCount attribute is reported as Message.DeliveryAttempt.
type SQSConsumer struct {
	client     SQSClient
	cfg        SQSConsumerConfig
	logger     zerolog.Logger
	outputChan chan Message
	stopOnce   sync.Once
	cancel     context.CancelFunc
	doneChan   chan struct{}
}

// NewSQSConsumer creates an SQS consumer.
func NewSQSConsumer(cfg *SQSConsumerConfig, client SQSClient, logger zerolog.Logger) (*SQSConsumer, error) {
	if client == nil {
		return nil, errors.New("sqs client cannot be nil")
	}
	if cfg == nil || cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	c := *cfg
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 2 * time.Second
	}
	return &SQSConsumer{
		client:     client,
		cfg:        c,
		logger:     logger.With().Str("component", "SQSConsumer").Str("queue_url", c.QueueURL).Logger(),
		outputChan: make(chan Message, c.MaxMessages),
		doneChan:   make(chan struct{}),
	}, nil
}

func (c *SQSConsumer) Messages() <-chan Message { return c.outputChan }

func (c *SQSConsumer) Done() <-chan struct{} { return c.doneChan }

// Start launches the polling loop.
func (c *SQSConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting SQS message consumption...")
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.poll(pollCtx)
	return nil
}

func (c *SQSConsumer) poll(ctx context.Context) {
	defer close(c.doneChan)
	defer close(c.outputChan)
	defer c.logger.Info().Msg("SQS polling loop stopped.")

	for ctx.Err() == nil {
		output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages: c.cfg.MaxMessages,
			WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to receive messages, backing off.")
			select {
			case <-time.After(c.cfg.ErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for i, m := range output.Messages {
			msg := c.toMessage(m)
			select {
			case c.outputChan <- msg:
			case <-ctx.Done():
				// Undelivered messages become visible again when their
				// visibility timeout lapses.
				c.logger.Warn().Int("undelivered", len(output.Messages)-i).Msg("Consumer stopping, leaving received messages to the visibility timeout.")
				return
			}
		}
	}
}

func (c *SQSConsumer) toMessage(m sqstypes.Message) Message {
	id := aws.ToString(m.MessageId)
	receipt := aws.ToString(m.ReceiptHandle)

	msg := Message{
		MessageData: MessageData{
			ID:      id,
			Payload: []byte(aws.ToString(m.Body)),
		},
		Attributes: make(map[string]string, len(m.MessageAttributes)),
	}
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			msg.Attributes[k] = *v.StringValue
		}
	}
	if v, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.DeliveryAttempt = n
		}
	}
	if v, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.PublishTime = time.UnixMilli(ms)
		}
	}

	msg.Ack = func() { c.delete(id, receipt) }
	msg.Nack = func() { c.changeVisibility(id, receipt, 0) }
	msg.NackAfter = func(delay time.Duration) { c.changeVisibility(id, receipt, delay) }
	return msg
}

func (c *SQSConsumer) delete(id, receipt string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SignalTimeout)
	defer cancel()
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to delete message.")
	}
}

func (c *SQSConsumer) changeVisibility(id, receipt string, delay time.Duration) {
	if delay > maxVisibilityTimeout {
		delay = maxVisibilityTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SignalTimeout)
	defer cancel()
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.cfg.QueueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("msg_id", id).Dur("delay", delay).Msg("Failed to change message visibility; it will reappear after the queue's visibility timeout.")
	}
}

// Stop cancels polling and waits for the loop to exit, bounded by ctx.
func (c *SQSConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping SQS consumer...")
		if c.cancel == nil {
			close(c.doneChan)
			close(c.outputChan)
			return
		}
		c.cancel()
		select {
		case <-c.doneChan:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for SQS consumer to stop: %w", ctx.Err())
		}
	})
	return err
}
