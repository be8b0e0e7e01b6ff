package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// SQSProducer validates messages and sends them to an SQS queue.
type SQSProducer struct {
	client   SQSClient
	queueURL string
	logger   zerolog.Logger
}

// NewSQSProducer creates an SQS producer.
func NewSQSProducer(client SQSClient, queueURL string, logger zerolog.Logger) (*SQSProducer, error) {
	if client == nil {
		return nil, errors.New("sqs client cannot be nil")
	}
	if queueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	return &SQSProducer{
		client:   client,
		queueURL: queueURL,
		logger:   logger.With().Str("component", "SQSProducer").Str("queue_url", queueURL).Logger(),
	}, nil
}

// Send validates msg and sends it with the message type as a string attribute.
func (p *SQSProducer) Send(ctx context.Context, msg types.Message) error {
	payload, err := encodeForSend(msg)
	if err != nil {
		return err
	}
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			TypeAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	p.logger.Debug().Str("sqs_msg_id", aws.ToString(out.MessageId)).Str("message_type", string(msg.Type)).Msg("Message sent.")
	return nil
}

// Stop is a no-op; SendMessage is synchronous.
func (p *SQSProducer) Stop(context.Context) error { return nil }
