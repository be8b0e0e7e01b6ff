// Command enqueue validates a typed message and sends it to the worker's queue.
//
//	enqueue --transport pubsub --project p --topic jobs --type counter --data '{"name":"signups","increment":1}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var (
		transport string
		project   string
		topic     string
		queueURL  string
		msgType   string
		data      string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:          "enqueue",
		Short:        "Validate a typed message and send it to the worker queue",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()

			msg, err := buildMessage(types.MessageType(msgType), []byte(data))
			if err != nil {
				return fmt.Errorf("invalid message: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			producer, cleanup, err := newProducer(ctx, transport, project, topic, queueURL, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := producer.Send(ctx, msg); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			if err := producer.Stop(ctx); err != nil {
				logger.Warn().Err(err).Msg("Producer stop reported an error.")
			}
			logger.Info().Str("message_type", string(msg.Type)).Str("transport", transport).Msg("Message enqueued.")
			return nil
		},
	}
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&transport, "transport", "pubsub", "pubsub or sqs")
	flags.StringVar(&project, "project", os.Getenv("GCP_PROJECT_ID"), "GCP project ID")
	flags.StringVar(&topic, "topic", os.Getenv("PUBSUB_TOPIC_ID"), "Pub/Sub topic ID")
	flags.StringVar(&queueURL, "sqs-queue-url", os.Getenv("SQS_QUEUE_URL"), "SQS queue URL")
	flags.StringVar(&msgType, "type", "", "message type (task, counter, notification)")
	flags.StringVar(&data, "data", "", "payload JSON")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall send timeout")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// buildMessage decodes data into the payload for t and wraps it in a new
// message, validating both.
func buildMessage(t types.MessageType, data []byte) (types.Message, error) {
	payload, err := types.NewPayload(t)
	if err != nil {
		return types.Message{}, err
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return types.Message{}, fmt.Errorf("decode %s payload: %w", t, err)
	}
	msg, err := types.NewMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func newProducer(ctx context.Context, transport, project, topic, queueURL string, logger zerolog.Logger) (messagepipeline.Producer, func(), error) {
	switch transport {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		p, err := messagepipeline.NewSQSProducer(sqs.NewFromConfig(awsCfg), queueURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, project)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		cfg := messagepipeline.NewGooglePubsubProducerDefaults(topic)
		cfg.ProjectID = project
		p, err := messagepipeline.NewGooglePubsubProducer(ctx, cfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return p, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}
