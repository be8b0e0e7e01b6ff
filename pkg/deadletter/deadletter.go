// Package deadletter provides sinks for messages the processing engine gave up on.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/rs/zerolog"
)

// PublisherSink republishes dead letters through a SimplePublisher, typically a
// dedicated Pub/Sub dead-letter topic. The body is the JSON-encoded DeadLetter;
// the reason, queue and message identity are copied into attributes.
type PublisherSink struct {
	publisher messagepipeline.SimplePublisher
	logger    zerolog.Logger
}

// NewPublisherSink creates a PublisherSink.
func NewPublisherSink(publisher messagepipeline.SimplePublisher, logger zerolog.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &PublisherSink{
		publisher: publisher,
		logger:    logger.With().Str("component", "DeadLetterPublisher").Logger(),
	}, nil
}

// DeadLetter implements queueengine.DeadLetterSink.
func (s *PublisherSink) DeadLetter(ctx context.Context, dl queueengine.DeadLetter) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", dl.Message.ID, err)
	}
	attrs := map[string]string{
		"queue":        dl.Queue,
		"reason":       string(dl.Reason),
		"msg_id":       dl.Message.ID,
		"message_type": string(dl.Message.Type),
		"retry_count":  strconv.Itoa(dl.Message.RetryCount),
	}
	if err := s.publisher.Publish(ctx, payload, attrs); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", dl.Message.ID, err)
	}
	return nil
}

// Fanout writes a dead letter to every sink. All sinks are attempted; the
// errors of those that failed are joined.
type Fanout []queueengine.DeadLetterSink

// DeadLetter implements queueengine.DeadLetterSink.
func (f Fanout) DeadLetter(ctx context.Context, dl queueengine.DeadLetter) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.DeadLetter(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
