package queueengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// BatchProcessor runs one batch at a time through normalization, dispatch,
// classification and the retry policy. It holds no per-batch state and may be
// shared by concurrent invocations.
type BatchProcessor struct {
	registry            *Registry
	policy              RetryPolicy
	sink                OutcomeSink
	deadLetters         DeadLetterSink
	deadLetterPermanent bool
	concurrency         int
	now                 func() time.Time
	logger              zerolog.Logger
}

// NewBatchProcessor creates a BatchProcessor dispatching through registry.
func NewBatchProcessor(registry *Registry, logger zerolog.Logger, opts ...Option) (*BatchProcessor, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	bp := &BatchProcessor{
		registry:    registry,
		policy:      DefaultRetryPolicy(),
		concurrency: 1,
		now:         time.Now,
		logger:      logger.With().Str("component", "BatchProcessor").Logger(),
	}
	bp.sink = NewLogSink(logger)
	for _, opt := range opts {
		opt(bp)
	}
	return bp, nil
}

// Process signals every delivery of the batch exactly once before returning.
// Only a malformed batch produces an error; in that case no delivery is
// signalled.
func (p *BatchProcessor) Process(ctx context.Context, batch *Batch) (BatchResult, error) {
	if err := batch.validate(); err != nil {
		p.logger.Error().Err(err).Msg("Rejecting malformed batch.")
		return BatchResult{}, err
	}

	outcomes := make([]Outcome, len(batch.Deliveries))
	if p.concurrency <= 1 || len(batch.Deliveries) <= 1 {
		for i, d := range batch.Deliveries {
			outcomes[i] = p.processDelivery(ctx, batch.Queue, d)
		}
	} else {
		// Acquire with a background context: every delivery must still be
		// signalled when ctx is already done.
		sem := semaphore.NewWeighted(int64(p.concurrency))
		var wg sync.WaitGroup
		for i, d := range batch.Deliveries {
			_ = sem.Acquire(context.Background(), 1)
			wg.Add(1)
			go func(i int, d Delivery) {
				defer wg.Done()
				defer sem.Release(1)
				outcomes[i] = p.processDelivery(ctx, batch.Queue, d)
			}(i, d)
		}
		wg.Wait()
	}

	var result BatchResult
	for _, o := range outcomes {
		if o.Action == ActionRetry {
			result.Retried++
		} else {
			result.Acknowledged++
		}
	}
	p.logger.Debug().
		Str("queue", batch.Queue).
		Int("batch_size", len(batch.Deliveries)).
		Int("acknowledged", result.Acknowledged).
		Int("retried", result.Retried).
		Msg("Batch processed.")
	return result, nil
}

// processDelivery takes a single delivery from received to a terminal signal.
func (p *BatchProcessor) processDelivery(ctx context.Context, queue string, d Delivery) Outcome {
	start := p.now()
	msg := d.Body
	normalize(msg, d, start)

	logger := p.logger.With().
		Str("msg_id", msg.ID).
		Str("delivery_id", d.ID).
		Str("message_type", string(msg.Type)).
		Logger()
	acker := &onceAcker{inner: d.Acker, logger: logger}

	var decision Decision
	var handlerErr error
	attempt := msg.RetryCount

	switch route, ok := p.registry.Resolve(msg.Type); {
	case ctx.Err() != nil:
		decision = Decision{Action: ActionRetry, Reason: ReasonCanceled}
		handlerErr = ctx.Err()
		logger.Warn().Err(handlerErr).Msg("Context done before dispatch, retrying message.")
	case !ok:
		attempt = BeginAttempt(msg)
		decision = Decision{Action: ActionAcknowledge, Reason: ReasonNoHandler}
		logger.Warn().Msg("No handler registered for message type, acknowledging.")
	default:
		attempt = BeginAttempt(msg)
		meta := Meta{
			Queue:      queue,
			DeliveryID: d.ID,
			MessageID:  msg.ID,
			Type:       msg.Type,
			Attempt:    attempt,
			Logger:     logger,
		}
		handlerErr = p.dispatch(ctx, route, msg, meta)
		class := Classify(handlerErr)
		decision = p.policy.Decide(class, msg.Type, msg.RetryCount)
		p.logDecision(logger, class, decision, handlerErr, attempt)
		if p.shouldDeadLetter(decision) {
			p.deadLetter(ctx, logger, queue, d, msg, decision, handlerErr)
		}
	}

	acker.signal(decision)

	o := Outcome{
		MessageID:  msg.ID,
		DeliveryID: d.ID,
		Queue:      queue,
		Type:       msg.Type,
		Attempt:    attempt,
		Elapsed:    p.now().Sub(start),
		Action:     decision.Action,
		Reason:     decision.Reason,
		At:         start,
	}
	if handlerErr != nil {
		o.Error = handlerErr.Error()
	}
	p.sink.Record(ctx, o)
	return o
}

// dispatch validates the payload schema and invokes the handler, converting a
// panic into an unclassified error.
func (p *BatchProcessor) dispatch(ctx context.Context, route Route, msg *types.Message, meta Meta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	if err := route.validate(msg.Data); err != nil {
		return err
	}
	return route.Handler.Handle(ctx, msg, meta)
}

func (p *BatchProcessor) logDecision(logger zerolog.Logger, class Class, d Decision, err error, attempt int) {
	switch d.Reason {
	case ReasonSucceeded:
		return
	case ReasonValidationFailed:
		logger.Error().Err(err).Msg("Permanent validation failure, acknowledging without retry.")
	case ReasonNonRetryable:
		logger.Error().Err(err).Msg("Non-retryable processing failure, acknowledging.")
	case ReasonRetryLimitExceeded:
		logger.Error().Err(err).Int("attempt", attempt).Str("class", class.String()).Msg("Message exceeded retry limit, acknowledging.")
	case ReasonRetryScheduled:
		logger.Warn().Err(err).Int("attempt", attempt).Str("class", class.String()).Dur("delay", d.Delay).Msg("Processing failed, scheduling retry.")
	}
}

func (p *BatchProcessor) shouldDeadLetter(d Decision) bool {
	if p.deadLetters == nil {
		return false
	}
	switch d.Reason {
	case ReasonRetryLimitExceeded:
		return true
	case ReasonValidationFailed, ReasonNonRetryable:
		return p.deadLetterPermanent
	}
	return false
}

func (p *BatchProcessor) deadLetter(ctx context.Context, logger zerolog.Logger, queue string, d Delivery, msg *types.Message, decision Decision, cause error) {
	dl := DeadLetter{
		Queue:      queue,
		DeliveryID: d.ID,
		Message:    *msg,
		Reason:     decision.Reason,
		FailedAt:   p.now(),
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	if err := p.deadLetters.DeadLetter(ctx, dl); err != nil {
		logger.Error().Err(err).Msg("Failed to write dead letter; message is acknowledged regardless.")
		return
	}
	logger.Info().Str("reason", string(decision.Reason)).Msg("Message routed to dead-letter sink.")
}
