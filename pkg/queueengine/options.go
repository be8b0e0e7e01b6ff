package queueengine

import "time"

// Option configures a BatchProcessor.
type Option func(*BatchProcessor)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(bp *BatchProcessor) { bp.policy = p }
}

// WithOutcomeSink replaces the default log sink.
func WithOutcomeSink(s OutcomeSink) Option {
	return func(bp *BatchProcessor) {
		if s != nil {
			bp.sink = s
		}
	}
}

// WithDeadLetterSink routes budget-exhausted messages to s.
func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(bp *BatchProcessor) { bp.deadLetters = s }
}

// WithDeadLetterPermanent also routes validation and non-retryable failures
// to the dead-letter sink.
func WithDeadLetterPermanent(enabled bool) Option {
	return func(bp *BatchProcessor) { bp.deadLetterPermanent = enabled }
}

// WithConcurrency lets up to n handlers of one batch run at once. The default
// of 1 processes deliveries sequentially in batch order.
func WithConcurrency(n int) Option {
	return func(bp *BatchProcessor) {
		if n > 0 {
			bp.concurrency = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(bp *BatchProcessor) {
		if now != nil {
			bp.now = now
		}
	}
}
