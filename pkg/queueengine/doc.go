// Package queueengine processes batches of queue messages with at-least-once
// semantics.
//
// A BatchProcessor receives a Batch from a transport adapter and, for every
// Delivery, normalizes the envelope metadata, resolves the handler registered
// for the message type, classifies any failure and applies the RetryPolicy to
// decide whether the delivery is acknowledged or retried. Exactly one of
// Acker.Acknowledge or Acker.Retry is signalled per delivery before Process
// returns, and a failing message never prevents its siblings from reaching a
// decision.
//
// Decision table, first match wins:
//
//	success                                       -> acknowledge
//	*ValidationError                              -> acknowledge (permanent)
//	*ProcessingError{Retryable: false}            -> acknowledge (non-retryable)
//	retryable or unclassified, count >= ceiling   -> acknowledge (dead-letter)
//	otherwise                                     -> retry
//
// The count compared against the ceiling is the retry count after it has been
// incremented for the current attempt, i.e. the attempt number. With the default
// ceiling of 5 a transiently failing message is attempted at most five times.
//
// The engine has no timeout of its own. When the context passed to Process is
// done, deliveries not yet dispatched are retried without invoking a handler.
// Deliveries that are never signalled at all, because the host terminated the
// invocation, are redelivered by the queue platform once its visibility timeout
// lapses; that redelivery happens outside the engine.
package queueengine
