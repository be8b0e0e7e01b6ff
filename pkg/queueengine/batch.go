package queueengine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// ErrMalformedBatch is returned by Process when the batch itself cannot be
// processed. No delivery of a malformed batch is signalled.
var ErrMalformedBatch = errors.New("malformed batch")

// Acker is the per-delivery capability handed over by the transport.
type Acker interface {
	// Acknowledge removes the message from the queue.
	Acknowledge()
	// Retry makes the message available for redelivery. A delay of zero asks
	// for immediate redelivery; transports that cannot delay ignore it.
	Retry(delay time.Duration)
}

// AckerFuncs adapts a pair of functions to the Acker interface.
type AckerFuncs struct {
	AckFn   func()
	RetryFn func(delay time.Duration)
}

func (a AckerFuncs) Acknowledge() {
	if a.AckFn != nil {
		a.AckFn()
	}
}

func (a AckerFuncs) Retry(delay time.Duration) {
	if a.RetryFn != nil {
		a.RetryFn(delay)
	}
}

// Delivery is one transport message paired with its decoded body.
type Delivery struct {
	// ID is the transport-assigned identifier, distinct from Body.ID.
	ID string
	// Timestamp is the transport delivery or publish time.
	Timestamp time.Time
	// Attempts is the delivery count reported by the transport, 0 if unknown.
	Attempts int
	Body     *types.Message
	Acker    Acker
}

// Batch is the unit of work for one Process invocation.
type Batch struct {
	Queue      string
	Deliveries []Delivery
}

func (b *Batch) validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil batch", ErrMalformedBatch)
	}
	for i, d := range b.Deliveries {
		if d.Body == nil {
			return fmt.Errorf("%w: delivery %d (%s) has no body", ErrMalformedBatch, i, d.ID)
		}
		if d.Acker == nil {
			return fmt.Errorf("%w: delivery %d (%s) has no acker", ErrMalformedBatch, i, d.ID)
		}
	}
	return nil
}

// BatchResult summarises the decisions taken for one batch.
type BatchResult struct {
	Acknowledged int
	Retried      int
}

// onceAcker guards a transport Acker so that only the first signal reaches it
// and a panicking transport callback cannot abort the rest of the batch.
type onceAcker struct {
	inner  Acker
	once   sync.Once
	logger zerolog.Logger
}

func (o *onceAcker) signal(d Decision) {
	fired := false
	o.once.Do(func() {
		fired = true
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Str("action", d.Action.String()).Interface("panic", r).Msg("Transport signal panicked; the broker will redeliver if it was not applied.")
			}
		}()
		if d.Action == ActionRetry {
			o.inner.Retry(d.Delay)
			return
		}
		o.inner.Acknowledge()
	})
	if !fired {
		o.logger.Error().Str("action", d.Action.String()).Msg("Delivery already signalled, dropping second signal.")
	}
}
