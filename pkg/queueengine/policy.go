package queueengine

import (
	"math"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// DefaultRetryCeiling is the attempt number at which a transient failure
// becomes terminal.
const DefaultRetryCeiling = 5

// Action is the signal sent to the transport for a delivery.
type Action int

const (
	ActionAcknowledge Action = iota
	ActionRetry
)

func (a Action) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "acknowledge"
}

// Reason explains a Decision.
type Reason string

const (
	ReasonSucceeded          Reason = "succeeded"
	ReasonNoHandler          Reason = "no_handler"
	ReasonValidationFailed   Reason = "validation_failed"
	ReasonNonRetryable       Reason = "non_retryable"
	ReasonRetryLimitExceeded Reason = "retry_limit_exceeded"
	ReasonRetryScheduled     Reason = "retry_scheduled"
	ReasonCanceled           Reason = "canceled"
)

// Decision is the final verdict for one delivery.
type Decision struct {
	Action Action
	Reason Reason
	// Delay is a redelivery hint for ActionRetry.
	Delay time.Duration
}

// BackoffFunc returns the redelivery delay after the given attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns initial * factor^(attempt-1), capped at max when
// max is positive and at the largest Duration otherwise.
func ExponentialBackoff(initial time.Duration, factor float64, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		ceiling := time.Duration(math.MaxInt64)
		if max > 0 {
			ceiling = max
		}
		f := float64(initial) * math.Pow(factor, float64(attempt-1))
		switch {
		case math.IsNaN(f) || f <= 0:
			return 0
		case f >= float64(ceiling):
			// Compared in float64 so the conversion below stays in range.
			return ceiling
		}
		return time.Duration(f)
	}
}

// RetryPolicy turns a classification and the carried retry count into a Decision.
type RetryPolicy struct {
	// Ceiling applies to every type without an entry in PerType. Values <= 0
	// select DefaultRetryCeiling.
	Ceiling int
	PerType map[types.MessageType]int
	// Backoff computes the Delay of retry decisions. Nil means no delay.
	Backoff BackoffFunc
}

// DefaultRetryPolicy returns a policy with the default ceiling and no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Ceiling: DefaultRetryCeiling}
}

// CeilingFor returns the ceiling in force for a message type.
func (p RetryPolicy) CeilingFor(t types.MessageType) int {
	if c, ok := p.PerType[t]; ok && c > 0 {
		return c
	}
	if p.Ceiling > 0 {
		return p.Ceiling
	}
	return DefaultRetryCeiling
}

// Decide applies the decision table. retryCount is the count after the
// increment for the current attempt.
func (p RetryPolicy) Decide(class Class, t types.MessageType, retryCount int) Decision {
	switch class {
	case ClassSuccess:
		return Decision{Action: ActionAcknowledge, Reason: ReasonSucceeded}
	case ClassValidation:
		return Decision{Action: ActionAcknowledge, Reason: ReasonValidationFailed}
	case ClassNonRetryable:
		return Decision{Action: ActionAcknowledge, Reason: ReasonNonRetryable}
	}
	if retryCount >= p.CeilingFor(t) {
		return Decision{Action: ActionAcknowledge, Reason: ReasonRetryLimitExceeded}
	}
	d := Decision{Action: ActionRetry, Reason: ReasonRetryScheduled}
	if p.Backoff != nil {
		d.Delay = p.Backoff(retryCount)
	}
	return d
}
