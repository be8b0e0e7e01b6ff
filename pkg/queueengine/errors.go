package queueengine

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateHandler    = errors.New("duplicate handler registration")
	ErrInvalidRegistration = errors.New("invalid handler registration")
	ErrInvalidSchema       = errors.New("invalid payload schema")
	ErrMissingHandler      = errors.New("no handler registered for known message type")
	ErrHandlerPanic        = errors.New("handler panicked")
)

// ValidationError reports a payload that is structurally or semantically
// invalid. Redelivery cannot fix it, so the message is acknowledged.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a ValidationError.
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// ProcessingError is an explicit processing failure. Retryable states whether
// the handler author believes a later attempt could succeed.
type ProcessingError struct {
	Retryable bool
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Retryable {
		return "processing failed (retryable): " + e.Err.Error()
	}
	return "processing failed (non-retryable): " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Retryable marks err as a transient processing failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Retryable: true, Err: err}
}

// Permanent marks err as a processing failure that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Retryable: false, Err: err}
}

// Class is the classification of a handler outcome.
type Class int

const (
	ClassSuccess Class = iota
	ClassValidation
	ClassNonRetryable
	ClassRetryable
	ClassUnclassified
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassValidation:
		return "validation"
	case ClassNonRetryable:
		return "non_retryable"
	case ClassRetryable:
		return "retryable"
	case ClassUnclassified:
		return "unclassified"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classify inspects a handler error. A ValidationError anywhere in the chain
// takes precedence over a ProcessingError; any other error is unclassified.
func Classify(err error) Class {
	if err == nil {
		return ClassSuccess
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassValidation
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Retryable {
			return ClassRetryable
		}
		return ClassNonRetryable
	}
	return ClassUnclassified
}
