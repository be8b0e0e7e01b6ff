package queueengine

import (
	"context"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// DeadLetter is a message the engine gave up on.
type DeadLetter struct {
	Queue      string        `json:"queue"`
	DeliveryID string        `json:"delivery_id"`
	Message    types.Message `json:"message"`
	Reason     Reason        `json:"reason"`
	Error      string        `json:"error,omitempty"`
	FailedAt   time.Time     `json:"failed_at"`
}

// DeadLetterSink stores dead letters outside the queue. The engine calls it
// before acknowledging the delivery; a sink error is logged and the delivery
// is still acknowledged.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

// DeadLetterFunc adapts a function to DeadLetterSink.
type DeadLetterFunc func(ctx context.Context, dl DeadLetter) error

func (f DeadLetterFunc) DeadLetter(ctx context.Context, dl DeadLetter) error { return f(ctx, dl) }
