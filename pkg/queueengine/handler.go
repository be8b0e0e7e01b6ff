package queueengine

import (
	"context"
	"encoding/json"

	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// Meta is the processing context handed to a handler alongside the message.
type Meta struct {
	Queue      string
	DeliveryID string
	MessageID  string
	Type       types.MessageType
	// Attempt is the attempt number, 1 on first delivery.
	Attempt int
	Logger  zerolog.Logger
}

// Handler processes one message. Returning nil acknowledges the message; a
// *ValidationError or *ProcessingError selects the failure outcome and any
// other error is treated as retryable.
//
// Delivery is at-least-once, so handlers should tolerate seeing the same
// message more than once.
type Handler interface {
	Handle(ctx context.Context, msg *types.Message, meta Meta) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *types.Message, meta Meta) error

func (f HandlerFunc) Handle(ctx context.Context, msg *types.Message, meta Meta) error {
	return f(ctx, msg, meta)
}

// payloadPtr constrains PT to a pointer to T implementing types.Payload.
type payloadPtr[T any] interface {
	*T
	types.Payload
}

// Typed builds a Handler for a payload variant. The message data is decoded
// into T and validated with its Validate method before process runs; failures
// of either step are ValidationErrors.
func Typed[T any, PT payloadPtr[T]](process func(ctx context.Context, payload PT, meta Meta) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg *types.Message, meta Meta) error {
		payload := PT(new(T))
		if len(msg.Data) == 0 {
			return Invalid("%s message has no data", msg.Type)
		}
		if err := json.Unmarshal(msg.Data, payload); err != nil {
			return Invalid("cannot decode %s payload: %v", msg.Type, err)
		}
		if err := payload.Validate(); err != nil {
			return NewValidationError(err)
		}
		return process(ctx, payload, meta)
	})
}
