package messagepipeline

import (
	"time"
)

// Message is the transport-neutral representation of a message received from a
// queue. It carries the raw body, the broker metadata and the acknowledgment
// handles the processing engine signals through.
type Message struct {
	// MessageData contains the raw body and the broker identity of the message.
	MessageData

	// Attributes holds metadata from the message broker (Pub/Sub attributes,
	// SQS message attributes).
	Attributes map[string]string

	// DeliveryAttempt is the number of times the broker has delivered this
	// message, including this delivery. Zero when the broker does not report it.
	DeliveryAttempt int

	// Ack signals that the message is fully handled and can be removed from the source.
	Ack func()

	// Nack signals that the message should be made available for redelivery.
	Nack func()

	// NackAfter asks for redelivery after the given delay. It is nil for brokers
	// that cannot delay a redelivery, in which case Nack is used.
	NackAfter func(delay time.Duration)
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the unique identifier for the message from the source broker.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time `json:"publishTime"`
}

// Acknowledge implements queueengine.Acker.
func (m Message) Acknowledge() {
	if m.Ack != nil {
		m.Ack()
	}
}

// Retry implements queueengine.Acker. A positive delay is honoured when the
// broker supports it.
func (m Message) Retry(delay time.Duration) {
	if delay > 0 && m.NackAfter != nil {
		m.NackAfter(delay)
		return
	}
	if m.Nack != nil {
		m.Nack()
	}
}
