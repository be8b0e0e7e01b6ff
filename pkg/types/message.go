// Package types holds the wire model shared by producers, the processing engine
// and the handlers: the queue message body and its per-type payload variants.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags the payload variant carried in Message.Data.
type MessageType string

const (
	MessageTypeTask         MessageType = "task"
	MessageTypeCounter      MessageType = "counter"
	MessageTypeNotification MessageType = "notification"
)

// KnownMessageTypes returns the closed set of message types this deployment
// understands. Every entry must have a registered handler at startup.
func KnownMessageTypes() []MessageType {
	return []MessageType{MessageTypeTask, MessageTypeCounter, MessageTypeNotification}
}

// IsKnown reports whether t belongs to the closed set.
func (t MessageType) IsKnown() bool {
	for _, k := range KnownMessageTypes() {
		if k == t {
			return true
		}
	}
	return false
}

// Message is the body of a queue message. Type and Data are fixed by the
// producer; ID, Timestamp and RetryCount are owned by the processing engine.
type Message struct {
	// ID is a stable identifier, assigned by the engine when absent.
	ID string `json:"id,omitempty"`
	// Type selects the handler.
	Type MessageType `json:"type"`
	// Timestamp is the creation time in epoch milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
	// RetryCount is the number of processing attempts already made.
	RetryCount int `json:"retry_count"`
	// Data is the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// Payload is implemented by every payload variant.
type Payload interface {
	MessageType() MessageType
	Validate() error
}

// NewMessage builds a message of the payload's type with Data encoded from p.
func NewMessage(p Payload) (Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", p.MessageType(), err)
	}
	return Message{Type: p.MessageType(), Data: data}, nil
}

// Decode parses a message body from raw JSON.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedBody)
	}
	if msg.RetryCount < 0 {
		msg.RetryCount = 0
	}
	return &msg, nil
}

// Encode serialises the message body.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Validate performs the producer-side checks: a known type and a payload that
// decodes into its variant and satisfies the variant's own rules.
func (m *Message) Validate() error {
	if m.Type == "" {
		return &FieldError{Field: "type", Reason: "is required"}
	}
	p, err := NewPayload(m.Type)
	if err != nil {
		return err
	}
	if len(m.Data) == 0 {
		return &FieldError{Field: "data", Reason: "is required"}
	}
	if err := json.Unmarshal(m.Data, p); err != nil {
		return &FieldError{Field: "data", Reason: fmt.Sprintf("does not decode as %s: %v", m.Type, err)}
	}
	return p.Validate()
}

// NewPayload returns a zero payload for the given type.
func NewPayload(t MessageType) (Payload, error) {
	switch t {
	case MessageTypeTask:
		return &TaskData{}, nil
	case MessageTypeCounter:
		return &CounterData{}, nil
	case MessageTypeNotification:
		return &NotificationData{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

var (
	ErrMalformedBody = errors.New("malformed message body")
	ErrUnknownType   = errors.New("unknown message type")
)
