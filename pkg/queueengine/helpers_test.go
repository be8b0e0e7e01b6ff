package queueengine_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// recordingAcker counts the signals a delivery receives.
type recordingAcker struct {
	mu      sync.Mutex
	acks    int
	retries []time.Duration
}

func (a *recordingAcker) Acknowledge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
}

func (a *recordingAcker) Retry(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retries = append(a.retries, delay)
}

func (a *recordingAcker) Acked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks == 1 && len(a.retries) == 0
}

func (a *recordingAcker) Retried() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks == 0 && len(a.retries) == 1
}

func (a *recordingAcker) Signals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks + len(a.retries)
}

// recordingSink stores every outcome it receives.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []queueengine.Outcome
}

func (s *recordingSink) Record(_ context.Context, o queueengine.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *recordingSink) Outcomes() []queueengine.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queueengine.Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// newDelivery builds a delivery of the given type and carried retry count.
func newDelivery(id string, mt types.MessageType, retryCount int, data string) (queueengine.Delivery, *recordingAcker) {
	acker := &recordingAcker{}
	return queueengine.Delivery{
		ID:        id,
		Timestamp: time.UnixMilli(1_760_000_000_000),
		Body: &types.Message{
			Type:       mt,
			RetryCount: retryCount,
			Data:       json.RawMessage(data),
		},
		Acker: acker,
	}, acker
}

const validTask = `{"task_id":"t-1","action":"create","priority":1}`
const validCounter = `{"name":"hits","increment":1}`
