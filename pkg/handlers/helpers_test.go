package handlers_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-queueworker/pkg/handlers"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// setupRedis starts an in-process Redis server and a client connected to it.
func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// mockTaskStore keeps tasks in a map and can be primed with an error.
type mockTaskStore struct {
	mu    sync.Mutex
	tasks map[string]handlers.Task
	err   error
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[string]handlers.Task)}
}

func (m *mockTaskStore) Create(_ context.Context, task handlers.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.tasks[task.ID]; !ok {
		m.tasks[task.ID] = task
	}
	return nil
}

func (m *mockTaskStore) Complete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	task, ok := m.tasks[id]
	if !ok {
		return handlers.ErrTaskNotFound
	}
	task.Status = handlers.TaskStatusCompleted
	task.UpdatedAt = at
	m.tasks[id] = task
	return nil
}

func (m *mockTaskStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockTaskStore) Get(id string) (handlers.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task, ok
}

// handle invokes h directly with a message built from payload.
func handle(t *testing.T, h queueengine.Handler, mt types.MessageType, payload any, msgID string) error {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	msg := &types.Message{ID: msgID, Type: mt, Data: data, RetryCount: 1}
	meta := queueengine.Meta{MessageID: msgID, Type: mt, Attempt: 1, Logger: zerolog.Nop()}
	return h.Handle(context.Background(), msg, meta)
}

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }
