package handlers_test

import (
	"errors"
	"testing"

	"github.com/illmade-knight/go-queueworker/pkg/handlers"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskHandler_Lifecycle(t *testing.T) {
	store := newMockTaskStore()
	h := handlers.NewTaskHandler(store, clock)

	// Create
	err := handle(t, h, types.MessageTypeTask, types.TaskData{
		TaskID: "t-1", Action: types.TaskActionCreate, Priority: 4,
		DueDate: "2026-10-20T09:00:00Z", Params: map[string]string{"owner": "ops"},
	}, "msg-1")
	require.NoError(t, err)
	task, ok := store.Get("t-1")
	require.True(t, ok)
	assert.Equal(t, handlers.TaskStatusOpen, task.Status)
	assert.Equal(t, 4, task.Priority)
	assert.Equal(t, "msg-1", task.SourceMsgID)
	assert.Equal(t, "ops", task.Params["owner"])
	assert.Equal(t, 2026, task.DueDate.Year())

	// A redelivered create is harmless.
	require.NoError(t, handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "t-1", Action: types.TaskActionCreate}, "msg-1"))

	// Complete
	require.NoError(t, handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "t-1", Action: types.TaskActionComplete}, "msg-2"))
	task, _ = store.Get("t-1")
	assert.Equal(t, handlers.TaskStatusCompleted, task.Status)
	assert.Equal(t, fixedNow, task.UpdatedAt)

	// Delete
	require.NoError(t, handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "t-1", Action: types.TaskActionDelete}, "msg-3"))
	_, ok = store.Get("t-1")
	assert.False(t, ok)
}

func TestTaskHandler_Failures(t *testing.T) {
	t.Run("completing a missing task is permanent", func(t *testing.T) {
		h := handlers.NewTaskHandler(newMockTaskStore(), clock)
		err := handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "nope", Action: types.TaskActionComplete}, "m")
		assert.Equal(t, queueengine.ClassNonRetryable, queueengine.Classify(err))
		assert.True(t, errors.Is(err, handlers.ErrTaskNotFound))
	})

	t.Run("invalid payload is a validation error", func(t *testing.T) {
		h := handlers.NewTaskHandler(newMockTaskStore(), clock)
		err := handle(t, h, types.MessageTypeTask, types.TaskData{Action: types.TaskActionCreate}, "m")
		assert.Equal(t, queueengine.ClassValidation, queueengine.Classify(err))
	})

	t.Run("store error keeps its classification", func(t *testing.T) {
		store := newMockTaskStore()
		store.err = queueengine.Retryable(errors.New("unavailable"))
		h := handlers.NewTaskHandler(store, clock)
		err := handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "t", Action: types.TaskActionDelete}, "m")
		assert.Equal(t, queueengine.ClassRetryable, queueengine.Classify(err))
	})

	t.Run("plain store error is unclassified", func(t *testing.T) {
		store := newMockTaskStore()
		store.err = errors.New("boom")
		h := handlers.NewTaskHandler(store, clock)
		err := handle(t, h, types.MessageTypeTask, types.TaskData{TaskID: "t", Action: types.TaskActionCreate}, "m")
		assert.Equal(t, queueengine.ClassUnclassified, queueengine.Classify(err))
	})
}
