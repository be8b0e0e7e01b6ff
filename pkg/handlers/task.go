package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// ErrTaskNotFound is returned by a TaskStore when the task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Task statuses.
const (
	TaskStatusOpen      = "open"
	TaskStatusCompleted = "completed"
)

// Task is the stored form of a task.
type Task struct {
	ID          string            `firestore:"id" json:"id"`
	Status      string            `firestore:"status" json:"status"`
	Priority    int               `firestore:"priority" json:"priority"`
	DueDate     time.Time         `firestore:"due_date,omitempty" json:"due_date,omitempty"`
	Params      map[string]string `firestore:"params,omitempty" json:"params,omitempty"`
	SourceMsgID string            `firestore:"source_msg_id" json:"source_msg_id"`
	UpdatedAt   time.Time         `firestore:"updated_at" json:"updated_at"`
}

// TaskStore persists tasks. Implementations must make Create and Delete
// idempotent so that a redelivered message does not fail.
type TaskStore interface {
	Create(ctx context.Context, task Task) error
	Complete(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// NewTaskHandler returns the handler for "task" messages.
func NewTaskHandler(store TaskStore, now func() time.Time) queueengine.Handler {
	if now == nil {
		now = time.Now
	}
	return queueengine.Typed[types.TaskData](func(ctx context.Context, p *types.TaskData, meta queueengine.Meta) error {
		switch p.Action {
		case types.TaskActionCreate:
			task := Task{
				ID:          p.TaskID,
				Status:      TaskStatusOpen,
				Priority:    p.Priority,
				DueDate:     p.Due(),
				Params:      p.Params,
				SourceMsgID: meta.MessageID,
				UpdatedAt:   now(),
			}
			if err := store.Create(ctx, task); err != nil {
				return fmt.Errorf("create task %s: %w", p.TaskID, err)
			}
		case types.TaskActionComplete:
			err := store.Complete(ctx, p.TaskID, now())
			if errors.Is(err, ErrTaskNotFound) {
				return queueengine.Permanent(fmt.Errorf("complete task %s: %w", p.TaskID, err))
			}
			if err != nil {
				return fmt.Errorf("complete task %s: %w", p.TaskID, err)
			}
		case types.TaskActionDelete:
			if err := store.Delete(ctx, p.TaskID); err != nil {
				return fmt.Errorf("delete task %s: %w", p.TaskID, err)
			}
		default:
			// Validate rejects unknown actions before we get here.
			return queueengine.Invalid("unknown task action %q", p.Action)
		}
		meta.Logger.Debug().Str("task_id", p.TaskID).Str("task_action", p.Action).Msg("Task message handled.")
		return nil
	})
}

// TaskSchema is the JSON schema for "task" payloads.
const TaskSchema = `{
  "type": "object",
  "required": ["task_id", "action"],
  "properties": {
    "task_id":  {"type": "string", "minLength": 1},
    "action":   {"enum": ["create", "complete", "delete"]},
    "priority": {"type": "integer", "minimum": 0, "maximum": 10},
    "due_date": {"type": "string"},
    "params":   {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`
