package types

import (
	"fmt"
	"time"
)

// Task actions.
const (
	TaskActionCreate   = "create"
	TaskActionComplete = "complete"
	TaskActionDelete   = "delete"
)

const (
	MaxTaskPriority       = 10
	MaxCounterIncrement   = 1_000_000
	MaxNotificationLength = 4096
)

// TaskData is the payload of a "task" message.
type TaskData struct {
	TaskID   string            `json:"task_id"`
	Action   string            `json:"action"`
	Priority int               `json:"priority"`
	DueDate  string            `json:"due_date,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (*TaskData) MessageType() MessageType { return MessageTypeTask }

func (d *TaskData) Validate() error {
	v := &validator{}
	v.required("task_id", d.TaskID)
	switch d.Action {
	case TaskActionCreate, TaskActionComplete, TaskActionDelete:
	case "":
		v.add("action", "is required")
	default:
		v.add("action", fmt.Sprintf("%q is not one of create, complete, delete", d.Action))
	}
	if d.Priority < 0 || d.Priority > MaxTaskPriority {
		v.add("priority", fmt.Sprintf("must be between 0 and %d", MaxTaskPriority))
	}
	if d.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, d.DueDate); err != nil {
			v.add("due_date", "must be an RFC3339 timestamp")
		}
	}
	return v.err()
}

// Due returns the parsed due date, or the zero time when none is set.
func (d *TaskData) Due() time.Time {
	t, _ := time.Parse(time.RFC3339, d.DueDate)
	return t
}

// CounterData is the payload of a "counter" message.
type CounterData struct {
	Name      string `json:"name"`
	Increment int64  `json:"increment"`
}

func (*CounterData) MessageType() MessageType { return MessageTypeCounter }

func (d *CounterData) Validate() error {
	v := &validator{}
	v.required("name", d.Name)
	if d.Increment == 0 {
		v.add("increment", "must be non-zero")
	} else if d.Increment > MaxCounterIncrement || d.Increment < -MaxCounterIncrement {
		v.add("increment", fmt.Sprintf("must be within ±%d", MaxCounterIncrement))
	}
	return v.err()
}

// NotificationData is the payload of a "notification" message.
type NotificationData struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (*NotificationData) MessageType() MessageType { return MessageTypeNotification }

func (d *NotificationData) Validate() error {
	v := &validator{}
	v.required("channel", d.Channel)
	v.required("recipient", d.Recipient)
	v.required("body", d.Body)
	if len(d.Body) > MaxNotificationLength {
		v.add("body", fmt.Sprintf("exceeds %d bytes", MaxNotificationLength))
	}
	return v.err()
}
