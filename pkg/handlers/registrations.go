package handlers

import (
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// Dependencies are the stores the handlers write to.
type Dependencies struct {
	Tasks         TaskStore
	Counters      CounterStore
	Notifications Notifier
	Now           func() time.Time
}

// Registrations returns one registration, with its payload schema, per known
// message type.
func Registrations(deps Dependencies) []queueengine.Registration {
	return []queueengine.Registration{
		{Type: types.MessageTypeTask, Handler: NewTaskHandler(deps.Tasks, deps.Now), Schema: TaskSchema},
		{Type: types.MessageTypeCounter, Handler: NewCounterHandler(deps.Counters), Schema: CounterSchema},
		{Type: types.MessageTypeNotification, Handler: NewNotificationHandler(deps.Notifications), Schema: NotificationSchema},
	}
}
