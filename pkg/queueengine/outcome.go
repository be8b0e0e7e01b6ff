package queueengine

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// Outcome is the observability record emitted once per delivery.
type Outcome struct {
	MessageID  string
	DeliveryID string
	Queue      string
	Type       types.MessageType
	Attempt    int
	Elapsed    time.Duration
	Action     Action
	Reason     Reason
	Error      string
	At         time.Time
}

// OutcomeSink receives outcome records. Implementations must not block for
// long; Record is called on the processing path.
type OutcomeSink interface {
	Record(ctx context.Context, o Outcome)
}

// OutcomeSinkFunc adapts a function to OutcomeSink.
type OutcomeSinkFunc func(ctx context.Context, o Outcome)

func (f OutcomeSinkFunc) Record(ctx context.Context, o Outcome) { f(ctx, o) }

// MultiSink fans an outcome out to several sinks in order.
type MultiSink []OutcomeSink

func (m MultiSink) Record(ctx context.Context, o Outcome) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, o)
		}
	}
}

// LogSink writes one structured log line per outcome.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "OutcomeLog").Logger()}
}

func (s *LogSink) Record(_ context.Context, o Outcome) {
	var ev *zerolog.Event
	switch o.Reason {
	case ReasonSucceeded:
		ev = s.logger.Info()
	case ReasonNoHandler, ReasonRetryScheduled, ReasonCanceled:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Error()
	}
	if o.Error != "" {
		ev = ev.Str("error", o.Error)
	}
	ev.Str("msg_id", o.MessageID).
		Str("delivery_id", o.DeliveryID).
		Str("queue", o.Queue).
		Str("message_type", string(o.Type)).
		Int("attempt", o.Attempt).
		Int64("elapsed_ms", o.Elapsed.Milliseconds()).
		Str("action", o.Action.String()).
		Str("reason", string(o.Reason)).
		Msg("Message processed.")
}

// Stats is a snapshot of a CountingSink.
type Stats struct {
	Total        int64            `json:"total"`
	Acknowledged int64            `json:"acknowledged"`
	Retried      int64            `json:"retried"`
	ByReason     map[Reason]int64 `json:"by_reason"`
	ByType       map[string]int64 `json:"by_type"`
}

// CountingSink aggregates outcome counters in memory.
type CountingSink struct {
	mu    sync.Mutex
	stats Stats
}

// NewCountingSink creates an empty CountingSink.
func NewCountingSink() *CountingSink {
	return &CountingSink{stats: Stats{
		ByReason: make(map[Reason]int64),
		ByType:   make(map[string]int64),
	}}
}

func (s *CountingSink) Record(_ context.Context, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Total++
	if o.Action == ActionRetry {
		s.stats.Retried++
	} else {
		s.stats.Acknowledged++
	}
	s.stats.ByReason[o.Reason]++
	s.stats.ByType[string(o.Type)]++
}

// Snapshot returns a copy of the current counters.
func (s *CountingSink) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.ByReason = make(map[Reason]int64, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		out.ByReason[k] = v
	}
	out.ByType = make(map[string]int64, len(s.stats.ByType))
	for k, v := range s.stats.ByType {
		out.ByType[k] = v
	}
	return out
}
