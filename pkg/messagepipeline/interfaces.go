package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// --- Consumer ---

// MessageConsumer defines the interface for a message source (Pub/Sub, SQS).
// It is responsible for fetching messages and handing them off to the pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers will receive messages.
	Messages() <-chan Message
	// Start begins the consumption process (e.g., by calling subscription.Receive).
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// --- Processor ---

// BatchProcessor is the contract the BatchingService hands collected batches to.
// *queueengine.BatchProcessor satisfies it.
type BatchProcessor interface {
	Process(ctx context.Context, batch *queueengine.Batch) (queueengine.BatchResult, error)
}

// --- Producer ---

// Producer validates a message and enqueues it to a transport.
type Producer interface {
	Send(ctx context.Context, msg types.Message) error
	Stop(ctx context.Context) error
}
