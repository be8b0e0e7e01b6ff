package messagepipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub creates an in-memory Pub/Sub server with one topic and one
// subscription on it. The subscription has a dead-letter policy so delivery
// attempts are counted.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Topic, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	deadLetterTopic, err := client.CreateTopic(ctx, topicID+"-dead-letter")
	require.NoError(t, err)
	t.Cleanup(deadLetterTopic.Stop)

	sub, err := client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic: topic,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     deadLetterTopic.String(),
			MaxDeliveryAttempts: 10,
		},
	})
	require.NoError(t, err)
	return client, topic, sub
}

// receiveSingleMessage waits for one message from a subscription and acks it.
func receiveSingleMessage(t *testing.T, ctx context.Context, sub *pubsub.Subscription, timeout time.Duration) *pubsub.Message {
	t.Helper()
	var receivedMsg *pubsub.Message
	var mu sync.Mutex

	receiveCtx, receiveCancel := context.WithTimeout(ctx, timeout)
	defer receiveCancel()

	err := sub.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if receivedMsg == nil {
			receivedMsg = msg
			msg.Ack()
			receiveCancel()
			return
		}
		msg.Nack()
	})
	if err != nil && err != context.Canceled {
		t.Logf("Receive loop ended with an unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return receivedMsg
}

// --- MockMessageConsumer ---

// MockMessageConsumer is an in-memory MessageConsumer fed through Push.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockMessageConsumer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.doneChan)
		close(m.msgChan)
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

// Push injects a message into the consumer channel.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// --- messageState ---

// messageState tracks the Ack/Nack status of one message.
type messageState struct {
	mu         sync.Mutex
	ackCalled  int
	nackCalled int
	delays     []time.Duration
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled++
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled++
}

func (ms *messageState) NackAfter(d time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled++
	ms.delays = append(ms.delays, d)
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled == 1 && ms.nackCalled == 0
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled == 1 && ms.ackCalled == 0
}

// newTestMessage builds a consumer message whose Ack/Nack record into a messageState.
func newTestMessage(id string, body string) (messagepipeline.Message, *messageState) {
	state := &messageState{}
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(body), PublishTime: time.UnixMilli(1_760_000_000_000)},
		Ack:         state.Ack,
		Nack:        state.Nack,
		NackAfter:   state.NackAfter,
	}, state
}

// --- mockBatchProcessor ---

// mockBatchProcessor records the batches it receives and acknowledges every delivery.
type mockBatchProcessor struct {
	mu      sync.Mutex
	batches []*queueengine.Batch
	err     error
}

func (p *mockBatchProcessor) Process(_ context.Context, batch *queueengine.Batch) (queueengine.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	if p.err != nil {
		return queueengine.BatchResult{}, p.err
	}
	for _, d := range batch.Deliveries {
		d.Acker.Acknowledge()
	}
	return queueengine.BatchResult{Acknowledged: len(batch.Deliveries)}, nil
}

func (p *mockBatchProcessor) Batches() []*queueengine.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*queueengine.Batch, len(p.batches))
	copy(out, p.batches)
	return out
}

func (p *mockBatchProcessor) DeliveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b.Deliveries)
	}
	return n
}

// --- mockSQSClient ---

// mockSQSClient serves queued ReceiveMessage outputs and records every call.
type mockSQSClient struct {
	mu         sync.Mutex
	receives   []*sqs.ReceiveMessageOutput
	receiveErr error
	deletes    []*sqs.DeleteMessageInput
	visibility []*sqs.ChangeMessageVisibilityInput
	sends      []*sqs.SendMessageInput
	sendErr    error
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	if m.receiveErr != nil {
		err := m.receiveErr
		m.receiveErr = nil
		m.mu.Unlock()
		return nil, err
	}
	if len(m.receives) > 0 {
		out := m.receives[0]
		m.receives = m.receives[1:]
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()
	// Emulate an empty long poll.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, in)
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQSClient) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility = append(m.visibility, in)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (m *mockSQSClient) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sends = append(m.sends, in)
	id := "sqs-msg-1"
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

func (m *mockSQSClient) Deletes() []*sqs.DeleteMessageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sqs.DeleteMessageInput(nil), m.deletes...)
}

func (m *mockSQSClient) Visibility() []*sqs.ChangeMessageVisibilityInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sqs.ChangeMessageVisibilityInput(nil), m.visibility...)
}

func (m *mockSQSClient) Sends() []*sqs.SendMessageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sqs.SendMessageInput(nil), m.sends...)
}
