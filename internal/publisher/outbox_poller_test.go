package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	r "github.com/arisdnt/project-kas-sub006/internal/repository"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type MockRepository struct {
	mu           sync.Mutex
	OutboxEvents []*r.OutboxEvent
	GetErr       error
	MarkErr      error
	Processed    []int64
	PurgeBefore  time.Time
	PurgeErr     error
}

func (m *MockRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []*r.OutboxEvent
	for _, e := range m.OutboxEvents {
		if m.isProcessed(e.ID) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Processed = append(m.Processed, id)
	return nil
}

func (m *MockRepository) PurgeProcessedEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PurgeBefore = before
	return int64(len(m.Processed)), m.PurgeErr
}

func (m *MockRepository) isProcessed(id int64) bool {
	for _, p := range m.Processed {
		if p == id {
			return true
		}
	}
	return false
}

func (m *MockRepository) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.Processed...)
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	failOn   string
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range msgs {
		if w.failOn != "" && string(msg.Value) == w.failOn {
			return errors.New("broker unavailable")
		}
		w.messages = append(w.messages, msg)
	}
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func event(id int64, storeID string) *r.OutboxEvent {
	return &r.OutboxEvent{
		ID:          id,
		AggregateId: storeID,
		EventType:   r.EventPaymentCommitted,
		Payload:     json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
		CreatedAt:   time.Now(),
	}
}

func newTestPoller(repo r.OutboxRepository, w MessageWriter) *OutboxPoller {
	return &OutboxPoller{
		timeout:     time.Second,
		eventTick:   10 * time.Millisecond,
		cleanupTick: time.Hour,
		retention:   DefaultRetention,
		repo:        repo,
		writer:      w,
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "S1"), event(2, "S2")}}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	p.processUnpublishedEvents(context.Background())

	assert.Equal(t, []int64{1, 2}, repo.processed())
	require.Len(t, w.messages, 2)
	assert.Equal(t, "S1", string(w.messages[0].Key))
	assert.Equal(t, `{"id":1}`, string(w.messages[0].Value))
	require.Len(t, w.messages[0].Headers, 1)
	assert.Equal(t, r.EventPaymentCommitted, string(w.messages[0].Headers[0].Value))

	p.processUnpublishedEvents(context.Background())
	assert.Len(t, w.messages, 2, "processed events are not sent twice")
}

func TestProcessUnpublishedEvents_StopsAtFirstFailure(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "S1"), event(2, "S1"), event(3, "S1")}}
	w := &mockWriter{failOn: `{"id":2}`}
	p := newTestPoller(repo, w)

	p.processUnpublishedEvents(context.Background())
	assert.Equal(t, []int64{1}, repo.processed())

	w.failOn = ""
	p.processUnpublishedEvents(context.Background())
	assert.Equal(t, []int64{1, 2, 3}, repo.processed())
}

func TestProcessUnpublishedEvents_RepositoryErrors(t *testing.T) {
	repo := &MockRepository{GetErr: errors.New("db down")}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	p.processUnpublishedEvents(context.Background())
	assert.Empty(t, w.messages)

	repo = &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "S1")}, MarkErr: errors.New("db down")}
	p = newTestPoller(repo, w)
	p.processUnpublishedEvents(context.Background())
	assert.Len(t, w.messages, 1, "published but left unprocessed for the next round")
	assert.Empty(t, repo.processed())
}

func TestPurgeProcessedEvents_UsesRetention(t *testing.T) {
	repo := &MockRepository{}
	p := newTestPoller(repo, &mockWriter{})

	before := time.Now()
	p.purgeProcessedEvents(context.Background())
	assert.WithinDuration(t, before.Add(-DefaultRetention), repo.PurgeBefore, time.Second)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "S1")}}
	p := newTestPoller(repo, &mockWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(repo.processed()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, Topic)
	time.Sleep(5 * time.Second)

	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "S1")}}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        Topic,
		Balancer:     &kafkaGo.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	p := newTestPoller(repo, writer)
	p.timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go p.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    Topic,
		GroupID:  "kasir-test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S1", string(msg.Key))
	assert.JSONEq(t, `{"id":1}`, string(msg.Value))

	assert.Eventually(t, func() bool { return len(repo.processed()) == 1 }, 5*time.Second, 100*time.Millisecond)
}
