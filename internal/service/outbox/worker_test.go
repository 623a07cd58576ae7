package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type stubPublisher struct {
	mu       sync.Mutex
	err      error
	messages []domain.OutboxMessage
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func seedMessage(t *testing.T, repo domain.OutboxRepository) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderPaid",
		Payload:       []byte(`{"total_minor":2000}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := seedMessage(t, repo)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, Options{MaxAttempts: 3})
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
	if publisher.messages[0].ID != msg.ID {
		t.Fatalf("published wrong message: %+v", publisher.messages[0])
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("message must leave pending set, got %d", len(pending))
	}
}

func TestWorker_ProcessOnce_FailedGoesToDLQ(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := seedMessage(t, repo)
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, publisher, Options{MaxAttempts: 2, DLQPublisher: dlq})
	worker.ProcessOnce(context.Background())

	if got := dlq.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(dlq.messages[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal dlq payload: %v", err)
	}
	if payload["outbox_id"] != msg.ID || payload["publish_error"] == "" {
		t.Fatalf("unexpected dlq payload: %+v", payload)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed message must leave pending set, got %d", len(pending))
	}
}

func TestWorker_ProcessOnce_EmptyOutboxIsNoop(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, Options{})
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 0 {
		t.Fatalf("expected no publish calls, got %d", got)
	}
}
