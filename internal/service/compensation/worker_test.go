package compensation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type stubInventory struct {
	mu         sync.Mutex
	releaseErr error
	releases   int
	lastToken  string
}

func (s *stubInventory) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.Reservation, error) {
	return domain.Reservation{}, nil
}

func (s *stubInventory) Release(ctx context.Context, orderID, productID string, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.releases++
	s.lastToken, _ = domain.IdempotencyTokenFromContext(ctx)
	return nil
}

type stubPayments struct {
	mu        sync.Mutex
	refundErr error
	refunds   int
	lastToken string
}

func (s *stubPayments) Charge(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	return domain.PaymentStatusCharged, nil
}

func (s *stubPayments) Refund(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundErr != nil {
		return "", s.refundErr
	}
	s.refunds++
	s.lastToken, _ = domain.IdempotencyTokenFromContext(ctx)
	return domain.PaymentStatusRefunded, nil
}

type stubDLQ struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (s *stubDLQ) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func releaseTask(orderID, productID string, qty int32) domain.CompensationTask {
	return domain.CompensationTask{
		Token:     domain.ReleaseToken(orderID, productID),
		OrderID:   orderID,
		UserID:    "user-1",
		ProductID: productID,
		Action:    domain.CompensationRelease,
		Qty:       qty,
	}
}

func TestWorker_ProcessOnce_ReleaseDone(t *testing.T) {
	t.Parallel()

	queue := memory.NewCompensationQueue()
	if _, err := queue.Enqueue(releaseTask("order-1", "p1", 2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	inventory := &stubInventory{}

	worker := NewWorker(queue, inventory, &stubPayments{}, Options{BaseDelay: time.Millisecond})
	worker.ProcessOnce(context.Background())

	if inventory.releases != 1 {
		t.Fatalf("expected 1 release, got %d", inventory.releases)
	}
	if want := domain.ReleaseToken("order-1", "p1"); inventory.lastToken != want {
		t.Fatalf("token: got %s, want %s", inventory.lastToken, want)
	}

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 || stats.DeadCount != 0 {
		t.Fatalf("queue must be empty: %+v", stats)
	}
}

func TestWorker_ProcessOnce_RefundDone(t *testing.T) {
	t.Parallel()

	queue := memory.NewCompensationQueue()
	if _, err := queue.Enqueue(domain.CompensationTask{
		Token:       domain.RefundToken("order-1", 2),
		OrderID:     "order-1",
		UserID:      "user-1",
		Action:      domain.CompensationRefund,
		AmountMinor: 1500,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	payments := &stubPayments{}

	worker := NewWorker(queue, &stubInventory{}, payments, Options{})
	worker.ProcessOnce(context.Background())

	if payments.refunds != 1 {
		t.Fatalf("expected 1 refund, got %d", payments.refunds)
	}
	if want := domain.RefundToken("order-1", 2); payments.lastToken != want {
		t.Fatalf("token: got %s, want %s", payments.lastToken, want)
	}
}

func TestWorker_ProcessOnce_RescheduleOnFailure(t *testing.T) {
	t.Parallel()

	queue := memory.NewCompensationQueue()
	if _, err := queue.Enqueue(releaseTask("order-1", "p1", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	inventory := &stubInventory{releaseErr: domain.ErrUpstreamUnavailable}

	worker := NewWorker(queue, inventory, &stubPayments{}, Options{MaxAttempts: 3})
	worker.ProcessOnce(context.Background())

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.DeadCount != 0 {
		t.Fatalf("task must stay pending: %+v", stats)
	}

	// Задача отложена: до наступления notBefore её не видно.
	due, err := queue.PullDue(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("rescheduled task must not be due yet, got %d", len(due))
	}

	due, err = queue.PullDue(time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 1 || due[0].Attempts != 1 {
		t.Fatalf("expected 1 task with attempts=1, got %+v", due)
	}
}

func TestWorker_ProcessOnce_DeadAfterMaxAttemptsAndDLQ(t *testing.T) {
	t.Parallel()

	queue := memory.NewCompensationQueue()
	if _, err := queue.Enqueue(releaseTask("order-1", "p1", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	inventory := &stubInventory{releaseErr: domain.ErrUpstreamUnavailable}
	dlq := &stubDLQ{}

	worker := NewWorker(queue, inventory, &stubPayments{}, Options{
		MaxAttempts:  1,
		DLQPublisher: dlq,
	})
	worker.ProcessOnce(context.Background())

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 || stats.DeadCount != 1 {
		t.Fatalf("task must be dead: %+v", stats)
	}

	if len(dlq.messages) != 1 {
		t.Fatalf("expected 1 DLQ message, got %d", len(dlq.messages))
	}
	msg := dlq.messages[0]
	if msg.EventType != "CompensationDead" || msg.AggregateID != "order-1" {
		t.Fatalf("unexpected DLQ message: %+v", msg)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["action"] != "release" || payload["error"] == "" {
		t.Fatalf("unexpected DLQ payload: %+v", payload)
	}
}
