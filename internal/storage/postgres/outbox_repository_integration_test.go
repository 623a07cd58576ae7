package postgres

import (
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestOutboxRepository_PostgresEnqueuePullMark(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "checkout.order.paid",
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(msg.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	pending, err = repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending after sent: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}

func TestTimelineRepository_PostgresAppendList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)

	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: "checkout.order.created"},
		{OrderID: "order-1", Type: "checkout.order.paid"},
		{OrderID: "order-2", Type: "checkout.order.failed", Reason: "out_of_stock"},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append %s: %v", event.Type, err)
		}
	}

	listed, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(listed))
	}
	if listed[0].Type != "checkout.order.created" || listed[1].Type != "checkout.order.paid" {
		t.Fatalf("events out of order: %+v", listed)
	}
}
