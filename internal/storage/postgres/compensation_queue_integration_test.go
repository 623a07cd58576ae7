package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestCompensationQueue_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	queue := NewCompensationQueue(store)

	now := time.Now().UTC().Round(time.Microsecond)

	task, err := queue.Enqueue(domain.CompensationTask{
		Token:     domain.ReleaseToken("order-1", "p1"),
		OrderID:   "order-1",
		ProductID: "p1",
		Action:    domain.CompensationRelease,
		Qty:       2,
		NotBefore: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Повтор с тем же токеном возвращает существующую задачу.
	dup, err := queue.Enqueue(domain.CompensationTask{
		Token:   domain.ReleaseToken("order-1", "p1"),
		OrderID: "order-1",
		Action:  domain.CompensationRelease,
	})
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if dup.ID != task.ID {
		t.Fatalf("duplicate token must return existing task: %s != %s", dup.ID, task.ID)
	}

	due, err := queue.PullDue(now, 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 1 || due[0].ID != task.ID {
		t.Fatalf("unexpected due tasks: %+v", due)
	}

	if err := queue.Reschedule(task.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	due, err = queue.PullDue(now, 10)
	if err != nil {
		t.Fatalf("pull due after reschedule: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("rescheduled task must not be due: %+v", due)
	}

	if err := queue.MarkDead(task.ID); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 || stats.DeadCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := queue.MarkDone(task.ID); !errors.Is(err, domain.ErrCompensationNotFound) {
		t.Fatalf("dead task must not be completable, got %v", err)
	}
}

func TestCompensationQueue_PostgresMarkDone(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	queue := NewCompensationQueue(store)

	task, err := queue.Enqueue(domain.CompensationTask{
		Token:       domain.RefundToken("order-2", 1),
		OrderID:     "order-2",
		UserID:      "user-1",
		Action:      domain.CompensationRefund,
		AmountMinor: 500,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.MarkDone(task.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	stats, err := queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 || stats.DeadCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
