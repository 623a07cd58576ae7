package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func newOrder(id, userID string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         id,
		UserID:     userID,
		Status:     domain.OrderStatusPaid,
		TotalMinor: 500,
		Items: []domain.OrderItem{
			{ID: id + "-item-1", OrderID: id, ProductID: "p1", Qty: 5, PriceMinor: 100, LineTotalMinor: 500, CreatedAt: now},
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1")

	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, stored.ID)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(stored.Items))
	}
}

func TestOrderRepository_GetNotFound(t *testing.T) {
	repo := memory.NewOrderRepository()

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	repo := memory.NewOrderRepository()
	if err := repo.Create(newOrder("order-1", "user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(newOrder("order-2", "user-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListByUser("user-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].UserID != "user-1" {
		t.Fatalf("unexpected user: %s", orders[0].UserID)
	}
}

func TestOrderRepository_ListAllLimit(t *testing.T) {
	repo := memory.NewOrderRepository()
	if err := repo.Create(newOrder("order-1", "user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(newOrder("order-2", "user-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListAll(1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order with limit, got %d", len(orders))
	}
}

func TestOrderRepository_Save(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1")
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.TotalMinor = 600
	if err := repo.Save(stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if updated.TotalMinor != 600 {
		t.Fatalf("expected total 600, got %d", updated.TotalMinor)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1")
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOrderRepository_StoredCopyIsIsolated(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1")
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Мутация слайса у вызывающей стороны не должна влиять на хранилище.
	order.Items[0].Qty = 99

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Items[0].Qty != 5 {
		t.Fatalf("stored order mutated externally: qty=%d", stored.Items[0].Qty)
	}
}
