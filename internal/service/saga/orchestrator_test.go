package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type stubCatalog struct {
	products map[string]domain.Product
	err      error
}

func (s *stubCatalog) ListProducts(ctx context.Context) (map[string]domain.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.products, nil
}

type reserveCall struct {
	productID string
	qty       int32
}

type stubInventory struct {
	mu sync.Mutex

	// reserveErrs задаёт ошибку по товару; отсутствие записи — успех.
	reserveErrs map[string]error
	releaseErr  error

	reserves []reserveCall
	releases []reserveCall
}

func (s *stubInventory) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reserveErrs[productID]; err != nil {
		return domain.Reservation{}, err
	}
	s.reserves = append(s.reserves, reserveCall{productID: productID, qty: qty})
	return domain.Reservation{OrderID: orderID, ProductID: productID, Qty: qty}, nil
}

func (s *stubInventory) Release(ctx context.Context, orderID, productID string, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.releases = append(s.releases, reserveCall{productID: productID, qty: qty})
	return nil
}

type stubPayment struct {
	mu sync.Mutex

	chargeStatus domain.PaymentStatus
	chargeErr    error
	refundErr    error

	chargeCnt     int
	refundCnt     int
	refundedMinor int64
}

func (s *stubPayment) Charge(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chargeCnt++
	// Контракт платёжного сервиса: сумма строго положительна.
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}
	if s.chargeErr != nil {
		return "", s.chargeErr
	}
	if s.chargeStatus == "" {
		return domain.PaymentStatusCharged, nil
	}
	return s.chargeStatus, nil
}

func (s *stubPayment) Refund(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundCnt++
	// Контракт платёжного сервиса: сумма строго положительна.
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}
	if s.refundErr != nil {
		return "", s.refundErr
	}
	s.refundedMinor += amountMinor
	return domain.PaymentStatusRefunded, nil
}

type sagaFixture struct {
	orchestrator  *Orchestrator
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	compensations domain.CompensationQueue
	catalog       *stubCatalog
	inventory     *stubInventory
	payments      *stubPayment
}

func newFixture() *sagaFixture {
	catalog := &stubCatalog{products: map[string]domain.Product{
		"p1": {ID: "p1", Name: "Widget", PriceMinor: 500, Stock: 10},
		"p2": {ID: "p2", Name: "Gadget", PriceMinor: 1000, Stock: 5},
	}}
	inventory := &stubInventory{reserveErrs: map[string]error{}}
	payments := &stubPayment{}

	f := &sagaFixture{
		orders:        memory.NewOrderRepository(),
		outbox:        memory.NewOutboxRepository(),
		timeline:      memory.NewTimelineRepository(),
		compensations: memory.NewCompensationQueue(),
		catalog:       catalog,
		inventory:     inventory,
		payments:      payments,
	}

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	f.orchestrator = NewOrchestratorWithoutMetrics(Deps{
		Orders:        f.orders,
		Outbox:        f.outbox,
		Timeline:      f.timeline,
		Catalog:       catalog,
		Inventory:     inventory,
		Payments:      payments,
		Compensations: f.compensations,
		Logger:        logger.WithField("component", "saga-test"),
	})
	return f
}

func defaultItems() []CheckoutItem {
	return []CheckoutItem{
		{ProductID: "p1", Qty: 2},
		{ProductID: "p2", Qty: 1},
	}
}

func TestCheckoutSuccess(t *testing.T) {
	f := newFixture()

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status: got %s, want PAID", order.Status)
	}
	if order.TotalMinor != 2000 {
		t.Fatalf("total: got %d, want 2000", order.TotalMinor)
	}
	if len(order.Items) != 2 {
		t.Fatalf("items: got %d, want 2", len(order.Items))
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get stored order: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("stored status: %s", stored.Status)
	}
	if errs := stored.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("invariants violated: %v", errs)
	}

	if len(f.inventory.reserves) != 2 {
		t.Fatalf("reserve calls: got %d, want 2", len(f.inventory.reserves))
	}
	if f.payments.chargeCnt != 1 {
		t.Fatalf("charge calls: got %d, want 1", f.payments.chargeCnt)
	}
	if len(f.inventory.releases) != 0 || f.payments.refundCnt != 0 {
		t.Fatal("no compensations expected on success")
	}

	events, err := f.timeline.List(order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 2 || events[0].Type != "OrderCreated" || events[1].Type != "OrderPaid" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}

func TestCheckoutOutOfStockIsBusinessOutcome(t *testing.T) {
	f := newFixture()
	f.inventory.reserveErrs["p2"] = domain.ErrOutOfStock

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if err != nil {
		t.Fatalf("business decline must not be an error: %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("status: got %s, want FAILED", order.Status)
	}

	// Резерв p1 прошёл до отказа и должен быть снят.
	if len(f.inventory.releases) != 1 || f.inventory.releases[0].productID != "p1" {
		t.Fatalf("expected p1 release, got %+v", f.inventory.releases)
	}
	if f.payments.chargeCnt != 0 {
		t.Fatal("charge must not run after reserve failure")
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusFailed || len(stored.Items) != 0 {
		t.Fatalf("failed order must stay empty: %+v", stored)
	}
}

func TestCheckoutPaymentDeclined(t *testing.T) {
	f := newFixture()
	f.payments.chargeStatus = domain.PaymentStatusDeclined

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if err != nil {
		t.Fatalf("payment decline must not be an error: %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("status: got %s, want FAILED", order.Status)
	}

	// Оба резерва снимаются в обратном порядке.
	if len(f.inventory.releases) != 2 {
		t.Fatalf("releases: got %d, want 2", len(f.inventory.releases))
	}
	if f.inventory.releases[0].productID != "p2" || f.inventory.releases[1].productID != "p1" {
		t.Fatalf("compensation order must be reversed: %+v", f.inventory.releases)
	}
}

func TestCheckoutDeclinedKeepsOrderTotal(t *testing.T) {
	f := newFixture()
	f.payments.chargeStatus = domain.PaymentStatusDeclined

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Сумма фиксируется при создании заказа и переживает отказ оплаты.
	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OrderStatusFailed {
		t.Fatalf("status: got %s, want FAILED", stored.Status)
	}
	if stored.TotalMinor != 2000 {
		t.Fatalf("failed order total: got %d, want 2000", stored.TotalMinor)
	}
}

func TestCheckoutUpstreamUnavailableReturnsError(t *testing.T) {
	f := newFixture()
	f.payments.chargeErr = domain.ErrUpstreamUnavailable

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("status: got %s, want FAILED", order.Status)
	}
	if len(f.inventory.releases) != 2 {
		t.Fatalf("reserved stock must be released, got %d releases", len(f.inventory.releases))
	}
}

func TestCheckoutCatalogUnavailable(t *testing.T) {
	f := newFixture()
	f.catalog.err = domain.ErrUpstreamUnavailable

	_, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	// До создания заказа дело не дошло.
	orders, err := f.orders.ListAll(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("no order must be persisted, got %d", len(orders))
	}
}

func TestCheckoutUnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator.Checkout(context.Background(), "user-1", []CheckoutItem{{ProductID: "p9", Qty: 1}})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	orders, err := f.orders.ListAll(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("no order must be persisted, got %d", len(orders))
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.orchestrator.Checkout(ctx, "  ", defaultItems()); !errors.Is(err, domain.ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if _, err := f.orchestrator.Checkout(ctx, "user-1", nil); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
	if _, err := f.orchestrator.Checkout(ctx, "user-1", []CheckoutItem{{ProductID: "p1", Qty: 0}}); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if _, err := f.orchestrator.Checkout(ctx, "user-1", []CheckoutItem{{ProductID: " ", Qty: 1}}); !errors.Is(err, domain.ErrProductIDRequired) {
		t.Fatalf("expected ErrProductIDRequired, got %v", err)
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	f := newFixture()

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: "p1", Qty: 1},
		{ProductID: "p1", Qty: 2},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].Qty != 3 {
		t.Fatalf("duplicate lines must merge: %+v", order.Items)
	}
	if order.TotalMinor != 1500 {
		t.Fatalf("total: got %d, want 1500", order.TotalMinor)
	}
}

func TestCheckoutFailedReleaseQueuesCompensation(t *testing.T) {
	f := newFixture()
	f.payments.chargeStatus = domain.PaymentStatusDeclined
	f.inventory.releaseErr = domain.ErrUpstreamUnavailable

	order, err := f.orchestrator.Checkout(context.Background(), "user-1", defaultItems())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("status: got %s, want FAILED", order.Status)
	}

	stats, err := f.compensations.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected 2 queued compensations, got %d", stats.PendingCount)
	}
}
