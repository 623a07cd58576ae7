package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockService — in-memory инвентарь с живым стоком. Используется в тестах и
// как локальный collaborator, когда внешний инвентарный сервис не настроен.
type MockService struct {
	mu       sync.Mutex
	products map[string]domain.Product
	// reserved хранит выданные резервы по токену release, чтобы повторный
	// release не возвращал сток дважды.
	reserved map[string]int32

	ReserveErr error
	ReleaseErr error

	ReserveCalls int
	ReleaseCalls int
}

// NewMockService возвращает инвентарь с переданным каталогом.
func NewMockService(products []domain.Product) *MockService {
	index := make(map[string]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return &MockService{
		products: index,
		reserved: make(map[string]int32),
	}
}

// ListProducts возвращает копию снимка каталога.
func (m *MockService) ListProducts(ctx context.Context) (map[string]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]domain.Product, len(m.products))
	for id, p := range m.products {
		snapshot[id] = p
	}
	return snapshot, nil
}

// Reserve уменьшает живой сток и запоминает резерв; считает вызовы.
func (m *MockService) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReserveCalls++
	if m.ReserveErr != nil {
		return domain.Reservation{}, m.ReserveErr
	}

	product, ok := m.products[productID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("reserve %s: %w", productID, domain.ErrOutOfStock)
	}
	if product.Stock < qty {
		return domain.Reservation{}, fmt.Errorf("reserve %s: %w", productID, domain.ErrOutOfStock)
	}

	product.Stock -= qty
	m.products[productID] = product
	m.reserved[domain.ReleaseToken(orderID, productID)] += qty

	return domain.Reservation{
		OrderID:    orderID,
		ProductID:  productID,
		Qty:        qty,
		PriceMinor: product.PriceMinor,
	}, nil
}

// Release возвращает сток в каталог, но не больше, чем было зарезервировано
// по этой паре (заказ, товар).
func (m *MockService) Release(ctx context.Context, orderID, productID string, qty int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReleaseCalls++
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}

	token := domain.ReleaseToken(orderID, productID)
	held := m.reserved[token]
	if qty > held {
		qty = held
	}
	if qty == 0 {
		return nil
	}

	product, ok := m.products[productID]
	if !ok {
		return nil
	}
	product.Stock += qty
	m.products[productID] = product
	m.reserved[token] = held - qty
	return nil
}

// Stock возвращает текущий живой сток товара (для проверок в тестах).
func (m *MockService) Stock(productID string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Stock
}

var (
	_ domain.CatalogService   = (*MockService)(nil)
	_ domain.InventoryService = (*MockService)(nil)
)
