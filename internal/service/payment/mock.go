package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockService — конфигурируемая заглушка PaymentService. Используется в тестах
// и как локальный провайдер, когда внешний платёжный сервис не настроен.
type MockService struct {
	mu sync.Mutex

	ChargeStatus domain.PaymentStatus
	ChargeErr    error
	RefundStatus domain.PaymentStatus
	RefundErr    error

	ChargeCalls   int
	RefundCalls   int
	ChargedMinor  int64
	RefundedMinor int64
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{
		ChargeStatus: domain.PaymentStatusCharged,
		RefundStatus: domain.PaymentStatusRefunded,
	}
}

// Charge возвращает настроенный результат и накапливает списанную сумму.
// Как и реальный клиент, отклоняет неположительные суммы.
func (m *MockService) Charge(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChargeCalls++
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}
	if m.ChargeErr != nil {
		return "", m.ChargeErr
	}
	if m.ChargeStatus == domain.PaymentStatusCharged {
		m.ChargedMinor += amountMinor
	}
	return m.ChargeStatus, nil
}

// Refund возвращает настроенный результат и накапливает возвращённую сумму.
// Как и реальный клиент, отклоняет неположительные суммы.
func (m *MockService) Refund(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}
	if m.RefundErr != nil {
		return "", m.RefundErr
	}
	m.RefundedMinor += amountMinor
	return m.RefundStatus, nil
}

var _ domain.PaymentService = (*MockService)(nil)
