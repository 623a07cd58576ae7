package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в сервисе checkout.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сага оформления ещё выполняется.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — резервы подтверждены и оплата прошла успешно.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFailed — сага завершилась отказом: нет стока, отклонён платёж
	// или недоступен внешний сервис.
	OrderStatusFailed OrderStatus = "FAILED"
	// OrderStatusPartiallyRefunded — по заказу выполнен частичный возврат.
	OrderStatusPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
	// OrderStatusRefunded — заказ возвращён полностью; сумма и позиции обнулены.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// Terminal сообщает, является ли статус конечным: из него нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFailed || s == OrderStatusRefunded
}

// Refundable сообщает, допускает ли статус возврат средств.
func (s OrderStatus) Refundable() bool {
	return s == OrderStatusPaid || s == OrderStatusPartiallyRefunded
}

// CanTransitionTo проверяет легальность перехода статусов.
// PARTIALLY_REFUNDED допускает повторный вход: частичных возвратов может быть
// несколько.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusFailed
	case OrderStatusPaid:
		return next == OrderStatusPartiallyRefunded || next == OrderStatusRefunded
	case OrderStatusPartiallyRefunded:
		return next == OrderStatusPartiallyRefunded || next == OrderStatusRefunded
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа. Цена — снимок на момент
// оформления, изменения каталога после оплаты её не затрагивают.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	// Qty уменьшается частичными возвратами; позиция с Qty == 0 удаляется.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// LineTotalMinor = PriceMinor * Qty; пересчитывается при изменении Qty.
	LineTotalMinor int64
	CreatedAt      time.Time
}

// Order агрегирует состояние заказа и его позиции. Позиции принадлежат
// заказу целиком: создаются, изменяются и удаляются только через него.
type Order struct {
	ID         string
	UserID     string
	Status     OrderStatus
	TotalMinor int64
	Items      []OrderItem
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TransitionTo переводит заказ в новый статус, отклоняя нелегальные переходы.
// Все мутации статуса проходят через этот метод.
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	o.Status = next
	return nil
}

// RecalculateTotal пересчитывает line_total позиций и сумму заказа.
func (o *Order) RecalculateTotal() {
	var total int64
	for i := range o.Items {
		o.Items[i].LineTotalMinor = int64(o.Items[i].Qty) * o.Items[i].PriceMinor
		total += o.Items[i].LineTotalMinor
	}
	o.TotalMinor = total
}

// RefundLine описывает одну позицию запроса на возврат.
type RefundLine struct {
	ProductID string
	Qty       int32
}

// ApplyRefund применяет возврат к in-memory представлению заказа и возвращает
// сумму возврата. Пустой список означает "вернуть всё оставшееся" и переводит
// заказ в REFUNDED. Явный список уменьшает количества, удаляет обнулившиеся
// позиции и переводит заказ в PARTIALLY_REFUNDED — даже если позиций не
// осталось: "вернуть всё явно" отличимо от "вернуть всё по умолчанию".
// При любой ошибке заказ не мутируется.
func (o *Order) ApplyRefund(lines []RefundLine) (int64, error) {
	if !o.Status.Refundable() {
		return 0, ErrNotRefundable
	}

	if len(lines) == 0 {
		amount := o.TotalMinor
		if err := o.TransitionTo(OrderStatusRefunded); err != nil {
			return 0, err
		}
		o.Items = nil
		o.TotalMinor = 0
		return amount, nil
	}

	// Суммируем запрошенные количества по товару и валидируем до мутаций.
	requested := make(map[string]int32, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			return 0, ErrInvalidRefundQuantity
		}
		requested[line.ProductID] += line.Qty
	}

	held := make(map[string]int32, len(o.Items))
	for _, item := range o.Items {
		held[item.ProductID] = item.Qty
	}
	for productID, qty := range requested {
		current, ok := held[productID]
		if !ok {
			return 0, ErrRefundItemUnknown
		}
		if qty > current {
			return 0, ErrInvalidRefundQuantity
		}
	}

	if err := o.TransitionTo(OrderStatusPartiallyRefunded); err != nil {
		return 0, err
	}

	var amount int64
	remaining := o.Items[:0]
	for _, item := range o.Items {
		if qty := requested[item.ProductID]; qty > 0 {
			amount += int64(qty) * item.PriceMinor
			item.Qty -= qty
		}
		if item.Qty > 0 {
			remaining = append(remaining, item)
		}
	}
	o.Items = remaining
	o.RecalculateTotal()

	return amount, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price. Пока позиции не
	// привязаны (PENDING до оплаты), сверять нечего.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if len(o.Items) > 0 && calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.Status == OrderStatusRefunded && (o.TotalMinor != 0 || len(o.Items) != 0) {
		errs = append(errs, ErrRefundedNotEmpty)
	}

	return errs
}
