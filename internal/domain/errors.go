package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одного товара в запросе на оформление.
	ErrItemsRequired = errors.New("checkout must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка, если полностью возвращённый заказ сохранил сумму или позиции.
	ErrRefundedNotEmpty = errors.New("refunded order must have zero total and no items")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — запрошен нелегальный переход статуса заказа.
	ErrInvalidTransition = errors.New("illegal order status transition")

	// Ошибка отсутствующего идентификатора заказа в резервах/платежах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора товара в резерве.
	ErrProductIDRequired = errors.New("product_id is required")

	// ErrProductNotFound — запрошенный товар отсутствует в снимке каталога.
	ErrProductNotFound = errors.New("product not found")
	// ErrOutOfStock — бизнес-отказ склада: доступный сток меньше запрошенного.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrUpstreamUnavailable — внешний сервис недоступен или не ответил вовремя.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-отказ, не сбой).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentAmountInvalid — попытка списать нулевую или отрицательную сумму.
	ErrPaymentAmountInvalid = errors.New("payment amount must be positive")

	// ErrNotRefundable — заказ не в статусе, допускающем возврат.
	ErrNotRefundable = errors.New("order is not refundable")
	// ErrRefundForbidden — возврат запросил не покупатель заказа.
	ErrRefundForbidden = errors.New("refund is allowed only for the order owner")
	// ErrInvalidRefundQuantity — запрошено количество больше удерживаемого или <= 0.
	ErrInvalidRefundQuantity = errors.New("refund qty exceeds held quantity")
	// ErrRefundItemUnknown — в запросе на возврат указан товар, которого нет в заказе.
	ErrRefundItemUnknown = errors.New("refund item is not part of the order")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrCompensationNotFound — задача компенсации не найдена в очереди.
	ErrCompensationNotFound = errors.New("compensation task not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsCallerError сообщает, относится ли ошибка к классу ошибок вызывающей
// стороны: такие запросы отклоняются синхронно и не оставляют побочных эффектов.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrItemsRequired) ||
		errors.Is(err, ErrItemQtyInvalid) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrNotRefundable) ||
		errors.Is(err, ErrRefundForbidden) ||
		errors.Is(err, ErrInvalidRefundQuantity) ||
		errors.Is(err, ErrRefundItemUnknown)
}
