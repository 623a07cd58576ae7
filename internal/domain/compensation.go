package domain

import (
	"fmt"
	"time"
)

// CompensationAction определяет тип отложенной компенсации.
type CompensationAction string

const (
	// CompensationRelease — вернуть зарезервированный сток на склад.
	CompensationRelease CompensationAction = "release"
	// CompensationRefund — вернуть списанные средства покупателю.
	CompensationRefund CompensationAction = "refund"
)

// CompensationTask — отложенная компенсация, которую не удалось выполнить
// синхронно. Token стабилен для пары (заказ, действие, товар): внешний сервис
// де-дублицирует по нему повторные вызовы.
type CompensationTask struct {
	ID          string
	Token       string
	OrderID     string
	UserID      string
	ProductID   string
	Action      CompensationAction
	Qty         int32
	AmountMinor int64
	Attempts    int
	NotBefore   time.Time
	CreatedAt   time.Time
}

// CompensationStats описывает backlog очереди компенсаций.
type CompensationStats struct {
	PendingCount int
	DeadCount    int
}

// ReleaseToken строит стабильный идемпотентный токен для снятия резерва.
func ReleaseToken(orderID, productID string) string {
	return fmt.Sprintf("%s:%s:release", orderID, productID)
}

// RefundToken строит стабильный идемпотентный токен для возврата средств.
// seq различает последовательные частичные возвраты одного заказа.
func RefundToken(orderID string, seq int64) string {
	return fmt.Sprintf("%s:refund:%d", orderID, seq)
}

// ChargeToken строит стабильный идемпотентный токен для списания по заказу.
func ChargeToken(orderID string) string {
	return fmt.Sprintf("%s:charge", orderID)
}
