package domain

import (
	"context"
	"time"
)

// CatalogService отдаёт снимок каталога инвентарного сервиса.
type CatalogService interface {
	// ListProducts возвращает каталог целиком: product_id -> Product.
	// Недоступность или искажённый ответ — всегда ErrUpstreamUnavailable,
	// никогда не "товар не найден".
	ListProducts(ctx context.Context) (map[string]Product, error)
}

// InventoryService описывает взаимодействие со складскими резервами.
type InventoryService interface {
	// Reserve резервирует qty единиц товара под заказ. Возвращает
	// ErrOutOfStock при нехватке стока и ErrUpstreamUnavailable при сбое.
	Reserve(ctx context.Context, orderID, productID string, qty int32) (Reservation, error)
	// Release снимает резерв (компенсация); best-effort, ошибка логируется
	// и уходит в очередь компенсаций, но не меняет исход саги.
	Release(ctx context.Context, orderID, productID string, qty int32) error
}

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Charge инициирует списание средств по заказу; amountMinor строго > 0.
	Charge(ctx context.Context, userID, orderID string, amountMinor int64) (PaymentStatus, error)
	// Refund инициирует возврат средств (компенсация); best-effort.
	Refund(ctx context.Context, userID, orderID string, amountMinor int64) (PaymentStatus, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы покупателя с опциональным ограничением на количество.
	ListByUser(userID string, limit int) ([]Order, error)
	// ListAll возвращает заказы всех покупателей (владельческий обзор).
	ListAll(limit int) ([]Order, error)
	// Save применяет обновления к заказу и его позициям с учётом optimistic locking.
	Save(order Order) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CompensationQueue хранит отложенные компенсации (release/refund), которые не
// удалось выполнить синхронно. Задачи де-дублицируются по токену.
type CompensationQueue interface {
	// Enqueue ставит задачу в очередь; повторная постановка с тем же токеном
	// возвращает уже существующую задачу.
	Enqueue(task CompensationTask) (CompensationTask, error)
	// PullDue возвращает до limit задач, срок которых наступил.
	PullDue(now time.Time, limit int) ([]CompensationTask, error)
	// MarkDone удаляет выполненную задачу.
	MarkDone(id string) error
	// Reschedule откладывает задачу до notBefore, увеличивая счётчик попыток.
	Reschedule(id string, notBefore time.Time) error
	// MarkDead помечает задачу исчерпавшей попытки; её заберёт оператор.
	MarkDead(id string) error
	// Stats возвращает состояние backlog очереди.
	Stats() (CompensationStats, error)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepCatalog SagaStep = "catalog"
	SagaStepReserve SagaStep = "reserve"
	SagaStepCharge  SagaStep = "charge"
	SagaStepRelease SagaStep = "release"
	SagaStepRefund  SagaStep = "refund"
	SagaStepPersist SagaStep = "persist"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
