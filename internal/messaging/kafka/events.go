package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Checkout saga события
	EventTypeCheckoutStarted   EventType = "checkout.started"
	EventTypeCheckoutCompleted EventType = "checkout.completed"
	EventTypeCheckoutFailed    EventType = "checkout.failed"

	// Order события
	EventTypeOrderCreated           EventType = "order.created"
	EventTypeOrderPaid              EventType = "order.paid"
	EventTypeOrderFailed            EventType = "order.failed"
	EventTypeOrderRefunded          EventType = "order.refunded"
	EventTypeOrderPartiallyRefunded EventType = "order.partially_refunded"

	// Step события
	EventTypeStepReserved EventType = "step.reserved"
	EventTypeStepCharged  EventType = "step.charged"

	// Компенсации, не выполнившиеся синхронно
	EventTypeCompensationQueued EventType = "compensation.queued"
	EventTypeCompensationDead   EventType = "compensation.dead"
)

// Topics для Kafka
const (
	TopicSagaEvents      = "checkout.saga.events"
	TopicOrderEvents     = "checkout.order.events"
	TopicDeadLetterQueue = "checkout.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SagaEvent представляет событие саги оформления заказа
type SagaEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewSagaEvent создает новое событие саги
func NewSagaEvent(eventType EventType, orderID string, metadata map[string]interface{}) *SagaEvent {
	return &SagaEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
