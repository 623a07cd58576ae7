package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// eventPublisher описывает минимальный интерфейс producer'а,
// нужный для публикации из outbox.
type eventPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// OutboxPublisher адаптирует Kafka producer к domain.OutboxPublisher:
// сообщение из outbox уходит в топик событий заказа с ключом агрегата,
// чтобы события одного заказа попадали в одну партицию.
type OutboxPublisher struct {
	producer eventPublisher
	topic    string
}

// NewOutboxPublisher создаёт publisher для outbox-воркера.
func NewOutboxPublisher(producer eventPublisher, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// Publish отправляет payload сообщения как есть: он был сериализован
// при постановке в outbox.
func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	if p.producer == nil {
		return fmt.Errorf("outbox publisher: %w", domain.ErrOutboxPublish)
	}
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return p.producer.PublishEvent(p.topic, key, rawPayload(event.Payload))
}

// rawPayload не даёт повторно экранировать уже сериализованный JSON.
type rawPayload []byte

func (r rawPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
