package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type stubProducer struct {
	topic string
	key   string
	event interface{}
	err   error
}

func (s *stubProducer) PublishEvent(topic string, key string, event interface{}) error {
	s.topic = topic
	s.key = key
	s.event = event
	return s.err
}

func TestOutboxPublisher_PublishUsesAggregateKey(t *testing.T) {
	producer := &stubProducer{}
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(domain.OutboxMessage{
		ID:          "msg-1",
		AggregateID: "order-1",
		EventType:   "checkout.order.paid",
		Payload:     []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if producer.topic != TopicOrderEvents {
		t.Fatalf("unexpected topic: %s", producer.topic)
	}
	if producer.key != "order-1" {
		t.Fatalf("unexpected key: %s", producer.key)
	}

	// Payload должен уходить как есть, без повторного экранирования.
	data, err := json.Marshal(producer.event)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if string(data) != `{"order_id":"order-1"}` {
		t.Fatalf("payload re-encoded: %s", data)
	}
}

func TestOutboxPublisher_PublishError(t *testing.T) {
	producer := &stubProducer{err: errors.New("broker down")}
	publisher := NewOutboxPublisher(producer, "custom.topic")

	err := publisher.Publish(domain.OutboxMessage{ID: "msg-1", Payload: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error from producer")
	}
	if producer.topic != "custom.topic" {
		t.Fatalf("unexpected topic: %s", producer.topic)
	}
	if producer.key != "msg-1" {
		t.Fatalf("fallback key must be message id, got %s", producer.key)
	}
}
