package saga

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Orchestrator выполняет сагу оформления заказа (каталог → резерв → списание
// → фиксация) и возвраты с разматыванием в обратном порядке.
type Orchestrator struct {
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	catalog       domain.CatalogService
	inventory     domain.InventoryService
	payments      domain.PaymentService
	compensations domain.CompensationQueue
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры
}

// Deps собирает зависимости оркестратора.
type Deps struct {
	Orders        domain.OrderRepository
	Outbox        domain.OutboxRepository
	Timeline      domain.TimelineRepository
	Catalog       domain.CatalogService
	Inventory     domain.InventoryService
	Payments      domain.PaymentService
	Compensations domain.CompensationQueue
	KafkaProducer *kafka.Producer
	Logger        *log.Entry
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "saga")
	}
	return &Orchestrator{
		orders:        deps.Orders,
		outbox:        deps.Outbox,
		timeline:      deps.Timeline,
		catalog:       deps.Catalog,
		inventory:     deps.Inventory,
		payments:      deps.Payments,
		compensations: deps.Compensations,
		logger:        logger,
		metrics:       metrics.NewCheckoutMetrics(),
		kafkaProducer: deps.KafkaProducer,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(deps Deps) *Orchestrator {
	o := NewOrchestrator(deps)
	o.metrics = nil
	return o
}

// updateOrder перечитывает заказ, применяет mutate и сохраняет результат.
// Реализует retry с exponential backoff для version conflicts.
func (o *Orchestrator) updateOrder(order *domain.Order, mutate func(*domain.Order) error) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		candidate := *order
		candidate.Items = append([]domain.OrderItem(nil), order.Items...)

		if err := mutate(&candidate); err != nil {
			return err
		}
		candidate.UpdatedAt = time.Now().UTC()
		prevVersion := candidate.Version

		if err := o.orders.Save(candidate); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				o.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := o.orders.Get(order.ID)
				if loadErr != nil {
					o.logger.WithError(loadErr).WithField("order_id", order.ID).Error("failed to reload order after conflict")
					return loadErr
				}
				*order = fresh

				delay := baseDelay * time.Duration(1<<uint(attempt))
				time.Sleep(delay)
				continue
			}

			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist order")
			return err
		}

		candidate.Version = prevVersion + 1
		*order = candidate
		return nil
	}

	return domain.ErrOrderVersionConflict
}

// emitEvent кладёт событие в outbox и timeline. Сбои записи логируются,
// но не прерывают обработку заказа.
func (o *Orchestrator) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}

	if o.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: time.Now().UTC(),
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}

// publishSagaEvent публикует событие саги в Kafka (если producer настроен)
func (o *Orchestrator) publishSagaEvent(eventType kafka.EventType, orderID string, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return // Kafka не настроен, пропускаем
	}

	event := kafka.NewSagaEvent(eventType, orderID, metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicSagaEvents, orderID, event); err != nil {
		// Логируем ошибку, но не прерываем saga - Kafka опциональный
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   orderID,
		}).Warn("failed to publish saga event to kafka")
	}
}

// queueCompensation ставит невыполненную компенсацию в очередь на повтор.
func (o *Orchestrator) queueCompensation(task domain.CompensationTask) {
	if o.compensations == nil {
		o.logger.WithFields(log.Fields{
			"order_id": task.OrderID,
			"action":   task.Action,
			"token":    task.Token,
		}).Error("compensation failed and no queue configured, manual intervention required")
		return
	}
	if _, err := o.compensations.Enqueue(task); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": task.OrderID,
			"action":   task.Action,
			"token":    task.Token,
		}).Error("failed to enqueue compensation task")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordCompensationQueued()
	}
	o.publishSagaEvent(kafka.EventTypeCompensationQueued, task.OrderID, map[string]interface{}{
		"action": string(task.Action),
		"token":  task.Token,
	})
}
