package saga

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// Refund разматывает оплаченный заказ: уменьшает позиции, сохраняет новое
// состояние и инициирует возврат средств и снятие резервов.
//
// Пустой список lines означает полный возврат остатка. requesterID
// сверяется с владельцем заказа; пустая строка пропускает проверку
// (владельческий/служебный вызов).
//
// Заказ — источник истины: состояние сохраняется до внешних вызовов,
// а несработавшие возврат средств и release уходят в очередь компенсаций
// и не меняют исход операции.
func (o *Orchestrator) Refund(ctx context.Context, requesterID, orderID string, lines []domain.RefundLine, reason string) (domain.Order, int64, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, 0, domain.ErrOrderIDRequired
	}

	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, 0, err
	}

	if requesterID != "" && requesterID != order.UserID {
		o.logger.WithFields(log.Fields{
			"order_id":     order.ID,
			"requester_id": requesterID,
		}).Warn("refund requested by non-owner")
		return domain.Order{}, 0, domain.ErrRefundForbidden
	}

	var (
		refunded      int64
		releasedItems []domain.OrderItem
	)
	if err := o.updateOrder(&order, func(candidate *domain.Order) error {
		released, amount, applyErr := applyRefundLines(candidate, lines)
		if applyErr != nil {
			return applyErr
		}
		refunded = amount
		releasedItems = released
		return nil
	}); err != nil {
		return domain.Order{}, 0, err
	}

	if o.metrics != nil {
		o.metrics.RecordRefund(refunded)
	}

	// Нулевую сумму в платёжный сервис не отправляем: он отклоняет
	// amount <= 0, а компенсация на ноль невыполнима. Такое бывает, когда
	// полный возврат "по умолчанию" пришёл после явных возвратов,
	// опустошивших заказ.
	if refunded > 0 {
		// Версия после сохранения уникальна для каждого возврата и даёт
		// стабильный идемпотентный токен.
		refundSeq := order.Version
		refundCtx := domain.WithIdempotencyToken(ctx, domain.RefundToken(order.ID, refundSeq))

		if _, err := o.payments.Refund(refundCtx, order.UserID, order.ID, refunded); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id":     order.ID,
				"amount_minor": refunded,
			}).Warn("payment refund failed, queueing compensation")
			o.queueCompensation(domain.CompensationTask{
				Token:       domain.RefundToken(order.ID, refundSeq),
				OrderID:     order.ID,
				UserID:      order.UserID,
				Action:      domain.CompensationRefund,
				AmountMinor: refunded,
			})
		}
	}

	for _, item := range releasedItems {
		o.releaseItem(ctx, &order, item)
	}

	eventType := "OrderPartiallyRefunded"
	kafkaEvent := kafka.EventTypeOrderPartiallyRefunded
	if order.Status == domain.OrderStatusRefunded {
		eventType = "OrderRefunded"
		kafkaEvent = kafka.EventTypeOrderRefunded
	}
	payload := map[string]interface{}{
		"amount_minor": refunded,
		"status":       string(order.Status),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	o.emitEvent(&order, eventType, payload)
	o.publishSagaEvent(kafkaEvent, order.ID, map[string]interface{}{
		"amount_minor": refunded,
		"user_id":      order.UserID,
	})

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"amount_minor": refunded,
		"status":       order.Status,
	}).Info("refund applied")

	return order, refunded, nil
}

// applyRefundLines применяет возврат к кандидату и возвращает список позиций,
// для которых нужно снять резерв на складе.
func applyRefundLines(candidate *domain.Order, lines []domain.RefundLine) ([]domain.OrderItem, int64, error) {
	before := make(map[string]domain.OrderItem, len(candidate.Items))
	for _, item := range candidate.Items {
		before[item.ProductID] = item
	}

	amount, err := candidate.ApplyRefund(lines)
	if err != nil {
		return nil, 0, err
	}

	after := make(map[string]int32, len(candidate.Items))
	for _, item := range candidate.Items {
		after[item.ProductID] = item.Qty
	}

	released := make([]domain.OrderItem, 0, len(before))
	for productID, item := range before {
		delta := item.Qty - after[productID]
		if delta <= 0 {
			continue
		}
		releasedItem := item
		releasedItem.Qty = delta
		released = append(released, releasedItem)
	}
	if len(released) == 0 && amount > 0 {
		return nil, 0, fmt.Errorf("refund produced no released items for order %s", candidate.ID)
	}

	return released, amount, nil
}
