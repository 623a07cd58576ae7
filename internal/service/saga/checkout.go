package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// CheckoutItem — строка запроса на оформление заказа.
type CheckoutItem struct {
	ProductID string
	Qty       int32
}

// Checkout проводит заказ через сагу: каталог → резерв по позициям →
// списание → фиксация PAID.
//
// Бизнес-отказы (нет стока, платёж отклонён) завершают заказ статусом FAILED
// и возвращаются без ошибки: вызывающая сторона читает исход из заказа.
// Недоступность внешнего сервиса тоже переводит заказ в FAILED, но ошибка
// возвращается, чтобы транспортный слой ответил 502.
func (o *Orchestrator) Checkout(ctx context.Context, userID string, items []CheckoutItem) (domain.Order, error) {
	start := time.Now()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	lines, err := mergeCheckoutItems(items)
	if err != nil {
		return domain.Order{}, err
	}

	// Снимок каталога: цены фиксируются до резервов, чтобы сумма заказа
	// не зависела от параллельных изменений каталога.
	products, err := o.catalog.ListProducts(ctx)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("catalog unavailable, checkout rejected")
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	orderItems := make([]domain.OrderItem, 0, len(lines))
	var total int64
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrProductNotFound)
		}
		item := domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			PriceMinor:     product.PriceMinor,
			LineTotalMinor: product.PriceMinor * int64(line.Qty),
			CreatedAt:      now,
		}
		total += item.LineTotalMinor
		orderItems = append(orderItems, item)
	}
	// Сумма известна сразу после снимка каталога: PENDING и FAILED заказы
	// тоже несут её, а не только оплаченные.
	order.TotalMinor = total

	if err := o.orders.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
		defer func() {
			o.metrics.RecordSagaFinished()
			o.metrics.RecordSagaDuration(time.Since(start))
		}()
	}

	o.emitEvent(&order, "OrderCreated", map[string]interface{}{
		"user_id":     userID,
		"total_minor": total,
		"items_count": len(orderItems),
	})
	o.publishSagaEvent(kafka.EventTypeCheckoutStarted, order.ID, map[string]interface{}{
		"user_id": userID,
	})

	steps := o.buildCheckoutSteps(&order, orderItems, total)

	if err := o.executeSteps(ctx, order.ID, steps); err != nil {
		return o.failCheckout(&order, err)
	}

	if o.metrics != nil {
		o.metrics.RecordOrderPaid(total)
	}
	o.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     userID,
		"total_minor": total,
	}).Info("checkout completed")

	o.emitEvent(&order, "OrderPaid", map[string]interface{}{
		"total_minor": total,
	})
	o.publishSagaEvent(kafka.EventTypeCheckoutCompleted, order.ID, map[string]interface{}{
		"user_id":     userID,
		"total_minor": total,
	})

	return order, nil
}

// buildCheckoutSteps собирает явный список шагов: резерв на каждую позицию,
// затем списание, затем фиксация заказа.
func (o *Orchestrator) buildCheckoutSteps(order *domain.Order, items []domain.OrderItem, total int64) []step {
	steps := make([]step, 0, len(items)+2)

	for _, item := range items {
		item := item
		steps = append(steps, step{
			name: domain.SagaStepReserve,
			run: func(ctx context.Context) error {
				_, err := o.inventory.Reserve(ctx, order.ID, item.ProductID, item.Qty)
				return err
			},
			compensate: func(ctx context.Context) {
				o.releaseItem(ctx, order, item)
			},
		})
	}

	steps = append(steps, step{
		name: domain.SagaStepCharge,
		run: func(ctx context.Context) error {
			status, err := o.payments.Charge(ctx, order.UserID, order.ID, total)
			if err != nil {
				return err
			}
			if status != domain.PaymentStatusCharged {
				return domain.ErrPaymentDeclined
			}
			return nil
		},
		compensate: func(ctx context.Context) {
			o.refundCharge(ctx, order, total)
		},
	})

	steps = append(steps, step{
		name: domain.SagaStepPersist,
		run: func(ctx context.Context) error {
			return o.updateOrder(order, func(candidate *domain.Order) error {
				if err := candidate.TransitionTo(domain.OrderStatusPaid); err != nil {
					return err
				}
				candidate.Items = items
				candidate.RecalculateTotal()
				return nil
			})
		},
		// Фиксация — последний шаг, компенсировать нечего.
	})

	return steps
}

// failCheckout переводит заказ в FAILED и решает, считать ли сбой бизнес-отказом.
func (o *Orchestrator) failCheckout(order *domain.Order, cause error) (domain.Order, error) {
	reason := failureReason(cause)

	if o.metrics != nil {
		o.metrics.RecordOrderFailed()
	}

	if err := o.updateOrder(order, func(candidate *domain.Order) error {
		return candidate.TransitionTo(domain.OrderStatusFailed)
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to mark order as failed")
	}

	o.emitEvent(order, "OrderFailed", map[string]interface{}{
		"reason": reason,
	})
	o.publishSagaEvent(kafka.EventTypeCheckoutFailed, order.ID, map[string]interface{}{
		"reason": reason,
	})

	// Бизнес-отказ — валидный исход саги, а не ошибка оркестратора.
	if errors.Is(cause, domain.ErrOutOfStock) || errors.Is(cause, domain.ErrPaymentDeclined) {
		return *order, nil
	}
	return *order, cause
}

// releaseItem снимает резерв позиции; при сбое ставит задачу в очередь компенсаций.
func (o *Orchestrator) releaseItem(ctx context.Context, order *domain.Order, item domain.OrderItem) {
	if err := o.inventory.Release(ctx, order.ID, item.ProductID, item.Qty); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"product_id": item.ProductID,
		}).Warn("release failed, queueing compensation")
		o.queueCompensation(domain.CompensationTask{
			Token:     domain.ReleaseToken(order.ID, item.ProductID),
			OrderID:   order.ID,
			UserID:    order.UserID,
			ProductID: item.ProductID,
			Action:    domain.CompensationRelease,
			Qty:       item.Qty,
		})
	}
}

// refundCharge возвращает списанные средства; при сбое ставит задачу
// в очередь компенсаций.
func (o *Orchestrator) refundCharge(ctx context.Context, order *domain.Order, amountMinor int64) {
	ctx = domain.WithIdempotencyToken(ctx, domain.ChargeToken(order.ID))
	if _, err := o.payments.Refund(ctx, order.UserID, order.ID, amountMinor); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"amount_minor": amountMinor,
		}).Warn("charge rollback failed, queueing compensation")
		o.queueCompensation(domain.CompensationTask{
			Token:       domain.ChargeToken(order.ID),
			OrderID:     order.ID,
			UserID:      order.UserID,
			Action:      domain.CompensationRefund,
			AmountMinor: amountMinor,
		})
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return err.Error()
	}
}

// mergeCheckoutItems валидирует строки запроса и склеивает дубли по товару.
func mergeCheckoutItems(items []CheckoutItem) ([]CheckoutItem, error) {
	if len(items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	index := make(map[string]int, len(items))
	merged := make([]CheckoutItem, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if item.Qty <= 0 {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrItemQtyInvalid)
		}
		if i, ok := index[productID]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, CheckoutItem{ProductID: productID, Qty: item.Qty})
	}

	return merged, nil
}
