package compensation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 500 * time.Millisecond
)

var (
	compensationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_compensation_attempts_total",
		Help: "Total number of compensation task executions grouped by result.",
	}, []string{"action", "result"})
	compensationPendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_compensation_pending_tasks",
		Help: "Current number of pending compensation tasks.",
	})
	compensationDeadTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_compensation_dead_tasks",
		Help: "Current number of dead compensation tasks awaiting an operator.",
	})
)

// Options задаёт параметры воркера компенсаций.
type Options struct {
	Logger       *log.Entry
	Metrics      *metrics.CheckoutMetrics
	DLQPublisher domain.OutboxPublisher
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
}

// Worker добирает компенсации, не выполненные синхронно: снимает резервы и
// довозвращает средства. Повторы идут с exponential backoff; задача,
// исчерпавшая попытки, помечается dead и уходит в операторский DLQ.
type Worker struct {
	queue     domain.CompensationQueue
	inventory domain.InventoryService
	payments  domain.PaymentService

	logger       *log.Entry
	metrics      *metrics.CheckoutMetrics
	dlqPublisher domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
}

// NewWorker создаёт воркер компенсаций.
func NewWorker(queue domain.CompensationQueue, inventory domain.InventoryService, payments domain.PaymentService, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "compensation-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}

	return &Worker{
		queue:        queue,
		inventory:    inventory,
		payments:     payments,
		logger:       logger,
		metrics:      opts.Metrics,
		dlqPublisher: opts.DLQPublisher,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
		baseDelay:    opts.BaseDelay,
	}
}

// Run запускает периодический опрос очереди до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.queue == nil {
		w.logger.Warn("compensation worker is disabled: queue is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл: забирает созревшие задачи и исполняет их.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklogMetrics()

	tasks, err := w.queue.PullDue(time.Now().UTC(), w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull due compensation tasks")
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.handleTask(ctx, task)
	}

	w.refreshBacklogMetrics()
}

func (w *Worker) handleTask(ctx context.Context, task domain.CompensationTask) {
	err := w.execute(ctx, task)
	if err == nil {
		compensationAttempts.WithLabelValues(string(task.Action), "done").Inc()
		if markErr := w.queue.MarkDone(task.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("task_id", task.ID).Warn("failed to mark compensation done")
		}
		w.logger.WithFields(log.Fields{
			"task_id":  task.ID,
			"order_id": task.OrderID,
			"action":   task.Action,
			"attempts": task.Attempts,
		}).Info("compensation applied")
		return
	}

	attempt := task.Attempts + 1
	if attempt >= w.maxAttempts {
		compensationAttempts.WithLabelValues(string(task.Action), "dead").Inc()
		w.logger.WithError(err).WithFields(log.Fields{
			"task_id":  task.ID,
			"order_id": task.OrderID,
			"action":   task.Action,
			"attempts": attempt,
		}).Error("compensation exhausted retries, moving to dead")

		if markErr := w.queue.MarkDead(task.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("task_id", task.ID).Warn("failed to mark compensation dead")
			return
		}
		if w.metrics != nil {
			w.metrics.RecordCompensationDead()
		}
		if dlqErr := w.publishToDLQ(task, err); dlqErr != nil {
			w.logger.WithError(dlqErr).WithField("task_id", task.ID).Warn("failed to publish dead compensation to DLQ")
		}
		return
	}

	compensationAttempts.WithLabelValues(string(task.Action), "retry").Inc()
	notBefore := time.Now().UTC().Add(w.retryBackoff(attempt))
	if resErr := w.queue.Reschedule(task.ID, notBefore); resErr != nil {
		w.logger.WithError(resErr).WithField("task_id", task.ID).Warn("failed to reschedule compensation")
	}
}

// execute выполняет действие задачи. Идемпотентный токен уходит внешнему
// сервису через контекст, поэтому повтор уже применённой компенсации безопасен.
func (w *Worker) execute(ctx context.Context, task domain.CompensationTask) error {
	ctx = domain.WithIdempotencyToken(ctx, task.Token)

	switch task.Action {
	case domain.CompensationRelease:
		if w.inventory == nil {
			return fmt.Errorf("release task %s: inventory service is not configured", task.ID)
		}
		return w.inventory.Release(ctx, task.OrderID, task.ProductID, task.Qty)
	case domain.CompensationRefund:
		if w.payments == nil {
			return fmt.Errorf("refund task %s: payment service is not configured", task.ID)
		}
		_, err := w.payments.Refund(ctx, task.UserID, task.OrderID, task.AmountMinor)
		return err
	default:
		return fmt.Errorf("task %s: unknown compensation action %q", task.ID, task.Action)
	}
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	delay := w.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.queue.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect compensation backlog stats")
		return
	}
	compensationPendingTasks.Set(float64(stats.PendingCount))
	compensationDeadTasks.Set(float64(stats.DeadCount))
}

func (w *Worker) publishToDLQ(task domain.CompensationTask, execErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"task_id":      task.ID,
		"token":        task.Token,
		"order_id":     task.OrderID,
		"user_id":      task.UserID,
		"product_id":   task.ProductID,
		"action":       string(task.Action),
		"qty":          task.Qty,
		"amount_minor": task.AmountMinor,
		"attempts":     task.Attempts + 1,
		"error":        execErr.Error(),
		"dead_at":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	return w.dlqPublisher.Publish(domain.OutboxMessage{
		ID:            task.ID,
		AggregateType: "compensation",
		AggregateID:   task.OrderID,
		EventType:     "CompensationDead",
		Payload:       payload,
	})
}
