package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказов и возвратов.
type CheckoutMetrics struct {
	// Счётчики исходов checkout
	ordersCreated prometheus.Counter
	ordersPaid    prometheus.Counter
	ordersFailed  prometheus.Counter

	// Деньги: gauge выручки двигается в обе стороны (возвраты её уменьшают),
	// counter возвратов только растёт.
	revenueTotal prometheus.Gauge
	refundTotal  prometheus.Counter
	refundsCount prometheus.Counter

	// Гистограммы времени выполнения
	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Компенсации
	compensationsQueued prometheus.Counter
	compensationsDead   prometheus.Counter

	// Gauge для активных саг
	activeSagas prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Total number of checkout attempts started",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_paid_total",
			Help: "Total number of orders paid successfully",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_failed_total",
			Help: "Total number of orders that finished in FAILED state",
		}),
		revenueTotal: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_revenue_total",
			Help: "Accumulated revenue in minor units, decreased by refunds",
		}),
		refundTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_refund_total",
			Help: "Accumulated refunded amount in minor units",
		}),
		refundsCount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_refunds_total",
			Help: "Total number of refund operations applied",
		}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_saga_duration_seconds",
			Help:    "Duration of checkout saga runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		compensationsQueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_compensations_queued_total",
			Help: "Total number of compensation tasks queued after sync failure",
		}),
		compensationsDead: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_compensations_dead_total",
			Help: "Total number of compensation tasks that exhausted retries",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_sagas",
			Help: "Number of currently running checkout sagas",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик начатых checkout.
func (m *CheckoutMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
	m.activeSagas.Inc()
}

// RecordOrderPaid фиксирует успешную оплату и прибавляет сумму к выручке.
func (m *CheckoutMetrics) RecordOrderPaid(amountMinor int64) {
	m.ordersPaid.Inc()
	m.revenueTotal.Add(float64(amountMinor))
}

// RecordOrderFailed увеличивает счётчик неудачных заказов.
func (m *CheckoutMetrics) RecordOrderFailed() {
	m.ordersFailed.Inc()
}

// RecordRefund фиксирует возврат: выручка уменьшается, сумма возвратов растёт.
func (m *CheckoutMetrics) RecordRefund(amountMinor int64) {
	m.refundsCount.Inc()
	m.refundTotal.Add(float64(amountMinor))
	m.revenueTotal.Sub(float64(amountMinor))
}

// RecordSagaFinished уменьшает количество активных саг.
func (m *CheckoutMetrics) RecordSagaFinished() {
	m.activeSagas.Dec()
}

// RecordSagaDuration записывает время выполнения саги.
func (m *CheckoutMetrics) RecordSagaDuration(duration time.Duration) {
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordCompensationQueued увеличивает счётчик отложенных компенсаций.
func (m *CheckoutMetrics) RecordCompensationQueued() {
	m.compensationsQueued.Inc()
}

// RecordCompensationDead увеличивает счётчик компенсаций, исчерпавших попытки.
func (m *CheckoutMetrics) RecordCompensationDead() {
	m.compensationsDead.Inc()
}
