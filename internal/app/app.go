package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/compensation"
	"github.com/vladislavdragonenkov/checkout/internal/service/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/saga"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// Run собирает зависимости, запускает HTTP API, сервер метрик и фоновые
// воркеры, и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	orchestrator := saga.NewOrchestrator(saga.Deps{
		Orders:        deps.Orders,
		Outbox:        deps.Outbox,
		Timeline:      deps.Timeline,
		Catalog:       deps.Catalog,
		Inventory:     deps.Inventory,
		Payments:      deps.Payments,
		Compensations: deps.Compensations,
		KafkaProducer: deps.KafkaProducer,
		Logger:        logger.WithField("component", "saga"),
	})

	handler := httpapi.NewHandler(httpapi.Deps{
		Service:     orchestrator,
		Orders:      deps.Orders,
		Timeline:    deps.Timeline,
		Catalog:     deps.Catalog,
		Idempotency: deps.Idempotency,
		Logger:      logger.WithField("component", "http-api"),
	})

	healthHandler := health.NewHandler(version.Short())
	deps.RegisterHealthCheckers(ctx, healthHandler)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	var dlqPublisher, eventPublisher domain.OutboxPublisher
	if deps.KafkaProducer != nil {
		eventPublisher = kafka.NewOutboxPublisher(deps.KafkaProducer, kafka.TopicOrderEvents)
		dlqPublisher = kafka.NewOutboxPublisher(deps.KafkaProducer, kafka.TopicDeadLetterQueue)
	}

	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if eventPublisher != nil {
		outboxWorker := outbox.NewWorker(deps.Outbox, eventPublisher, outbox.Options{
			Logger:       logger.WithField("component", "outbox-worker"),
			DLQPublisher: dlqPublisher,
			PollInterval: cfg.OutboxPollInterval,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			outboxWorker.Run(workerCtx)
		}()
	} else {
		logger.Warn("kafka is not configured, outbox worker is disabled")
	}

	compensationWorker := compensation.NewWorker(deps.Compensations, deps.Inventory, deps.Payments, compensation.Options{
		Logger:       logger.WithField("component", "compensation-worker"),
		DLQPublisher: dlqPublisher,
		PollInterval: cfg.CompensationPollInterval,
		MaxAttempts:  cfg.CompensationMaxAttempts,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		compensationWorker.Run(workerCtx)
	}()

	cleanupWorker := idempotency.NewCleanupWorker(deps.Idempotency, idempotency.CleanupOptions{
		Logger:   logger.WithField("component", "idempotency-cleanup"),
		Interval: cfg.IdempotencyCleanupInterval,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupWorker.Run(workerCtx)
	}()

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler.Routes()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP API")
		shutdownHTTP(apiSrv, logger)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopWorkers()
			wg.Wait()
			shutdownHTTP(metricsSrv, logger)
			return err
		}
	}

	stopWorkers()
	wg.Wait()
	shutdownHTTP(metricsSrv, logger)
	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
