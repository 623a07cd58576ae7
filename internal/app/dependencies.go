package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

// Dependencies содержит собранные зависимости приложения.
type Dependencies struct {
	Orders        domain.OrderRepository
	Outbox        domain.OutboxRepository
	Timeline      domain.TimelineRepository
	Idempotency   domain.IdempotencyRepository
	Compensations domain.CompensationQueue

	Catalog   domain.CatalogService
	Inventory domain.InventoryService
	Payments  domain.PaymentService

	KafkaProducer *kafka.Producer

	store       *postgres.Store
	redisClient *goredis.Client
	logger      *log.Entry
}

// demoProducts — каталог in-memory инвентаря для режима разработки.
var demoProducts = []domain.Product{
	{ID: "p-widget", Name: "Widget", PriceMinor: 500, Stock: 100},
	{ID: "p-gadget", Name: "Gadget", PriceMinor: 1000, Stock: 50},
	{ID: "p-gizmo", Name: "Gizmo", PriceMinor: 2500, Stock: 20},
}

// NewDependencies собирает зависимости по конфигурации: Postgres/Redis/Kafka и
// HTTP-клиенты collaborators, с in-memory fallback для локального запуска.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{logger: logger}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		deps.store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
		deps.Compensations = postgres.NewCompensationQueue(store)
		logger.Info("postgres storage initialized")
	} else {
		deps.Orders = memory.NewOrderRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		deps.Compensations = memory.NewCompensationQueue()
		logger.Warn("postgres is not configured, using in-memory storage")
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis is unreachable, keeping configured idempotency storage")
			_ = client.Close()
		} else {
			deps.redisClient = client
			deps.Idempotency = redisstore.NewIdempotencyRepository(client)
			logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency storage initialized")
		}
	}

	if cfg.InventoryURL != "" {
		client := inventory.NewClient(cfg.InventoryURL, cfg.ClientTimeout, logger.WithField("component", "inventory-client"))
		deps.Catalog = client
		deps.Inventory = client
	} else {
		mock := inventory.NewMockService(demoProducts)
		deps.Catalog = mock
		deps.Inventory = mock
		logger.Warn("inventory service is not configured, using in-memory mock")
	}

	if cfg.PaymentURL != "" {
		deps.Payments = payment.NewClient(cfg.PaymentURL, cfg.ClientTimeout, logger.WithField("component", "payment-client"))
	} else {
		deps.Payments = payment.NewMockService()
		logger.Warn("payment service is not configured, using in-memory mock")
	}

	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer, err := kafka.NewProducer(brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			deps.KafkaProducer = producer
			logger.WithField("brokers", brokers).Info("kafka producer initialized")
		}
	}

	return deps, nil
}

// RegisterHealthCheckers добавляет проверки настроенных хранилищ.
func (d *Dependencies) RegisterHealthCheckers(ctx context.Context, handler *health.Handler) {
	if d.store != nil {
		store := d.store
		handler.RegisterChecker("postgres", health.NewSimpleChecker("postgres", func() error {
			return store.Ping(ctx)
		}))
	}
	if d.redisClient != nil {
		client := d.redisClient
		handler.RegisterChecker("redis", health.NewSimpleChecker("redis", func() error {
			return client.Ping(ctx).Err()
		}))
	}
}

// Close освобождает внешние ресурсы в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.KafkaProducer != nil {
		if err := d.KafkaProducer.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
