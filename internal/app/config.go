package app

import (
	"os"
	"strconv"
	"time"
)

// Config описывает настройки запуска сервиса. Конфигурация собирается явно
// в main и передаётся вниз: бизнес-логика не читает окружение сама.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// Адреса внешних collaborators. Пустое значение включает in-memory
	// заглушку соответствующего сервиса (режим разработки/демо).
	InventoryURL  string
	PaymentURL    string
	ClientTimeout time.Duration

	// Пустой DSN включает in-memory хранилище заказов.
	PostgresDSN string
	// Пустой адрес Redis оставляет idempotency-ключи в памяти (или в
	// Postgres, если он настроен).
	RedisAddr string
	// Пустой список брокеров отключает публикацию событий в Kafka.
	KafkaBrokers string

	OutboxPollInterval         time.Duration
	CompensationPollInterval   time.Duration
	CompensationMaxAttempts    int
	IdempotencyCleanupInterval time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		MetricsAddr:                ":9090",
		ClientTimeout:              5 * time.Second,
		OutboxPollInterval:         time.Second,
		CompensationPollInterval:   2 * time.Second,
		CompensationMaxAttempts:    5,
		IdempotencyCleanupInterval: 10 * time.Minute,
	}
}

// LoadConfig собирает конфигурацию из переменных окружения поверх дефолтов.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)
	cfg.InventoryURL = envString("INVENTORY_URL", cfg.InventoryURL)
	cfg.PaymentURL = envString("PAYMENT_URL", cfg.PaymentURL)
	cfg.ClientTimeout = envDuration("CLIENT_TIMEOUT", cfg.ClientTimeout)
	cfg.PostgresDSN = envString("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = envString("REDIS_ADDR", cfg.RedisAddr)
	cfg.KafkaBrokers = envString("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.CompensationPollInterval = envDuration("COMPENSATION_POLL_INTERVAL", cfg.CompensationPollInterval)
	cfg.CompensationMaxAttempts = envInt("COMPENSATION_MAX_ATTEMPTS", cfg.CompensationMaxAttempts)
	cfg.IdempotencyCleanupInterval = envDuration("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)

	return cfg
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
