// Package redis содержит реализацию хранилища идемпотентности поверх Redis.
// Используется, когда сервис запускается в несколько реплик и in-memory
// хранилища недостаточно.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const keyPrefix = "checkout:idem:"

// idempotencyRepositoryRedis хранит записи идемпотентности как JSON-значения
// с нативным Redis TTL. DeleteExpired при этом становится no-op: Redis
// удаляет истёкшие ключи сам.
type idempotencyRepositoryRedis struct {
	client redis.Cmdable
}

// NewIdempotencyRepository создаёт репозиторий идемпотентности поверх Redis.
func NewIdempotencyRepository(client redis.Cmdable) domain.IdempotencyRepository {
	return &idempotencyRepositoryRedis{client: client}
}

type idempotencyPayload struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *idempotencyRepositoryRedis) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(toPayload(record))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx := context.Background()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, data, time.Until(ttlAt)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("setnx idempotency record: %w", err)
	}
	if ok {
		return record, nil
	}

	existing, err := r.Get(key)
	if err != nil {
		// Ключ истёк между SetNX и Get; трактуем как конфликт, повторный
		// запрос пройдёт успешно.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepositoryRedis) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	data, err := r.client.Get(context.Background(), keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var payload idempotencyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return fromPayload(payload), nil
}

func (r *idempotencyRepositoryRedis) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepositoryRedis) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: истечение ключей обеспечивает сам Redis.
func (r *idempotencyRepositoryRedis) DeleteExpired(before time.Time, limit int) (int, error) {
	return 0, nil
}

func (r *idempotencyRepositoryRedis) markStatus(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	record, err := r.Get(key)
	if err != nil {
		return err
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(toPayload(record))
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// KeepTTL сохраняет изначальный срок жизни ключа.
	if err := r.client.Set(context.Background(), keyPrefix+record.Key, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("set idempotency record: %w", err)
	}
	return nil
}

func toPayload(record domain.IdempotencyRecord) idempotencyPayload {
	return idempotencyPayload{
		Key:          record.Key,
		RequestHash:  record.RequestHash,
		ResponseBody: record.ResponseBody,
		HTTPStatus:   record.HTTPStatus,
		Status:       string(record.Status),
		TTLAt:        record.TTLAt,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func fromPayload(payload idempotencyPayload) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          payload.Key,
		RequestHash:  payload.RequestHash,
		ResponseBody: payload.ResponseBody,
		HTTPStatus:   payload.HTTPStatus,
		Status:       domain.IdempotencyStatus(payload.Status),
		TTLAt:        payload.TTLAt,
		CreatedAt:    payload.CreatedAt,
		UpdatedAt:    payload.UpdatedAt,
	}
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryRedis)(nil)
