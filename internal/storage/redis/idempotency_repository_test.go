package redis_test

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

func newRepo(t *testing.T) (domain.IdempotencyRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewIdempotencyRepository(client), mr
}

func TestRedisIdempotency_CreateAndGet(t *testing.T) {
	repo, _ := newRepo(t)
	ttl := time.Now().UTC().Add(time.Hour)

	created, err := repo.CreateProcessing("idem-key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", created.Status)
	}

	got, err := repo.Get("idem-key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestHash != "hash-1" {
		t.Fatalf("expected hash-1, got %s", got.RequestHash)
	}
}

func TestRedisIdempotency_ConflictAndHashMismatch(t *testing.T) {
	repo, _ := newRepo(t)
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("idem-key-2", "hash-a", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if _, err := repo.CreateProcessing("idem-key-2", "hash-a", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if _, err := repo.CreateProcessing("idem-key-2", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestRedisIdempotency_MarkDone(t *testing.T) {
	repo, _ := newRepo(t)
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("idem-key-3", "hash-3", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if err := repo.MarkDone("idem-key-3", []byte(`{"order_id":"order-1"}`), 200); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	got, err := repo.Get("idem-key-3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 200 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if string(got.ResponseBody) != `{"order_id":"order-1"}` {
		t.Fatalf("unexpected response body: %s", got.ResponseBody)
	}
}

func TestRedisIdempotency_KeyExpires(t *testing.T) {
	repo, mr := newRepo(t)
	ttl := time.Now().UTC().Add(time.Minute)

	if _, err := repo.CreateProcessing("idem-key-4", "hash-4", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := repo.Get("idem-key-4"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}
