package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing("checkout-1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.True(t, created.TTLAt.Equal(ttl))

	require.NoError(t, repo.MarkDone("checkout-1", []byte(`{"order_id":"o-1"}`), 201))

	got, err := repo.Get("checkout-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"order_id":"o-1"}`, string(got.ResponseBody))
}

func TestIdempotencyRepository_DuplicateKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing("checkout-2", "hash-a", ttl)
	require.NoError(t, err)

	// Тот же ключ и хеш — replay
	existing, err := repo.CreateProcessing("checkout-2", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, "hash-a", existing.RequestHash)

	// Тот же ключ, другое тело — переиспользование ключа
	_, err = repo.CreateProcessing("checkout-2", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing("  ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing("key", "", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	require.ErrorIs(t, repo.MarkFailed("missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	_, err := repo.CreateProcessing("old", "h1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = repo.CreateProcessing("older", "h2", now.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = repo.CreateProcessing("live", "h3", now.Add(time.Hour))
	require.NoError(t, err)

	// limit=1 удаляет запись с самым старым TTL
	removed, err := repo.DeleteExpired(now, 1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("older")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("old")
	require.NoError(t, err)

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("live")
	require.NoError(t, err)
}
