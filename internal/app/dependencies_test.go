package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
)

func TestNewDependencies_MemoryFallback(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.Orders)
	require.NotNil(t, deps.Outbox)
	require.NotNil(t, deps.Timeline)
	require.NotNil(t, deps.Idempotency)
	require.NotNil(t, deps.Compensations)

	// Без настроенных URL collaborators подменяются in-memory заглушками
	_, ok := deps.Inventory.(*inventory.MockService)
	require.True(t, ok, "expected inventory mock")
	_, ok = deps.Payments.(*payment.MockService)
	require.True(t, ok, "expected payment mock")

	require.Nil(t, deps.KafkaProducer)
}

func TestNewDependencies_HTTPClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InventoryURL = "http://localhost:18081"
	cfg.PaymentURL = "http://localhost:18082"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer deps.Close()

	_, ok := deps.Inventory.(*inventory.Client)
	require.True(t, ok, "expected inventory HTTP client")
	_, ok = deps.Payments.(*payment.Client)
	require.True(t, ok, "expected payment HTTP client")
	require.Same(t, deps.Inventory, deps.Catalog)
}

func TestNewDependencies_DemoCatalog(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	defer deps.Close()

	products, err := deps.Catalog.ListProducts(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, products)
	for _, p := range products {
		require.NotEmpty(t, p.ID)
		require.Greater(t, p.PriceMinor, int64(0))
		require.Greater(t, p.Stock, int32(0))
	}
}

func TestRegisterHealthCheckers_NoStores(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	defer deps.Close()

	handler := health.NewHandler("test")
	deps.RegisterHealthCheckers(context.Background(), handler)
	// Без Postgres и Redis чекеры не регистрируются, паник быть не должно.
}
