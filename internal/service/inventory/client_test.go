package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestClientListProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/products", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"products": []map[string]interface{}{
				{"id": "p1", "name": "Widget", "price_minor": 500, "stock": 10},
				{"id": "p2", "name": "Gadget", "price_minor": 1000, "stock": 0},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	products, err := client.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, int64(500), products["p1"].PriceMinor)
	require.Equal(t, "Gadget", products["p2"].Name)
	require.Equal(t, int32(0), products["p2"].Stock)
}

func TestClientListProductsUpstreamFailures(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, nil)
		_, err := client.ListProducts(context.Background())
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, nil)
		_, err := client.ListProducts(context.Background())
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", 200*time.Millisecond, nil)
		_, err := client.ListProducts(context.Background())
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})
}

func TestClientReserve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reserve", r.URL.Path)
		var req reserveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "order-1", req.OrderID)
		require.Equal(t, int32(2), req.Qty)
		_ = json.NewEncoder(w).Encode(reserveResponse{Status: "reserved", PriceMinor: 500})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	res, err := client.Reserve(context.Background(), "order-1", "p1", 2)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.PriceMinor)
	require.Equal(t, int32(2), res.Qty)
}

func TestClientReserveOutOfStock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(reserveResponse{Status: "out_of_stock"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	_, err := client.Reserve(context.Background(), "order-1", "p1", 100)
	require.ErrorIs(t, err, domain.ErrOutOfStock)
}

func TestClientReleaseSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/release", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "released"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, client.Release(context.Background(), "order-1", "p1", 2))
	require.Equal(t, domain.ReleaseToken("order-1", "p1"), gotKey)
}

func TestClientReleaseUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	err := client.Release(context.Background(), "order-1", "p1", 2)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestMockServiceStockFlow(t *testing.T) {
	mock := NewMockService([]domain.Product{
		{ID: "p1", Name: "Widget", PriceMinor: 500, Stock: 3},
	})
	ctx := context.Background()

	res, err := mock.Reserve(ctx, "order-1", "p1", 2)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.PriceMinor)
	require.Equal(t, int32(1), mock.Stock("p1"))

	_, err = mock.Reserve(ctx, "order-2", "p1", 2)
	require.True(t, errors.Is(err, domain.ErrOutOfStock))

	require.NoError(t, mock.Release(ctx, "order-1", "p1", 2))
	require.Equal(t, int32(3), mock.Stock("p1"))

	// Повторный release того же резерва не раздувает сток.
	require.NoError(t, mock.Release(ctx, "order-1", "p1", 2))
	require.Equal(t, int32(3), mock.Stock("p1"))
}
