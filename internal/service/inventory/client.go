package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Client — HTTP-клиент инвентарного сервиса: каталог, резервы, release.
//
// Любой транспортный сбой, таймаут или искажённый ответ отображается в
// ErrUpstreamUnavailable; в ErrProductNotFound клиент не транслирует ничего —
// отсутствие товара определяет оркестратор по снимку каталога.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиент с ограниченным таймаутом на запрос.
func NewClient(baseURL string, timeout time.Duration, logger *log.Entry) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "inventory-client")
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type productPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Stock      int32  `json:"stock"`
}

type reserveRequest struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type reserveResponse struct {
	Status     string `json:"status"`
	PriceMinor int64  `json:"price_minor"`
}

// ListProducts забирает снимок каталога целиком.
func (c *Client) ListProducts(ctx context.Context) (map[string]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("catalog request failed")
		return nil, fmt.Errorf("list products: %w", domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithField("status_code", resp.StatusCode).Warn("catalog returned non-200")
		return nil, fmt.Errorf("list products: status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	var body struct {
		Products []productPayload `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.WithError(err).Warn("catalog response malformed")
		return nil, fmt.Errorf("decode catalog: %w", domain.ErrUpstreamUnavailable)
	}

	products := make(map[string]domain.Product, len(body.Products))
	for _, p := range body.Products {
		products[p.ID] = domain.Product{
			ID:         p.ID,
			Name:       p.Name,
			PriceMinor: p.PriceMinor,
			Stock:      p.Stock,
		}
	}
	return products, nil
}

// Reserve резервирует qty единиц товара под заказ.
func (c *Client) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.Reservation, error) {
	var out reserveResponse
	status, err := c.postJSON(ctx, "/reserve", "", reserveRequest{
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
	}, &out)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"product_id": productID,
		}).Warn("reserve request failed")
		return domain.Reservation{}, fmt.Errorf("reserve %s: %w", productID, domain.ErrUpstreamUnavailable)
	}

	switch {
	case status == http.StatusOK && out.Status == "reserved":
		return domain.Reservation{
			OrderID:    orderID,
			ProductID:  productID,
			Qty:        qty,
			PriceMinor: out.PriceMinor,
		}, nil
	case status == http.StatusConflict || out.Status == "out_of_stock":
		return domain.Reservation{}, fmt.Errorf("reserve %s: %w", productID, domain.ErrOutOfStock)
	default:
		c.logger.WithFields(log.Fields{
			"status_code": status,
			"status":      out.Status,
			"product_id":  productID,
		}).Warn("reserve returned unexpected response")
		return domain.Reservation{}, fmt.Errorf("reserve %s: status %d: %w", productID, status, domain.ErrUpstreamUnavailable)
	}
}

// Release снимает резерв. Заголовок Idempotency-Key строится из пары
// (заказ, товар), поэтому повторный release не вернёт сток дважды.
func (c *Client) Release(ctx context.Context, orderID, productID string, qty int32) error {
	var out struct {
		Status string `json:"status"`
	}
	status, err := c.postJSON(ctx, "/release", domain.ReleaseToken(orderID, productID), reserveRequest{
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
	}, &out)
	if err != nil {
		return fmt.Errorf("release %s: %w", productID, domain.ErrUpstreamUnavailable)
	}
	if status != http.StatusOK || out.Status != "released" {
		return fmt.Errorf("release %s: status %d: %w", productID, status, domain.ErrUpstreamUnavailable)
	}
	return nil
}

// postJSON выполняет POST с JSON-телом и декодирует ответ в out.
// Ответ с кодом ошибки декодируется тоже: тело несёт бизнес-статус.
func (c *Client) postJSON(ctx context.Context, path, idempotencyKey string, in, out interface{}) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

var (
	_ domain.CatalogService   = (*Client)(nil)
	_ domain.InventoryService = (*Client)(nil)
)
