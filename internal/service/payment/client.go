package payment

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

// Client — HTTP-клиент платёжного провайдера.
//
// Отказ провайдера ({"status":"failed"}) — бизнес-исход, он возвращается
// статусом PaymentStatusDeclined без ошибки. Транспортные сбои и таймауты
// отображаются в ErrUpstreamUnavailable.
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
		logger = log.New().WithField("component", "payment-client")
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type paymentRequest struct {
	UserID      string `json:"user_id"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
}

type paymentResponse struct {
	Status string `json:"status"`
}

// Charge инициирует списание средств по заказу.
func (c *Client) Charge(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}

	out, err := c.post(ctx, "/charge", domain.ChargeToken(orderID), paymentRequest{
		UserID:      userID,
		OrderID:     orderID,
		AmountMinor: amountMinor,
	})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("charge request failed")
		return "", fmt.Errorf("charge order %s: %w", orderID, domain.ErrUpstreamUnavailable)
	}

	switch out.Status {
	case "success":
		return domain.PaymentStatusCharged, nil
	case "failed":
		return domain.PaymentStatusDeclined, nil
	default:
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   out.Status,
		}).Warn("charge returned unexpected status")
		return "", fmt.Errorf("charge order %s: status %q: %w", orderID, out.Status, domain.ErrUpstreamUnavailable)
	}
}

// Refund инициирует возврат средств. Идемпотентный токен берётся из контекста
// (его прикрепляет оркестратор или воркер компенсаций).
func (c *Client) Refund(ctx context.Context, userID, orderID string, amountMinor int64) (domain.PaymentStatus, error) {
	if amountMinor <= 0 {
		return "", domain.ErrPaymentAmountInvalid
	}

	token, _ := domain.IdempotencyTokenFromContext(ctx)
	out, err := c.post(ctx, "/refund", token, paymentRequest{
		UserID:      userID,
		OrderID:     orderID,
		AmountMinor: amountMinor,
	})
	if err != nil {
		return "", fmt.Errorf("refund order %s: %w", orderID, domain.ErrUpstreamUnavailable)
	}
	if out.Status != "refunded" && out.Status != "success" {
		return "", fmt.Errorf("refund order %s: status %q: %w", orderID, out.Status, domain.ErrUpstreamUnavailable)
	}
	return domain.PaymentStatusRefunded, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in paymentRequest) (paymentResponse, error) {
	var out paymentResponse

	payload, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return out, err
		}
	}
	return out, nil
}

var _ domain.PaymentService = (*Client)(nil)
