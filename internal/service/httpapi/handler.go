package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/saga"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// CheckoutService — операции саги, которые выставляет HTTP API.
type CheckoutService interface {
	Checkout(ctx context.Context, userID string, items []saga.CheckoutItem) (domain.Order, error)
	Refund(ctx context.Context, requesterID, orderID string, lines []domain.RefundLine, reason string) (domain.Order, int64, error)
}

// Handler обслуживает HTTP API сервиса checkout.
type Handler struct {
	service     CheckoutService
	orders      domain.OrderRepository
	timeline    domain.TimelineRepository
	catalog     domain.CatalogService
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
}

// Deps собирает зависимости HTTP-обработчика.
type Deps struct {
	Service     CheckoutService
	Orders      domain.OrderRepository
	Timeline    domain.TimelineRepository
	Catalog     domain.CatalogService
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
}

// NewHandler создаёт HTTP-обработчик.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		service:     deps.Service,
		orders:      deps.Orders,
		timeline:    deps.Timeline,
		catalog:     deps.Catalog,
		idempotency: deps.Idempotency,
		logger:      logger,
	}
}

// Routes собирает маршрутизатор сервиса.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(h.idempotencyMiddleware)
		r.Post("/checkout", h.checkout)
		r.Post("/orders/{orderID}/refund", h.refund)
	})

	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/health", h.health)

	return r
}

type checkoutItemPayload struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type checkoutRequest struct {
	UserID string                `json:"user_id"`
	Items  []checkoutItemPayload `json:"items"`
}

type refundLinePayload struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type refundRequest struct {
	UserID string              `json:"user_id"`
	Lines  []refundLinePayload `json:"lines"`
	Reason string              `json:"reason"`
}

type orderItemPayload struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name,omitempty"`
	Qty            int32  `json:"qty"`
	PriceMinor     int64  `json:"price_minor"`
	LineTotalMinor int64  `json:"line_total_minor"`
}

type orderPayload struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	Status     string             `json:"status"`
	TotalMinor int64              `json:"total_minor"`
	Items      []orderItemPayload `json:"items"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type timelineEventPayload struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	items := make([]saga.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, saga.CheckoutItem{ProductID: item.ProductID, Qty: item.Qty})
	}

	order, err := h.service.Checkout(r.Context(), req.UserID, items)
	if err != nil && order.ID == "" {
		h.writeMappedError(w, err)
		return
	}
	if err != nil {
		// Заказ существует и зафиксирован FAILED, но внешний сервис был
		// недоступен: отвечаем 502 с телом заказа.
		h.writeJSON(w, http.StatusBadGateway, h.orderBody(r.Context(), order, false))
		return
	}

	h.writeJSON(w, http.StatusCreated, h.orderBody(r.Context(), order, false))
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	// Публичный API всегда требует владельца: пустой requester в саге
	// зарезервирован для внутренних служебных вызовов.
	requesterID := strings.TrimSpace(req.UserID)
	if requesterID == "" {
		h.writeMappedError(w, domain.ErrUserRequired)
		return
	}

	lines := make([]domain.RefundLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.RefundLine{ProductID: line.ProductID, Qty: line.Qty})
	}

	order, refunded, err := h.service.Refund(r.Context(), requesterID, orderID, lines, req.Reason)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	body := h.orderBody(r.Context(), order, false)
	body["refunded_minor"] = refunded
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.orders.Get(orderID)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	body := h.orderBody(r.Context(), order, true)
	if h.timeline != nil {
		events, err := h.timeline.List(order.ID)
		if err != nil {
			h.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to load order timeline")
		} else {
			timeline := make([]timelineEventPayload, 0, len(events))
			for _, e := range events {
				timeline = append(timeline, timelineEventPayload{
					Type:       e.Type,
					Reason:     e.Reason,
					OccurredAt: e.Occurred,
				})
			}
			body["timeline"] = timeline
		}
	}

	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	var (
		orders []domain.Order
		err    error
	)
	if userID != "" {
		orders, err = h.orders.ListByUser(userID, limit)
	} else {
		orders, err = h.orders.ListAll(limit)
	}
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	payload := make([]map[string]interface{}, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, h.orderBody(r.Context(), order, false))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": payload})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

// orderBody собирает JSON-представление заказа. При resolveNames имена товаров
// подтягиваются из каталога best-effort: недоступный каталог не ломает ответ.
func (h *Handler) orderBody(ctx context.Context, order domain.Order, resolveNames bool) map[string]interface{} {
	var names map[string]domain.Product
	if resolveNames && h.catalog != nil {
		products, err := h.catalog.ListProducts(ctx)
		if err != nil {
			h.logger.WithError(err).Warn("failed to resolve product names")
		} else {
			names = products
		}
	}

	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		payload := orderItemPayload{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			PriceMinor:     item.PriceMinor,
			LineTotalMinor: item.LineTotalMinor,
		}
		if product, ok := names[item.ProductID]; ok {
			payload.Name = product.Name
		}
		items = append(items, payload)
	}

	return map[string]interface{}{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"status":      string(order.Status),
		"total_minor": order.TotalMinor,
		"items":       items,
		"created_at":  order.CreatedAt,
		"updated_at":  order.UpdatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeMappedError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrRefundForbidden):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotRefundable):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidRefundQuantity), errors.Is(err, domain.ErrRefundItemUnknown):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrOrderIDRequired):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.writeError(w, http.StatusBadGateway, err)
	default:
		h.logger.WithError(err).Error("request failed")
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
