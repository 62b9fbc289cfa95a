package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/service"
)

type OrdersHandler struct {
	history *service.HistoryService
	timeout time.Duration
	log     *slog.Logger
}

func NewOrdersHandler(history *service.HistoryService, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{
		history: history,
		timeout: timeout,
		log:     log,
	}
}

type OrderDTO struct {
	*domain.Order
	ItemCount int `json:"item_count"`
}

type OrdersResponseDTO struct {
	Orders []OrderDTO `json:"orders"`
}

func newOrdersResponse(orders []*domain.Order) OrdersResponseDTO {
	out := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderDTO{Order: o, ItemCount: o.ItemCount()})
	}
	return OrdersResponseDTO{Orders: out}
}

// GET /api/v1/orders
//
// Newest first.
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	orders, err := h.history.ListOrders(ctx, userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	order, err := h.history.GetOrder(ctx, userID, chi.URLParam(r, "order_id"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderDTO{Order: order, ItemCount: order.ItemCount()})
}

// GET /api/v1/orders/stream
func (h *OrdersHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserIDFromContext(ctx)

	lists := newLatest[[]*domain.Order]()
	cancelled := newClosedSignal()
	sub, err := h.history.SubscribeOrders(userID, lists.put, cancelled.fire)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	defer sub.Close()

	stream := newSSEWriter(w)
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-cancelled.ch:
			_ = stream.event("error", ErrorResponse{Error: "stream closed", Code: "stream_closed"})
			h.log.WarnContext(ctx, "orders stream cancelled", "user_id", userID, "error", cancelled.err)
			return
		case orders := <-lists.ch:
			err = stream.event("orders", newOrdersResponse(orders))
		case <-keepAlive.C:
			err = stream.comment("keep-alive")
		}
		if err != nil {
			return
		}
	}
}
