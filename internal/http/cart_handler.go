package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/service"
)

type CartHandler struct {
	carts   *service.CartService
	hub     *notice.Hub
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts *service.CartService, hub *notice.Hub, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		hub:     hub,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ItemID string `json:"item_id"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	UserID     string            `json:"user_id"`
	Lines      []domain.CartLine `json:"lines"`
	TotalPrice int64             `json:"total_price"`
	Empty      bool              `json:"empty"`
}

func newCartResponse(userID string, cart *domain.Cart) CartResponseDTO {
	lines := cart.Snapshot()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		UserID:     userID,
		Lines:      lines,
		TotalPrice: cart.Total(),
		Empty:      cart.IsEmpty(),
	}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())
	h.respondCart(ctx, w, userID, http.StatusOK)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id is required")
		return
	}

	p, err := h.carts.AddToCart(ctx, userID, req.ItemID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if _, ok := awaitWrite(ctx, w, h.log, "add", p); !ok {
		return
	}
	h.respondCart(ctx, w, userID, http.StatusCreated)
}

// PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.carts.SetQuantity(ctx, userID, chi.URLParam(r, "item_id"), req.Quantity)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if _, ok := awaitWrite(ctx, w, h.log, "set", p); !ok {
		return
	}
	h.respondCart(ctx, w, userID, http.StatusOK)
}

// POST /api/v1/cart/items/{item_id}/increment
func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "increment", h.carts.Increment)
}

// POST /api/v1/cart/items/{item_id}/decrement
func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "decrement", h.carts.Decrement)
}

func (h *CartHandler) adjust(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, string, string) (*service.Pending[*domain.CartLine], error),
) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := fn(ctx, userID, chi.URLParam(r, "item_id"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if _, ok := awaitWrite(ctx, w, h.log, op, p); !ok {
		return
	}
	h.respondCart(ctx, w, userID, http.StatusOK)
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := h.carts.RemoveLine(ctx, userID, chi.URLParam(r, "item_id"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if _, ok := awaitWrite(ctx, w, h.log, "remove", p); !ok {
		return
	}
	h.respondCart(ctx, w, userID, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := h.carts.ClearCart(ctx, userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if _, ok := awaitWrite(ctx, w, h.log, "clear", p); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/cart/stream
//
// Sends a "cart" event with the full cart on every change and a "notice"
// event for each message addressed to the user.
func (h *CartHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserIDFromContext(ctx)

	carts := newLatest[*domain.Cart]()
	cancelled := newClosedSignal()
	sub, err := h.carts.SubscribeCart(userID, carts.put, cancelled.fire)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	defer sub.Close()

	notices, detach := h.hub.Subscribe(userID)
	defer detach()

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
			h.log.WarnContext(ctx, "cart stream cancelled", "user_id", userID, "error", cancelled.err)
			return
		case cart := <-carts.ch:
			err = stream.event("cart", newCartResponse(userID, cart))
		case n, ok := <-notices:
			if !ok {
				return
			}
			err = stream.event("notice", n)
		case <-keepAlive.C:
			err = stream.comment("keep-alive")
		}
		if err != nil {
			return
		}
	}
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, userID string, status int) {
	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, status, newCartResponse(userID, cart))
}
