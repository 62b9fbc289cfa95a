package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	checkout *service.CheckoutService
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout *service.CheckoutService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      log,
	}
}

// POST /api/v1/checkout/preview
func (h *CheckoutHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	preview, err := h.checkout.Preview(ctx, userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// POST /api/v1/checkout
//
// The Idempotency-Key header is optional. With it, a retried request returns
// the order the first one placed with 200 instead of 201.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, _ := auth.UserIDFromContext(r.Context())

	result, err := h.checkout.Checkout(ctx, userID, r.Header.Get(idempotencyHeader))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	respondJSON(w, status, result)
}
