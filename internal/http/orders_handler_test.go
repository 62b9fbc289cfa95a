package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/sellr/internal/domain"
)

func TestOrders_NewestFirst(t *testing.T) {
	srv := newTestServer(t, 0)
	token := srv.signUp(t, "budi@example.com")

	var ids []string
	for _, item := range []string{"HRD001", "HRD002", "HRD003"} {
		srv.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ItemID: item})
		resp, body := srv.do(t, http.MethodPost, "/api/v1/checkout", token, nil, idempotencyHeader, item)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		ids = append(ids, decode[domain.CheckoutResult](t, body).Order.ID)
		waitForEmptyCart(t, srv, token)
		// created_at has millisecond resolution.
		time.Sleep(2 * time.Millisecond)
	}

	resp, body := srv.do(t, http.MethodGet, "/api/v1/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders := decode[OrdersResponseDTO](t, body).Orders
	require.Len(t, orders, 3)
	for i, o := range orders {
		assert.Equal(t, ids[len(ids)-1-i], o.ID)
		assert.Equal(t, 1, o.ItemCount)
	}
}

func TestOrders_NotFoundAndForeign(t *testing.T) {
	srv := newTestServer(t, 0)
	budi := srv.signUp(t, "budi@example.com")
	sari := srv.signUp(t, "sari@example.com")

	srv.do(t, http.MethodPost, "/api/v1/cart/items", budi, AddItemRequestDTO{ItemID: "HRD006"})
	_, body := srv.do(t, http.MethodPost, "/api/v1/checkout", budi, nil)
	orderID := decode[domain.CheckoutResult](t, body).Order.ID

	resp, body := srv.do(t, http.MethodGet, "/api/v1/orders/missing", budi, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "order_not_found", decode[ErrorResponse](t, body).Code)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/orders/"+orderID, sari, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
