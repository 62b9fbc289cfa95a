package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/logger"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
	"github.com/fjod/sellr/internal/service"
)

type testServer struct {
	*httptest.Server
	store *docstore.MemoryStore
	hub   *notice.Hub
}

func newTestServer(t *testing.T, authPerMin int, opts ...func(*RouterConfig)) *testServer {
	t.Helper()

	store := docstore.NewMemoryStore()
	hub := notice.NewHub()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := logger.Nop()

	authSvc := auth.NewService(auth.NewMemoryUserStore(), auth.NewMemoryRevocationList(), log, auth.Options{
		Secret:     "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	carts := service.NewCartService(repository.NewCartRepository(store), hub, m, log, time.Second)
	checkout := service.NewCheckoutService(carts, repository.NewOrderRepository(store), hub, m, log, time.Second)
	history := service.NewHistoryService(repository.NewOrderRepository(store), nil, m, log)

	cfg := RouterConfig{
		Auth:       authSvc,
		Carts:      carts,
		Checkout:   checkout,
		History:    history,
		Hub:        hub,
		Store:      store,
		Gatherer:   reg,
		Log:        log,
		Timeout:    2 * time.Second,
		AuthPerMin: authPerMin,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := httptest.NewServer(NewRouter(cfg))

	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		ctx := context.Background()
		_ = checkout.Close(ctx)
		_ = carts.Close(ctx)
		_ = store.Close(ctx)
	})
	return &testServer{Server: srv, store: store, hub: hub}
}

// do sends a JSON request and returns the response with its body read.
func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (s *testServer) signUp(t *testing.T, email string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", CredentialsDTO{Email: email, Password: "rahasia"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var session auth.Session
	require.NoError(t, json.Unmarshal(body, &session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

// waitForEmptyCart waits out the cart clear that follows a committed order.
func waitForEmptyCart(t *testing.T, s *testServer, token string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
		return decode[CartResponseDTO](t, body).Empty
	}, 2*time.Second, 10*time.Millisecond)
}
