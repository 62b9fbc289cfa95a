// Package http exposes the cart, checkout and order history over a JSON API
// with server-sent event streams for the live views.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/service"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Auth       auth.Provider
	Carts      *service.CartService
	Checkout   *service.CheckoutService
	History    *service.HistoryService
	Hub        *notice.Hub
	Store      Pinger
	Gatherer   prometheus.Gatherer
	Log        *slog.Logger
	Timeout    time.Duration
	AuthPerMin int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Leave it off unless a proxy in front of the server sets those headers.
	TrustProxy bool
	// Shutdown ends open event streams once it is done.
	Shutdown context.Context
}

func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Auth, cfg.Log)
	cartHandler := NewCartHandler(cfg.Carts, cfg.Hub, cfg.Timeout, cfg.Log)
	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.Timeout, cfg.Log)
	ordersHandler := NewOrdersHandler(cfg.History, cfg.Timeout, cfg.Log)
	limiter := NewRateLimiter(cfg.AuthPerMin)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(LoggerMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(cfg.Store, cfg.Timeout))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signout", authHandler.SignOut)
		})

		r.Get("/catalog", GetCatalog)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Auth, cfg.Log))

			// Streams are not compressed and outlive the request timeout,
			// which the other handlers apply themselves.
			streams := r.With(StreamShutdownMiddleware(cfg.Shutdown))
			streams.Get("/cart/stream", cartHandler.Stream)
			streams.Get("/orders/stream", ordersHandler.Stream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Compress(5))

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", cartHandler.GetCart)
					r.Delete("/", cartHandler.ClearCart)
					r.Post("/items", cartHandler.AddItem)
					r.Put("/items/{item_id}", cartHandler.UpdateQuantity)
					r.Delete("/items/{item_id}", cartHandler.RemoveItem)
					r.Post("/items/{item_id}/increment", cartHandler.Increment)
					r.Post("/items/{item_id}/decrement", cartHandler.Decrement)
				})

				r.Post("/checkout/preview", checkoutHandler.Preview)
				r.Post("/checkout", checkoutHandler.Checkout)

				r.Get("/orders", ordersHandler.ListOrders)
				r.Get("/orders/{order_id}", ordersHandler.GetOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "sellr-http")
}

func healthHandler(store Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
