// Package metrics owns the Prometheus collectors the service exports on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sellr"

type Metrics struct {
	OrdersPlaced      prometheus.Counter
	CheckoutFailures  *prometheus.CounterVec
	CartWriteFailures *prometheus.CounterVec
	LiveSubscriptions *prometheus.GaugeVec
	EventsPublished   *prometheus.CounterVec
	HistoryCache      *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders committed to the store.",
		}),
		CheckoutFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_failures_total",
			Help:      "Checkout attempts that did not commit, by reason.",
		}, []string{"reason"}),
		CartWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_write_failures_total",
			Help:      "Cart writes that failed, by operation.",
		}, []string{"op"}),
		LiveSubscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscriptions",
			Help:      "Open live views, by kind.",
		}, []string{"kind"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_events_published_total",
			Help:      "order.placed events handed to Kafka, by result.",
		}, []string{"result"}),
		HistoryCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_cache_lookups_total",
			Help:      "Order history cache lookups, by result.",
		}, []string{"result"}),
	}
}
