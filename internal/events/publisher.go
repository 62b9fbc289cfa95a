package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends order.placed events. Kafka sits behind a circuit breaker so
// an unreachable broker fails fast instead of stalling every checkout.
type Publisher struct {
	writer   messageWriter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	currency string
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewPublisher(brokers []string, topic, currency string, log *slog.Logger, m *metrics.Metrics) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newPublisher(w, currency, log, m)
}

func newPublisher(w messageWriter, currency string, log *slog.Logger, m *metrics.Metrics) *Publisher {
	settings := gobreaker.Settings{
		Name:        "kafka-orders",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Publisher{
		writer:   w,
		breaker:  gobreaker.NewCircuitBreaker[struct{}](settings),
		currency: currency,
		log:      log,
		metrics:  m,
	}
}

// PublishOrderPlaced keys the message by user id so one user's events stay ordered.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, order *domain.Order) error {
	payload, err := json.Marshal(NewOrderPlacedEvent(order, p.currency))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(EventOrderPlaced)},
		},
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		p.metrics.EventsPublished.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish order event: %w", err)
	}
	p.metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
