package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// HistoryInvalidator drops a user's cached order history.
type HistoryInvalidator interface {
	Delete(ctx context.Context, userID string) error
}

// Consumer reads order.placed and drops the user's cached history, so
// instances other than the one that took the order stop serving a stale list.
type Consumer struct {
	reader messageReader
	cache  HistoryInvalidator
	log    *slog.Logger
}

func NewConsumer(cache HistoryInvalidator, log *slog.Logger, brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, cache: cache, log: log}
}

const readRetryDelay = time.Second

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

// processMessage returns an error only when the reader failed; bad messages
// are logged and skipped.
func (c *Consumer) processMessage(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		c.log.Error("error reading message", "error", err)
		return err
	}

	if eventType(m) != EventOrderPlaced {
		return nil
	}

	var event OrderPlacedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Error("error parsing message", "error", err, "offset", m.Offset)
		return nil
	}
	if event.UserID == "" {
		c.log.Warn("order event without user_id", "order_id", event.OrderID)
		return nil
	}

	if err := c.cache.Delete(ctx, event.UserID); err != nil {
		c.log.Error("failed to invalidate order history", "user_id", event.UserID, "error", err)
		return nil
	}
	c.log.Debug("order history invalidated", "user_id", event.UserID, "order_id", event.OrderID)
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == headerEventType {
			return string(h.Value)
		}
	}
	return ""
}
