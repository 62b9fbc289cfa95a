// Package events publishes order.placed to Kafka and consumes it to keep
// every instance's order history cache fresh.
package events

import (
	"github.com/fjod/sellr/internal/domain"
)

const (
	EventOrderPlaced = "order.placed"
	headerEventType  = "event_type"
)

type OrderPlacedEvent struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	TotalPrice int64  `json:"total_price"`
	Currency   string `json:"currency"`
	ItemCount  int    `json:"item_count"`
	CreatedAt  int64  `json:"created_at"`
}

func NewOrderPlacedEvent(order *domain.Order, currency string) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Currency:   currency,
		ItemCount:  order.ItemCount(),
		CreatedAt:  order.CreatedAt,
	}
}
