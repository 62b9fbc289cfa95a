package domain

import "time"

// Order is written once at orders/{userId}/{orderId} and never mutated.
// CreatedAt is milliseconds since epoch and is the history sort key.
type Order struct {
	ID         string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Items      []CartLine `json:"items"`
	TotalPrice int64      `json:"total_price"`
	CreatedAt  int64      `json:"created_at"`
}

func NewOrder(id, userID string, lines []CartLine, now time.Time) *Order {
	items := make([]CartLine, len(lines))
	copy(items, lines)

	return &Order{
		ID:         id,
		UserID:     userID,
		Items:      items,
		TotalPrice: TotalPrice(items),
		CreatedAt:  now.UnixMilli(),
	}
}

func (o *Order) ItemCount() int {
	n := 0
	for _, l := range o.Items {
		n += l.Quantity
	}
	return n
}

func (o *Order) CreatedTime() time.Time {
	return time.UnixMilli(o.CreatedAt)
}
