// Package notice fans user-visible messages out to that user's open streams.
package notice

import (
	"sync"
	"time"
)

const (
	KindWriteFailed    = "write_failed"
	KindCheckoutFailed = "checkout_failed"
	KindOrderPlaced    = "order_placed"
)

const subscriberBuffer = 16

type Notice struct {
	UserID  string    `json:"-"`
	Kind    string    `json:"kind"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Hub delivers notices without blocking the publisher: a subscriber whose
// buffer is full misses the notice.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Notice]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Notice]struct{})}
}

// Subscribe returns a channel of the user's notices and a func that detaches
// and closes it.
func (h *Hub) Subscribe(userID string) (<-chan Notice, func()) {
	ch := make(chan Notice, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Notice]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
