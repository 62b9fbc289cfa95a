package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const sseKeepAlive = 25 * time.Second

type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSEWriter prepares w for a long-lived event stream and clears the
// server's write deadline for this response.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	return &sseWriter{w: w, rc: rc}
}

func (s *sseWriter) event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// latest holds the newest value produced by a subscription callback. A slow
// stream skips intermediate values rather than blocking the store.
type latest[T any] struct {
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// closedSignal is closed from the subscription's cancel callback.
type closedSignal struct {
	once sync.Once
	ch   chan struct{}
	err  error
}

func newClosedSignal() *closedSignal {
	return &closedSignal{ch: make(chan struct{})}
}

func (c *closedSignal) fire(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.ch)
	})
}
