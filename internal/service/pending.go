package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/sellr/internal/catalog"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
)

// Pending is a store write running in the background. The caller may wait for
// it, or drop it and rely on the live view to reconcile.
type Pending[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finishes or ctx ends. Giving up on ctx does not
// cancel the write.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// writeRunner runs writes detached from the caller's cancellation but bounded
// by timeout. Failures are logged, counted and sent to the user as a notice;
// nothing is retried.
type writeRunner struct {
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	notices *notice.Hub
	wg      sync.WaitGroup
}

func newWriteRunner(timeout time.Duration, log *slog.Logger, m *metrics.Metrics, hub *notice.Hub) *writeRunner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &writeRunner{timeout: timeout, log: log, metrics: m, notices: hub}
}

func runWrite[T any](ctx context.Context, r *writeRunner, userID, op string, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(p.done)
		defer cancel()

		p.value, p.err = fn(wctx)
		if p.err != nil && !isRejected(p.err) {
			r.reportFailure(wctx, userID, op, p.err)
		}
	}()
	return p
}

func (r *writeRunner) reportFailure(ctx context.Context, userID, op string, err error) {
	r.log.ErrorContext(ctx, "cart write failed", "user_id", userID, "op", op, "error", err)
	r.metrics.CartWriteFailures.WithLabelValues(op).Inc()
	r.notices.Publish(notice.Notice{
		UserID:  userID,
		Kind:    notice.KindWriteFailed,
		Op:      op,
		Message: failureMessage(op),
	})
}

// isRejected reports errors caused by the request itself. They go back to the
// caller through the pending value and are not store failures.
func isRejected(err error) bool {
	return errors.Is(err, repository.ErrLineNotFound) ||
		errors.Is(err, repository.ErrInvalidQuantity) ||
		errors.Is(err, catalog.ErrUnknownItem)
}

// drain waits for in-flight writes, up to ctx.
func (r *writeRunner) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureMessage(op string) string {
	switch op {
	case opAdd:
		return "Could not add the item to your cart. Please try again."
	case opClear:
		return "Your order was placed but the cart could not be emptied."
	default:
		return "Could not update your cart. Please try again."
	}
}
