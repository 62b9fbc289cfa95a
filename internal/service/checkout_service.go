package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
	"github.com/google/uuid"
)

// orderNamespace seeds the UUIDv5 order ids derived from idempotency keys.
var orderNamespace = uuid.MustParse("356dfb99-c99f-4563-b568-5c06930f3e9b")

type OrderEvents interface {
	PublishOrderPlaced(ctx context.Context, order *domain.Order) error
}

type HistoryInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type CheckoutOption func(*CheckoutService)

func WithOrderEvents(events OrderEvents) CheckoutOption {
	return func(s *CheckoutService) { s.events = events }
}

func WithHistoryInvalidator(inv HistoryInvalidator) CheckoutOption {
	return func(s *CheckoutService) { s.history = inv }
}

func WithClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) { s.now = now }
}

type CheckoutService struct {
	carts        *CartService
	orders       repository.OrderRepository
	history      HistoryInvalidator
	events       OrderEvents
	notices      *notice.Hub
	metrics      *metrics.Metrics
	log          *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

func NewCheckoutService(
	carts *CartService,
	orders repository.OrderRepository,
	hub *notice.Hub,
	m *metrics.Metrics,
	log *slog.Logger,
	writeTimeout time.Duration,
	opts ...CheckoutOption,
) *CheckoutService {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	s := &CheckoutService{
		carts:        carts,
		orders:       orders,
		notices:      hub,
		metrics:      m,
		log:          log,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Preview is the confirmation step: it refuses an empty cart and otherwise
// returns what would be ordered.
func (s *CheckoutService) Preview(ctx context.Context, userID string) (*domain.CheckoutPreview, error) {
	attempt := domain.NewCheckoutAttempt()

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if err := attempt.TransitionTo(domain.CheckoutConfirming); err != nil {
		return nil, err
	}

	lines := cart.Snapshot()
	return &domain.CheckoutPreview{
		UserID:     userID,
		Lines:      lines,
		TotalPrice: domain.TotalPrice(lines),
		State:      attempt.State(),
	}, nil
}

// Checkout places an order from the current cart. With an idempotency key the
// order id is derived from (user, key), and a repeated call returns the order
// already placed instead of writing a second one.
func (s *CheckoutService) Checkout(ctx context.Context, userID, idempotencyKey string) (*domain.CheckoutResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	attempt := domain.NewCheckoutAttempt()
	if err := attempt.TransitionTo(domain.CheckoutConfirming); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		replay, err := s.replay(ctx, userID, idempotentOrderID(userID, idempotencyKey))
		if err != nil || replay != nil {
			return replay, err
		}
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		s.metrics.CheckoutFailures.WithLabelValues("read").Inc()
		return nil, err
	}
	if cart.IsEmpty() {
		s.metrics.CheckoutFailures.WithLabelValues("empty").Inc()
		return nil, ErrEmptyCart
	}

	orderID, err := s.orderID(userID, idempotencyKey)
	if err != nil {
		s.metrics.CheckoutFailures.WithLabelValues("key").Inc()
		s.notifyFailure(userID, "Could not start checkout. Please try again.")
		return nil, err
	}

	if err := attempt.TransitionTo(domain.CheckoutWriting); err != nil {
		return nil, err
	}
	order := domain.NewOrder(orderID, userID, cart.Snapshot(), s.now())

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	err = s.orders.CreateOrder(wctx, order)
	cancel()
	if err != nil {
		if idempotencyKey != "" && errors.Is(err, repository.ErrDuplicateOrder) {
			// a concurrent call with the same key won the write
			return s.replay(ctx, userID, orderID)
		}
		_ = attempt.TransitionTo(domain.CheckoutFailed)
		s.metrics.CheckoutFailures.WithLabelValues("write").Inc()
		s.log.ErrorContext(ctx, "order write failed", "user_id", userID, "order_id", orderID, "error", err)
		s.notifyFailure(userID, "Your order could not be placed. Your cart was kept.")
		return nil, fmt.Errorf("%w: %v", ErrOrderWrite, err)
	}

	if err := attempt.TransitionTo(domain.CheckoutCommitted); err != nil {
		return nil, err
	}
	s.metrics.OrdersPlaced.Inc()
	s.log.InfoContext(ctx, "order placed", "user_id", userID, "order_id", order.ID, "total_price", order.TotalPrice)
	s.afterCommit(ctx, order)

	return &domain.CheckoutResult{Order: order, State: attempt.State()}, nil
}

// afterCommit runs the best-effort follow-ups. None of them can undo the order.
func (s *CheckoutService) afterCommit(ctx context.Context, order *domain.Order) {
	if _, err := s.carts.ClearCart(ctx, order.UserID); err != nil {
		s.log.ErrorContext(ctx, "cart clear not started", "user_id", order.UserID, "error", err)
	}

	s.notices.Publish(notice.Notice{
		UserID:  order.UserID,
		Kind:    notice.KindOrderPlaced,
		Message: fmt.Sprintf("Order %s placed.", order.ID),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
		defer cancel()

		if s.history != nil {
			if err := s.history.Invalidate(bg, order.UserID); err != nil {
				s.log.WarnContext(bg, "order history invalidation failed", "user_id", order.UserID, "error", err)
			}
		}
		if s.events != nil {
			if err := s.events.PublishOrderPlaced(bg, order); err != nil {
				s.log.WarnContext(bg, "order event not published", "order_id", order.ID, "error", err)
			}
		}
	}()
}

func (s *CheckoutService) replay(ctx context.Context, userID, orderID string) (*domain.CheckoutResult, error) {
	existing, err := s.orders.GetOrder(ctx, userID, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "duplicate checkout replayed", "user_id", userID, "order_id", orderID)
	return &domain.CheckoutResult{Order: existing, State: domain.CheckoutCommitted, Replayed: true}, nil
}

func (s *CheckoutService) orderID(userID, idempotencyKey string) (string, error) {
	if idempotencyKey != "" {
		return idempotentOrderID(userID, idempotencyKey), nil
	}
	id, err := s.orders.NewOrderID(userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if id == "" {
		return "", ErrKeyGeneration
	}
	return id, nil
}

func (s *CheckoutService) notifyFailure(userID, msg string) {
	s.notices.Publish(notice.Notice{UserID: userID, Kind: notice.KindCheckoutFailed, Message: msg})
}

// Close waits for post-commit follow-ups, up to ctx.
func (s *CheckoutService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func idempotentOrderID(userID, key string) string {
	return uuid.NewSHA1(orderNamespace, []byte(userID+"\x00"+key)).String()
}
