package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/sellr/internal/catalog"
	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
)

const (
	opAdd       = "add"
	opIncrement = "increment"
	opDecrement = "decrement"
	opSet       = "set_quantity"
	opRemove    = "remove"
	opClear     = "clear"
)

type CartService struct {
	repo    repository.CartRepository
	writes  *writeRunner
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewCartService(repo repository.CartRepository, hub *notice.Hub, m *metrics.Metrics, log *slog.Logger, writeTimeout time.Duration) *CartService {
	return &CartService{
		repo:    repo,
		writes:  newWriteRunner(writeTimeout, log, m, hub),
		metrics: m,
		log:     log,
	}
}

// AddToCart adds one of the catalog item, creating the line if needed.
func (s *CartService) AddToCart(ctx context.Context, userID, itemID string) (*Pending[*domain.CartLine], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	item, err := catalog.Lookup(itemID)
	if err != nil {
		return nil, err
	}

	return runWrite(ctx, s.writes, userID, opAdd, func(ctx context.Context) (*domain.CartLine, error) {
		return s.repo.AddLine(ctx, userID, item)
	}), nil
}

func (s *CartService) Increment(ctx context.Context, userID, itemID string) (*Pending[*domain.CartLine], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return runWrite(ctx, s.writes, userID, opIncrement, func(ctx context.Context) (*domain.CartLine, error) {
		return s.repo.AdjustQuantity(ctx, userID, itemID, 1)
	}), nil
}

// Decrement lowers the quantity by one; at quantity 1 the line is removed and
// the pending value is nil.
func (s *CartService) Decrement(ctx context.Context, userID, itemID string) (*Pending[*domain.CartLine], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return runWrite(ctx, s.writes, userID, opDecrement, func(ctx context.Context) (*domain.CartLine, error) {
		return s.repo.AdjustQuantity(ctx, userID, itemID, -1)
	}), nil
}

func (s *CartService) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*Pending[struct{}], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if quantity < 1 {
		return nil, repository.ErrInvalidQuantity
	}
	if _, err := catalog.Lookup(itemID); err != nil {
		return nil, err
	}

	return runWrite(ctx, s.writes, userID, opSet, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.SetQuantity(ctx, userID, itemID, quantity)
	}), nil
}

func (s *CartService) RemoveLine(ctx context.Context, userID, itemID string) (*Pending[struct{}], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return runWrite(ctx, s.writes, userID, opRemove, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.RemoveLine(ctx, userID, itemID)
	}), nil
}

func (s *CartService) ClearCart(ctx context.Context, userID string) (*Pending[struct{}], error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return runWrite(ctx, s.writes, userID, opClear, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.ClearCart(ctx, userID)
	}), nil
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.repo.GetCart(ctx, userID)
}

// SubscribeCart streams the user's cart until the returned subscription is closed.
func (s *CartService) SubscribeCart(userID string, onChange func(*domain.Cart), onCancel func(error)) (docstore.Subscription, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	sub, err := s.repo.SubscribeCart(userID, onChange, onCancel)
	if err != nil {
		return nil, err
	}
	return trackSubscription(sub, s.metrics, "cart"), nil
}

// Close waits for in-flight writes to finish, up to ctx.
func (s *CartService) Close(ctx context.Context) error {
	return s.writes.drain(ctx)
}

type trackedSubscription struct {
	docstore.Subscription
	once  sync.Once
	gauge interface{ Dec() }
}

func trackSubscription(sub docstore.Subscription, m *metrics.Metrics, kind string) docstore.Subscription {
	g := m.LiveSubscriptions.WithLabelValues(kind)
	g.Inc()
	return &trackedSubscription{Subscription: sub, gauge: g}
}

func (t *trackedSubscription) Close() {
	t.once.Do(func() {
		t.Subscription.Close()
		t.gauge.Dec()
	})
}
