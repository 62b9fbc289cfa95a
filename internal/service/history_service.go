package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/sellr/internal/cache"
	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/repository"
	"golang.org/x/sync/singleflight"
)

type HistoryService struct {
	repo    repository.OrderRepository
	cache   cache.HistoryCache
	sfg     singleflight.Group // Prevents cache stampede
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHistoryService takes an optional cache; nil reads straight from the store.
func NewHistoryService(repo repository.OrderRepository, c cache.HistoryCache, m *metrics.Metrics, log *slog.Logger) *HistoryService {
	return &HistoryService{repo: repo, cache: c, metrics: m, log: log}
}

// ListOrders returns the user's orders newest first.
func (s *HistoryService) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if s.cache == nil {
		return s.repo.ListOrders(ctx, userID)
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		orders, err := s.cache.Get(ctx, userID)
		if err == nil {
			s.metrics.HistoryCache.WithLabelValues("hit").Inc()
			return orders, nil
		}

		if errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.HistoryCache.WithLabelValues("miss").Inc()
		} else {
			s.metrics.HistoryCache.WithLabelValues("error").Inc()
			s.log.WarnContext(ctx, "history cache get failed", "user_id", userID, "error", err)
		}

		orders, err = s.repo.ListOrders(ctx, userID)
		if err != nil {
			return nil, err
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(setCtx, userID, orders); errSet != nil {
				s.log.Warn("history cache set failed", "user_id", userID, "error", errSet)
			}
		}()

		return orders, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]*domain.Order), nil
}

func (s *HistoryService) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.repo.GetOrder(ctx, userID, orderID)
}

// SubscribeOrders streams the user's orders, newest first, until closed.
func (s *HistoryService) SubscribeOrders(userID string, onChange func([]*domain.Order), onCancel func(error)) (docstore.Subscription, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	sub, err := s.repo.SubscribeOrders(userID, onChange, onCancel)
	if err != nil {
		return nil, err
	}
	return trackSubscription(sub, s.metrics, "orders"), nil
}

// Invalidate drops the cached history so the next read goes to the store.
func (s *HistoryService) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, userID)
}
