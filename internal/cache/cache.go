package cache

import (
	"context"
	"errors"

	"github.com/fjod/sellr/internal/domain"
)

// HistoryCache holds a user's order history, newest first.
type HistoryCache interface {
	Get(ctx context.Context, userID string) ([]*domain.Order, error)
	Set(ctx context.Context, userID string, orders []*domain.Order) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
