package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/sellr/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 15 * time.Minute

func NewRedisHistoryCache(client *redis.Client, baseTTL time.Duration) *RedisHistoryCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisHistoryCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisHistoryCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisHistoryCache) Get(ctx context.Context, userID string) ([]*domain.Order, error) {
	key := cacheKey(userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var orders []*domain.Order
	if err2 := json.Unmarshal(data, &orders); err2 != nil {
		return nil, fmt.Errorf("unmarshal orders failed: %w", err2)
	}

	return orders, nil
}

// Set stores the history with a jittered TTL so entries written together do
// not all expire together.
func (r *RedisHistoryCache) Set(ctx context.Context, userID string, orders []*domain.Order) error {
	if orders == nil {
		orders = []*domain.Order{}
	}
	jsonOrders, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("marshal orders failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if err := r.client.Set(ctx, cacheKey(userID), jsonOrders, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisHistoryCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("orders:%s", userID)
}
