package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
)

const orderSortField = "created_at"

type orderRepository struct {
	store docstore.Store
}

func NewOrderRepository(store docstore.Store) OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) NewOrderID(userID string) (string, error) {
	return r.store.NewKey(ordersPath(userID))
}

// CreateOrder writes the order only if nothing exists at its path yet.
func (r *orderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" || order.UserID == "" || len(order.Items) == 0 {
		return ErrInvalidOrder
	}

	doc, err := docstore.Encode(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	_, err = r.store.Transact(ctx, orderPath(order.UserID, order.ID), func(cur docstore.Document) (docstore.Document, error) {
		if cur != nil {
			return nil, ErrDuplicateOrder
		}
		return doc, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			return err
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	snap, err := r.store.Get(ctx, orderPath(userID, orderID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order, ok := decodeOrder(snap)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the user's orders newest first.
func (r *orderRepository) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	snap, err := r.store.Get(ctx, ordersPath(userID), docstore.Query{OrderByChild: orderSortField})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return ordersFromSnapshot(snap), nil
}

func (r *orderRepository) SubscribeOrders(userID string, onChange func([]*domain.Order), onCancel func(error)) (docstore.Subscription, error) {
	q := docstore.Query{OrderByChild: orderSortField}
	sub, err := r.store.Subscribe(ordersPath(userID), q, func(snap docstore.Snapshot) {
		onChange(ordersFromSnapshot(snap))
	}, onCancel)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to orders: %w", err)
	}
	return sub, nil
}

// ordersFromSnapshot expects children ascending by created_at and reverses them.
func ordersFromSnapshot(snap docstore.Snapshot) []*domain.Order {
	orders := make([]*domain.Order, 0, len(snap.Children))
	for _, child := range snap.Children {
		if order, ok := decodeOrder(child); ok {
			orders = append(orders, order)
		}
	}
	slices.Reverse(orders)
	return orders
}

func decodeOrder(snap docstore.Snapshot) (*domain.Order, bool) {
	if snap.Value == nil {
		return nil, false
	}
	var order domain.Order
	if err := snap.Decode(&order); err != nil {
		return nil, false
	}
	if order.ID == "" {
		order.ID = snap.Key
	}
	return &order, true
}
