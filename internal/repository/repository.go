package repository

import (
	"context"
	"errors"

	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
)

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrOrderNotFound   = errors.New("order not found")
	ErrDuplicateOrder  = errors.New("order with this id already exists")
	ErrInvalidOrder    = errors.New("order is missing id, user or items")
)

// CartRepository reads and writes carts/{userId}/{itemId}.
// Consumers define this interface, not the store implementation
type CartRepository interface {
	GetLine(ctx context.Context, userID, itemID string) (*domain.CartLine, error)
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SubscribeCart(userID string, onChange func(*domain.Cart), onCancel func(error)) (docstore.Subscription, error)
	SetQuantity(ctx context.Context, userID, itemID string, quantity int) error
	AddLine(ctx context.Context, userID string, item domain.CatalogItem) (*domain.CartLine, error)
	AdjustQuantity(ctx context.Context, userID, itemID string, delta int) (*domain.CartLine, error)
	RemoveLine(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

// OrderRepository writes orders/{userId}/{orderId} once and lists them newest first.
type OrderRepository interface {
	NewOrderID(userID string) (string, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID string) ([]*domain.Order, error)
	SubscribeOrders(userID string, onChange func([]*domain.Order), onCancel func(error)) (docstore.Subscription, error)
}

func cartPath(userID string) string {
	return docstore.Join("carts", userID)
}

func linePath(userID, itemID string) string {
	return docstore.Join("carts", userID, itemID)
}

func ordersPath(userID string) string {
	return docstore.Join("orders", userID)
}

func orderPath(userID, orderID string) string {
	return docstore.Join("orders", userID, orderID)
}
