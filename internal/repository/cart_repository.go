package repository

import (
	"context"
	"fmt"

	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
)

type cartRepository struct {
	store docstore.Store
}

func NewCartRepository(store docstore.Store) CartRepository {
	return &cartRepository{store: store}
}

func (r *cartRepository) GetLine(ctx context.Context, userID, itemID string) (*domain.CartLine, error) {
	snap, err := r.store.Get(ctx, linePath(userID, itemID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to get cart line: %w", err)
	}
	line, ok := decodeLine(snap)
	if !ok {
		return nil, ErrLineNotFound
	}
	return line, nil
}

// GetCart returns an empty cart when the user has no lines.
func (r *cartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	snap, err := r.store.Get(ctx, cartPath(userID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return cartFromSnapshot(userID, snap), nil
}

func (r *cartRepository) SubscribeCart(userID string, onChange func(*domain.Cart), onCancel func(error)) (docstore.Subscription, error) {
	sub, err := r.store.Subscribe(cartPath(userID), docstore.Query{}, func(snap docstore.Snapshot) {
		onChange(cartFromSnapshot(userID, snap))
	}, onCancel)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to cart: %w", err)
	}
	return sub, nil
}

// SetQuantity replaces the quantity of an existing line; the rest of the line
// is untouched. It never creates a line.
func (r *cartRepository) SetQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	_, err := r.store.Transact(ctx, linePath(userID, itemID), func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return nil, ErrLineNotFound
		}
		cur["quantity"] = quantity
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("failed to set quantity: %w", err)
	}
	return nil
}

// AddLine bumps an existing line by one or creates it with quantity 1, as a
// single compare-and-swap so concurrent adds never lose an increment.
func (r *cartRepository) AddLine(ctx context.Context, userID string, item domain.CatalogItem) (*domain.CartLine, error) {
	fresh, err := docstore.Encode(domain.CartLine{Item: item, Quantity: 1})
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Transact(ctx, linePath(userID, item.ID), func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return fresh, nil
		}
		if _, ok := cur["item"]; !ok {
			cur["item"] = fresh["item"]
		}
		cur["quantity"] = quantityOf(cur) + 1
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add line: %w", err)
	}
	return lineFromDocument(doc)
}

// AdjustQuantity adds delta to the line's quantity. A result below 1 deletes
// the line and returns a nil line.
func (r *cartRepository) AdjustQuantity(ctx context.Context, userID, itemID string, delta int) (*domain.CartLine, error) {
	doc, err := r.store.Transact(ctx, linePath(userID, itemID), func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return nil, ErrLineNotFound
		}
		next := quantityOf(cur) + delta
		if next < 1 {
			return nil, nil
		}
		cur["quantity"] = next
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to adjust quantity: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	return lineFromDocument(doc)
}

func (r *cartRepository) RemoveLine(ctx context.Context, userID, itemID string) error {
	if err := r.store.Delete(ctx, linePath(userID, itemID)); err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	return nil
}

func (r *cartRepository) ClearCart(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, cartPath(userID)); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// cartFromSnapshot drops children that do not decode into a usable line.
func cartFromSnapshot(userID string, snap docstore.Snapshot) *domain.Cart {
	lines := make([]domain.CartLine, 0, len(snap.Children))
	for _, child := range snap.Children {
		if line, ok := decodeLine(child); ok {
			lines = append(lines, *line)
		}
	}
	return domain.NewCart(userID, lines)
}

func decodeLine(snap docstore.Snapshot) (*domain.CartLine, bool) {
	if snap.Value == nil {
		return nil, false
	}
	var line domain.CartLine
	if err := snap.Decode(&line); err != nil {
		return nil, false
	}
	if line.Quantity < 1 {
		return nil, false
	}
	if line.Item.ID == "" {
		line.Item.ID = snap.Key
	}
	return &line, true
}

func lineFromDocument(doc docstore.Document) (*domain.CartLine, error) {
	var line domain.CartLine
	if err := docstore.DecodeDocument(doc, &line); err != nil {
		return nil, err
	}
	return &line, nil
}

func quantityOf(doc docstore.Document) int {
	switch q := doc["quantity"].(type) {
	case float64:
		return int(q)
	case int:
		return q
	case int64:
		return int(q)
	}
	return 0
}
