package domain

import "sort"

// CatalogItem is copied by value into cart lines and orders so that a placed
// order keeps the price it was bought at.
type CatalogItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"price"`
	ImageRef  string `json:"image_url"`
}

// CartLine is persisted at carts/{userId}/{itemId}. Quantity is always >= 1.
type CartLine struct {
	Item     CatalogItem `json:"item"`
	Quantity int         `json:"quantity"`
}

func (l CartLine) Subtotal() int64 {
	return l.Item.UnitPrice * int64(l.Quantity)
}

type Cart struct {
	UserID string     `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}

func NewCart(userID string, lines []CartLine) *Cart {
	c := &Cart{UserID: userID, Lines: make([]CartLine, 0, len(lines))}
	c.Lines = append(c.Lines, lines...)
	sort.SliceStable(c.Lines, func(i, j int) bool {
		return c.Lines[i].Item.ID < c.Lines[j].Item.ID
	})
	return c
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) Line(itemID string) (CartLine, bool) {
	if c == nil {
		return CartLine{}, false
	}
	for _, l := range c.Lines {
		if l.Item.ID == itemID {
			return l, true
		}
	}
	return CartLine{}, false
}

// Total is sum(unitPrice * quantity) in whole currency units.
func (c *Cart) Total() int64 {
	if c == nil {
		return 0
	}
	return TotalPrice(c.Lines)
}

// Snapshot returns a copy of the lines that later cart mutations cannot reach.
func (c *Cart) Snapshot() []CartLine {
	if c == nil {
		return nil
	}
	out := make([]CartLine, len(c.Lines))
	copy(out, c.Lines)
	return out
}

func TotalPrice(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}
