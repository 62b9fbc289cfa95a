// Package catalog holds the fixed, read-only list of purchasable items.
package catalog

import (
	"errors"

	"github.com/fjod/sellr/internal/domain"
)

var ErrUnknownItem = errors.New("unknown catalog item")

var items = []domain.CatalogItem{
	{
		ID:        "HRD001",
		Name:      "Nasi Goreng Ayam Spesial",
		UnitPrice: 28000,
		ImageRef:  "https://i.pinimg.com/736x/94/82/ab/9482ab2e248d249e7daa7fd6924c8d3b.jpg",
	},
	{
		ID:        "HRD002",
		Name:      "Ayam Bakar Kecap",
		UnitPrice: 32000,
		ImageRef:  "https://i.pinimg.com/736x/08/77/a7/0877a7d7d769099216823f067373a0fa.jpg",
	},
	{
		ID:        "HRD003",
		Name:      "Soto Ayam",
		UnitPrice: 20000,
		ImageRef:  "https://i.pinimg.com/736x/c6/28/e5/c628e596829de0d478045472c8d2b260.jpg",
	},
	{
		ID:        "HRD004",
		Name:      "Gado-Gado",
		UnitPrice: 22000,
		ImageRef:  "https://i.pinimg.com/736x/3a/ec/9e/3aec9effb6ac339895b8ef4e281b2acf.jpg",
	},
	{
		ID:        "HRD005",
		Name:      "Es Jeruk Manis",
		UnitPrice: 8000,
		ImageRef:  "https://i.pinimg.com/736x/9a/10/98/9a10985db487e939ce8a4fc8dd6eb7d3.jpg",
	},
	{
		ID:        "HRD006",
		Name:      "Mie Goreng Jawa",
		UnitPrice: 26000,
		ImageRef:  "https://i.pinimg.com/736x/0f/76/e8/0f76e8e797bf5d4e40f004475ffdbe16.jpg",
	},
}

// All returns the catalog in display order. The slice is a copy.
func All() []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(items))
	copy(out, items)
	return out
}

func Lookup(id string) (domain.CatalogItem, error) {
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return domain.CatalogItem{}, ErrUnknownItem
}
