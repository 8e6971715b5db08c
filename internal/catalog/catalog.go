// Package catalog resolves product prices, availability and variants at the
// moment an item is added. The cart never calls it afterwards.
package catalog

import (
	"context"
	"errors"
	"slices"

	"github.com/fjod/go_cart/cart-core/internal/money"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

type Catalog interface {
	Lookup(ctx context.Context, productID string) (Product, error)
}

type Product struct {
	ID              string
	Name            string
	Price           money.Money
	DiscountedPrice *money.Money
	Available       bool
	// Variants lists the selectable weights/sizes. Empty means the product
	// has no variant axis.
	Variants []string
}

// EffectivePrice is the price a customer is shown: the discounted price when
// one is set, the list price otherwise.
func (p Product) EffectivePrice() money.Money {
	if p.DiscountedPrice != nil {
		return *p.DiscountedPrice
	}
	return p.Price
}

// HasVariant reports whether variantKey selects a line of this product. A
// product with variants requires one of them; a product without accepts
// only the empty key.
func (p Product) HasVariant(variantKey string) bool {
	if len(p.Variants) == 0 {
		return variantKey == ""
	}
	return slices.Contains(p.Variants, variantKey)
}
