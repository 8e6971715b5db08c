package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/money"
)

// ItemKey identifies a cart line. An empty VariantKey means the product has
// no variant axis.
type ItemKey struct {
	ProductID  string
	VariantKey string
}

func (k ItemKey) String() string {
	if k.VariantKey == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantKey
}

// CartItem is one product+variant line. Only the quantity changes after
// construction, and only through the owning Cart.
type CartItem struct {
	productID  string
	variantKey string
	unitPrice  money.Money
	quantity   int
	addedAt    time.Time
}

func NewCartItem(productID, variantKey string, quantity int, unitPrice money.Money, addedAt time.Time) (CartItem, error) {
	if strings.TrimSpace(productID) == "" {
		return CartItem{}, ErrInvalidProduct
	}
	if err := validateQuantity(quantity); err != nil {
		return CartItem{}, err
	}
	if unitPrice.IsNegative() {
		return CartItem{}, fmt.Errorf("%w: got %s", ErrInvalidPrice, unitPrice)
	}
	if _, err := lineTotal(unitPrice, quantity); err != nil {
		return CartItem{}, err
	}
	return CartItem{
		productID:  productID,
		variantKey: variantKey,
		unitPrice:  unitPrice,
		quantity:   quantity,
		addedAt:    addedAt,
	}, nil
}

func (i CartItem) ProductID() string { return i.productID }
func (i CartItem) VariantKey() string { return i.variantKey }
func (i CartItem) UnitPrice() money.Money { return i.unitPrice }
func (i CartItem) Quantity() int { return i.quantity }
func (i CartItem) AddedAt() time.Time { return i.addedAt }
func (i CartItem) Key() ItemKey { return ItemKey{ProductID: i.productID, VariantKey: i.variantKey} }
func (i CartItem) LineTotal() money.Money { return i.unitPrice.Mul(i.quantity) }
func (i CartItem) sameKey(p, v string) bool { return i.productID == p && i.variantKey == v }

func validateQuantity(quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidQuantity, quantity)
	}
	if quantity > MaxQuantity {
		return fmt.Errorf("%w: must be at most %d, got %d", ErrInvalidQuantity, MaxQuantity, quantity)
	}
	return nil
}

func lineTotal(unitPrice money.Money, quantity int) (money.Money, error) {
	total, err := unitPrice.CheckedMul(quantity)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTotalOverflow, err)
	}
	return total, nil
}
