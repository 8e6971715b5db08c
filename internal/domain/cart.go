package domain

import (
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/money"
)

// Cart is the aggregate root for one owner's lines. It holds no derived
// totals and does no locking; callers serialise mutations per owner.
type Cart struct {
	// ID is assigned by the store on first save.
	ID      string
	OwnerID string
	// Version is the optimistic concurrency token. Zero means never saved.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	items []CartItem
	clock func() time.Time
}

func NewCart(ownerID string) *Cart {
	c := &Cart{OwnerID: ownerID, clock: time.Now}
	now := c.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	return c
}

// SetClock replaces the time source used for AddedAt and UpdatedAt.
func (c *Cart) SetClock(clock func() time.Time) {
	c.clock = clock
}

func (c *Cart) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock().UTC()
}

// AddItem merges into the line with the same (productID, variantKey) or
// appends a new one. A merged line keeps its first-seen unit price.
func (c *Cart) AddItem(productID, variantKey string, quantity int, unitPrice money.Money) (CartItem, error) {
	now := c.now()
	item, err := NewCartItem(productID, variantKey, quantity, unitPrice, now)
	if err != nil {
		return CartItem{}, err
	}

	if idx := c.indexOf(productID, variantKey); idx >= 0 {
		line := &c.items[idx]
		if quantity > MaxQuantity-line.quantity {
			return CartItem{}, fmt.Errorf("%w: %s would exceed %d", ErrInvalidQuantity, line.Key(), MaxQuantity)
		}
		merged := line.quantity + quantity
		if err := c.checkSubtotal(idx, line.unitPrice, merged); err != nil {
			return CartItem{}, err
		}
		line.quantity = merged
		line.addedAt = now
		c.UpdatedAt = now
		return *line, nil
	}

	if err := c.checkSubtotal(-1, unitPrice, quantity); err != nil {
		return CartItem{}, err
	}
	c.items = append(c.items, item)
	c.UpdatedAt = now
	return item, nil
}

// UpdateQuantity sets the line's quantity exactly. A quantity of zero or less
// removes the line. A missing line is left alone.
func (c *Cart) UpdateQuantity(productID, variantKey string, quantity int) error {
	if quantity <= 0 {
		c.RemoveItem(productID, variantKey)
		return nil
	}
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	idx := c.indexOf(productID, variantKey)
	if idx < 0 {
		return nil
	}
	if err := c.checkSubtotal(idx, c.items[idx].unitPrice, quantity); err != nil {
		return err
	}
	c.items[idx].quantity = quantity
	c.UpdatedAt = c.now()
	return nil
}

// RemoveItem is idempotent.
func (c *Cart) RemoveItem(productID, variantKey string) {
	idx := c.indexOf(productID, variantKey)
	if idx < 0 {
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.UpdatedAt = c.now()
}

// RemoveProduct drops every variant line of productID and reports how many
// lines went.
func (c *Cart) RemoveProduct(productID string) int {
	kept := c.items[:0]
	removed := 0
	for _, it := range c.items {
		if it.productID == productID {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	// zero the tail so dropped lines are not retained by the backing array
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = CartItem{}
	}
	c.items = kept
	if removed > 0 {
		c.UpdatedAt = c.now()
	}
	return removed
}

func (c *Cart) Clear() {
	if len(c.items) == 0 {
		return
	}
	c.items = nil
	c.UpdatedAt = c.now()
}

// ItemCount is the sum of quantities across lines.
func (c *Cart) ItemCount() int {
	count := 0
	for _, it := range c.items {
		count += it.quantity
	}
	return count
}

func (c *Cart) Subtotal() money.Money {
	var total money.Money
	for _, it := range c.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []CartItem {
	out := make([]CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Item(productID, variantKey string) (CartItem, bool) {
	idx := c.indexOf(productID, variantKey)
	if idx < 0 {
		return CartItem{}, false
	}
	return c.items[idx], true
}

func (c *Cart) Len() int { return len(c.items) }

func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

// checkSubtotal fails with ErrTotalOverflow unless the subtotal still fits
// int64 once the line at idx (or a new line when idx < 0) holds quantity
// units at unitPrice.
func (c *Cart) checkSubtotal(idx int, unitPrice money.Money, quantity int) error {
	total, err := lineTotal(unitPrice, quantity)
	if err != nil {
		return err
	}
	for i, it := range c.items {
		if i == idx {
			continue
		}
		if total, err = total.CheckedAdd(it.LineTotal()); err != nil {
			return fmt.Errorf("%w: %w", ErrTotalOverflow, err)
		}
	}
	return nil
}

func (c *Cart) indexOf(productID, variantKey string) int {
	for i, it := range c.items {
		if it.sameKey(productID, variantKey) {
			return i
		}
	}
	return -1
}
