package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/money"
)

// Snapshot is the serialisable form of a Cart used on the wire, in the
// cache and in document stores.
type Snapshot struct {
	ID        string         `json:"id,omitempty"`
	OwnerID   string         `json:"owner_id"`
	Version   int64          `json:"version"`
	Items     []ItemSnapshot `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ItemSnapshot struct {
	ProductID  string      `json:"product_id"`
	VariantKey string      `json:"variant_key"`
	UnitPrice  money.Money `json:"unit_price"`
	Quantity   int         `json:"quantity"`
	AddedAt    time.Time   `json:"added_at"`
}

func (c *Cart) Snapshot() Snapshot {
	items := make([]ItemSnapshot, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, ItemSnapshot{
			ProductID:  it.productID,
			VariantKey: it.variantKey,
			UnitPrice:  it.unitPrice,
			Quantity:   it.quantity,
			AddedAt:    it.addedAt,
		})
	}
	return Snapshot{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		Version:   c.Version,
		Items:     items,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// FromSnapshot rebuilds a Cart, validating every line the same way AddItem
// would. Duplicate keys are rejected instead of merged.
func FromSnapshot(s Snapshot) (*Cart, error) {
	if strings.TrimSpace(s.OwnerID) == "" {
		return nil, ErrInvalidOwner
	}

	c := &Cart{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		clock:     time.Now,
	}
	if len(s.Items) > 0 {
		c.items = make([]CartItem, 0, len(s.Items))
	}

	seen := make(map[ItemKey]struct{}, len(s.Items))
	for i, is := range s.Items {
		item, err := NewCartItem(is.ProductID, is.VariantKey, is.Quantity, is.UnitPrice, is.AddedAt)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if _, dup := seen[item.Key()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, item.Key())
		}
		seen[item.Key()] = struct{}{}
		c.items = append(c.items, item)
	}
	if err := c.checkSubtotal(-1, 0, 0); err != nil {
		return nil, err
	}
	return c, nil
}
