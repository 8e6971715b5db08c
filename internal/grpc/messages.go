package grpc

import (
	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/fjod/go_cart/cart-core/internal/pricing"
)

const timeFormat string = "2006-01-02T15:04:05Z07:00"

type GetCartRequest struct {
	UserID string `json:"user_id"`
}

type AddCartItemRequest struct {
	UserID     string `json:"user_id"`
	ProductID  string `json:"product_id"`
	VariantKey string `json:"variant_key,omitempty"`
	Quantity   int32  `json:"quantity"`
}

type UpdateQuantityRequest struct {
	UserID     string `json:"user_id"`
	ProductID  string `json:"product_id"`
	VariantKey string `json:"variant_key,omitempty"`
	Quantity   int32  `json:"quantity"`
}

// RemoveItemRequest removes one line, or every variant of the product when
// AllVariants is set.
type RemoveItemRequest struct {
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	VariantKey  string `json:"variant_key,omitempty"`
	AllVariants bool   `json:"all_variants,omitempty"`
}

type ClearCartRequest struct {
	UserID string `json:"user_id"`
}

type GetSummaryRequest struct {
	UserID string `json:"user_id"`
}

type CartItem struct {
	ProductID  string      `json:"product_id"`
	VariantKey string      `json:"variant_key,omitempty"`
	Name       string      `json:"name,omitempty"`
	UnitPrice  money.Money `json:"unit_price"`
	Quantity   int32       `json:"quantity"`
	LineTotal  money.Money `json:"line_total"`
	AddedAt    string      `json:"added_at"`
}

type Cart struct {
	ID        string      `json:"id,omitempty"`
	UserID    string      `json:"user_id"`
	Version   int64       `json:"version"`
	Items     []*CartItem `json:"items"`
	ItemCount int         `json:"item_count"`
	Subtotal  money.Money `json:"subtotal"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

type CartResponse struct {
	Cart *Cart `json:"cart"`
}

type SummaryResponse struct {
	Cart    *Cart           `json:"cart"`
	Summary pricing.Summary `json:"summary"`
}

// convertCart builds the wire cart. names is keyed by product ID and may be
// nil or incomplete.
func convertCart(c *domain.Cart, names map[string]string) *Cart {
	items := c.Items()
	cart := &Cart{
		ID:        c.ID,
		UserID:    c.OwnerID,
		Version:   c.Version,
		Items:     make([]*CartItem, len(items)),
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal(),
		CreatedAt: c.CreatedAt.Format(timeFormat),
		UpdatedAt: c.UpdatedAt.Format(timeFormat),
	}

	for i, item := range items {
		cart.Items[i] = &CartItem{
			ProductID:  item.ProductID(),
			VariantKey: item.VariantKey(),
			Name:       names[item.ProductID()],
			UnitPrice:  item.UnitPrice(),
			Quantity:   int32(item.Quantity()),
			LineTotal:  item.LineTotal(),
			AddedAt:    item.AddedAt().Format(timeFormat),
		}
	}

	return cart
}
