// Package pricing derives delivery, tax and grand total from a cart subtotal.
// Nothing here is stored; charges are recomputed every time they are shown.
package pricing

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/shopspring/decimal"
)

var ErrInvalidPolicy = errors.New("invalid pricing policy")

type Policy struct {
	// Subtotals strictly above the threshold ship free.
	FreeDeliveryThreshold money.Money
	FlatDeliveryFee       money.Money
	TaxRate               decimal.Decimal
	TaxRounding           money.Granularity
}

// DefaultPolicy: free delivery above 500.00, otherwise 50.00; 5% tax rounded
// to the whole currency unit.
func DefaultPolicy() Policy {
	return Policy{
		FreeDeliveryThreshold: money.FromMajor(500),
		FlatDeliveryFee:       money.FromMajor(50),
		TaxRate:               decimal.RequireFromString("0.05"),
		TaxRounding:           money.MajorUnit,
	}
}

func (p Policy) Validate() error {
	if p.FreeDeliveryThreshold.IsNegative() {
		return fmt.Errorf("%w: free delivery threshold %s is negative", ErrInvalidPolicy, p.FreeDeliveryThreshold)
	}
	if p.FlatDeliveryFee.IsNegative() {
		return fmt.Errorf("%w: delivery fee %s is negative", ErrInvalidPolicy, p.FlatDeliveryFee)
	}
	if p.TaxRate.IsNegative() || p.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate %s outside [0, 1]", ErrInvalidPolicy, p.TaxRate)
	}
	if p.TaxRounding != money.MinorUnit && p.TaxRounding != money.MajorUnit {
		return fmt.Errorf("%w: unknown tax rounding %d", ErrInvalidPolicy, p.TaxRounding)
	}
	return nil
}

type Charges struct {
	Subtotal       money.Money `json:"subtotal"`
	DeliveryCharge money.Money `json:"delivery_charge"`
	TaxAmount      money.Money `json:"tax_amount"`
	Total          money.Money `json:"total"`
}

// ComputeCharges applies the policy to a subtotal. A zero subtotal yields
// all-zero charges.
func (p Policy) ComputeCharges(subtotal money.Money) Charges {
	if subtotal.IsZero() {
		return Charges{}
	}

	delivery := p.FlatDeliveryFee
	if subtotal.Cmp(p.FreeDeliveryThreshold) > 0 {
		delivery = 0
	}
	tax := subtotal.MulRate(p.TaxRate, p.TaxRounding)

	return Charges{
		Subtotal:       subtotal,
		DeliveryCharge: delivery,
		TaxAmount:      tax,
		Total:          money.Sum(subtotal, tax, delivery),
	}
}

// ForCart prices a cart. A cart with no items is never charged delivery,
// whatever the threshold.
func (p Policy) ForCart(cart *domain.Cart) Charges {
	if cart == nil || cart.ItemCount() == 0 {
		return Charges{}
	}
	return p.ComputeCharges(cart.Subtotal())
}

// Summary is the read model returned to clients alongside the cart lines.
type Summary struct {
	ItemCount int     `json:"item_count"`
	Lines     int     `json:"lines"`
	IsEmpty   bool    `json:"is_empty"`
	Charges   Charges `json:"charges"`
}

func Summarize(cart *domain.Cart, p Policy) Summary {
	if cart == nil {
		return Summary{IsEmpty: true}
	}
	return Summary{
		ItemCount: cart.ItemCount(),
		Lines:     cart.Len(),
		IsEmpty:   cart.IsEmpty(),
		Charges:   p.ForCart(cart),
	}
}
