// Package events announces cart changes to other services. Delivery is best
// effort: a failed publish is logged by the caller and never undoes a save.
package events

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
)

const (
	TypeCartUpdated = "cart.updated"
	TypeCartCleared = "cart.cleared"
)

type CartEvent struct {
	Type       string      `json:"type"`
	OwnerID    string      `json:"owner_id"`
	Version    int64       `json:"version"`
	ItemCount  int         `json:"item_count"`
	Lines      int         `json:"lines"`
	Subtotal   money.Money `json:"subtotal"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewCartEvent describes cart as it was just saved. An empty cart is
// reported as cleared.
func NewCartEvent(cart *domain.Cart, at time.Time) CartEvent {
	typ := TypeCartUpdated
	if cart.IsEmpty() {
		typ = TypeCartCleared
	}
	return CartEvent{
		Type:       typ,
		OwnerID:    cart.OwnerID,
		Version:    cart.Version,
		ItemCount:  cart.ItemCount(),
		Lines:      cart.Len(),
		Subtotal:   cart.Subtotal(),
		OccurredAt: at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event CartEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CartEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
