package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-core/internal/domain"
)

// CartCache is a read-through copy of stored carts. The store stays
// authoritative; a cache failure never fails a request.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, ownerID string) error
}

var ErrCacheMiss = errors.New("cache miss")
