package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-core/internal/domain"
)

var ErrVersionConflict = errors.New("cart version conflict")

// CartStore loads and saves whole carts. Cart itself never sees it.
type CartStore interface {
	// Load returns the owner's cart, or an empty cart with Version 0.
	Load(ctx context.Context, ownerID string) (*domain.Cart, error)
	// Save persists the full item list if the stored version still equals
	// cart.Version, then increments cart.Version.
	Save(ctx context.Context, cart *domain.Cart) error
}

// Store is a CartStore that can also drop a cart outright, used when an
// order has been placed.
type Store interface {
	CartStore
	Delete(ctx context.Context, ownerID string) error
}

// StorageError wraps any backend failure.
type StorageError struct {
	Op      string
	OwnerID string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cart store %s failed for owner %q: %v", e.Op, e.OwnerID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op, ownerID string, err error) error {
	return &StorageError{Op: op, OwnerID: ownerID, Err: err}
}
