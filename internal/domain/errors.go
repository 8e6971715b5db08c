package domain

import (
	"errors"
	"math"
)

// MaxQuantity bounds a single line's quantity. It fits the int32 quantity
// used on the wire.
const MaxQuantity = math.MaxInt32

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrTotalOverflow   = errors.New("cart total out of range")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
	ErrInvalidProduct  = errors.New("product id must not be empty")
	ErrInvalidOwner    = errors.New("owner id must not be empty")
	ErrDuplicateItem   = errors.New("duplicate cart line")
)
