package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/fjod/go_cart/cart-core/internal/catalog"
	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
	s "github.com/fjod/go_cart/cart-core/internal/service"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type CartServer struct {
	service *s.CartService
}

func NewCartServer(service *s.CartService) *CartServer {
	return &CartServer{service: service}
}

func (h *CartServer) GetCart(ctx context.Context, req *GetCartRequest) (*CartResponse, error) {
	cart, err := h.service.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err, "failed to get cart")
	}
	return &CartResponse{Cart: h.cartMessage(ctx, cart)}, nil
}

func (h *CartServer) AddItem(ctx context.Context, req *AddCartItemRequest) (*CartResponse, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	if req.Quantity <= 0 {
		return nil, status.Error(codes.InvalidArgument, "quantity must be greater than 0")
	}

	cart, err := h.service.AddItem(ctx, req.UserID, req.ProductID, req.VariantKey, int(req.Quantity))
	if err != nil {
		return nil, toStatus(err, "failed to add item to cart")
	}
	return &CartResponse{Cart: h.cartMessage(ctx, cart)}, nil
}

// UpdateQuantity with a quantity of zero or less removes the line.
func (h *CartServer) UpdateQuantity(ctx context.Context, req *UpdateQuantityRequest) (*CartResponse, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	cart, err := h.service.UpdateQuantity(ctx, req.UserID, req.ProductID, req.VariantKey, int(req.Quantity))
	if err != nil {
		return nil, toStatus(err, "failed to update item quantity")
	}
	return &CartResponse{Cart: h.cartMessage(ctx, cart)}, nil
}

func (h *CartServer) RemoveItem(ctx context.Context, req *RemoveItemRequest) (*CartResponse, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	var (
		cart *domain.Cart
		err  error
	)
	if req.AllVariants {
		cart, err = h.service.RemoveProduct(ctx, req.UserID, req.ProductID)
	} else {
		cart, err = h.service.RemoveItem(ctx, req.UserID, req.ProductID, req.VariantKey)
	}
	if err != nil {
		return nil, toStatus(err, "failed to remove item")
	}
	return &CartResponse{Cart: h.cartMessage(ctx, cart)}, nil
}

func (h *CartServer) ClearCart(ctx context.Context, req *ClearCartRequest) (*CartResponse, error) {
	cart, err := h.service.ClearCart(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err, "failed to clear cart")
	}
	return &CartResponse{Cart: h.cartMessage(ctx, cart)}, nil
}

func (h *CartServer) GetSummary(ctx context.Context, req *GetSummaryRequest) (*SummaryResponse, error) {
	cart, summary, err := h.service.Summary(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err, "failed to price cart")
	}
	return &SummaryResponse{Cart: h.cartMessage(ctx, cart), Summary: summary}, nil
}

// toStatus maps service errors onto gRPC codes. Unrecognised errors become
// Internal with the cause in the message.
// cartMessage attaches catalog names to the response; stored unit prices are
// left as snapshotted.
func (h *CartServer) cartMessage(ctx context.Context, cart *domain.Cart) *Cart {
	return convertCart(cart, h.service.ProductNames(ctx, cart))
}

func toStatus(err error, msg string) error {
	var storageErr *store.StorageError
	switch {
	case errors.Is(err, domain.ErrInvalidOwner):
		return status.Error(codes.InvalidArgument, "user_id is required")
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrTotalOverflow),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrOverflow):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		return status.Error(codes.NotFound, "product not found")
	case errors.Is(err, s.ErrProductUnavailable),
		errors.Is(err, s.ErrUnknownVariant):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, s.ErrConcurrentModification):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, catalog.ErrCatalogUnavailable),
		errors.As(err, &storageErr):
		return status.Errorf(codes.Unavailable, "%s: %v", msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	default:
		return status.Errorf(codes.Internal, "%s: %v", msg, err)
	}
}
