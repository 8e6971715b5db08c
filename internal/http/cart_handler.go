package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	cartgrpc "github.com/fjod/go_cart/cart-core/internal/grpc"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MaxQuantity caps a single add or update request.
const MaxQuantity = 99

type CartHandler struct {
	cartClient cartgrpc.CartServiceClient
	timeout    time.Duration
	logger     *zap.Logger
}

func NewCartHandler(cartClient cartgrpc.CartServiceClient, timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		cartClient: cartClient,
		timeout:    timeout,
		logger:     logger,
	}
}

type AddItemRequestDTO struct {
	ProductID  string `json:"product_id"`
	VariantKey string `json:"variant_key"`
	Quantity   int32  `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int32 `json:"quantity"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := h.cartClient.GetCart(ctx, &cartgrpc.GetCartRequest{UserID: userID})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp.Cart)
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := h.cartClient.GetSummary(ctx, &cartgrpc.GetSummaryRequest{UserID: userID})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity <= 0 || req.Quantity > MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	resp, err := h.cartClient.AddItem(ctx, &cartgrpc.AddCartItemRequest{
		UserID:     userID,
		ProductID:  req.ProductID,
		VariantKey: req.VariantKey,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp.Cart)
}

// UpdateQuantity sets the quantity of the line named by the path and the
// optional ?variant= query. Zero removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	if strings.TrimSpace(productID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 0 || req.Quantity > MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	resp, err := h.cartClient.UpdateQuantity(ctx, &cartgrpc.UpdateQuantityRequest{
		UserID:     userID,
		ProductID:  productID,
		VariantKey: r.URL.Query().Get("variant"),
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp.Cart)
}

// RemoveItem removes one variant when ?variant= is given, otherwise every
// line of the product.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	if strings.TrimSpace(productID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	query := r.URL.Query()
	resp, err := h.cartClient.RemoveItem(ctx, &cartgrpc.RemoveItemRequest{
		UserID:      userID,
		ProductID:   productID,
		VariantKey:  query.Get("variant"),
		AllVariants: !query.Has("variant"),
	})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp.Cart)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, userID, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := h.cartClient.ClearCart(ctx, &cartgrpc.ClearCartRequest{UserID: userID})
	if err != nil {
		h.handleGRPCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp.Cart)
}

// begin authenticates the request and returns the outgoing gRPC context with
// user and request ids attached. ok is false once a response has been written.
func (h *CartHandler) begin(w http.ResponseWriter, r *http.Request) (context.Context, string, context.CancelFunc, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return nil, "", nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	ctx = metadata.AppendToOutgoingContext(ctx, "user-id", userID, "request-id", getRequestID(r.Context()))
	return ctx, userID, cancel, true
}

func (h *CartHandler) handleGRPCError(w http.ResponseWriter, err error) {
	// Convert gRPC status codes to HTTP status codes
	st, ok := status.FromError(err)
	if !ok {
		h.logger.Error("non-status error from cart service", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	var httpStatus int
	var code string

	switch st.Code() {
	case codes.InvalidArgument:
		httpStatus = http.StatusBadRequest
		code = "invalid_argument"
	case codes.NotFound:
		httpStatus = http.StatusNotFound
		code = "not_found"
	case codes.AlreadyExists:
		httpStatus = http.StatusConflict
		code = "already_exists"
	case codes.Aborted:
		httpStatus = http.StatusConflict
		code = "conflict"
	case codes.FailedPrecondition:
		httpStatus = http.StatusUnprocessableEntity
		code = "failed_precondition"
	case codes.Unauthenticated:
		httpStatus = http.StatusUnauthorized
		code = "unauthenticated"
	case codes.PermissionDenied:
		httpStatus = http.StatusForbidden
		code = "permission_denied"
	case codes.ResourceExhausted:
		httpStatus = http.StatusTooManyRequests
		code = "rate_limit_exceeded"
	case codes.Unavailable:
		httpStatus = http.StatusServiceUnavailable
		code = "service_unavailable"
	case codes.DeadlineExceeded:
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		httpStatus = http.StatusInternalServerError
		code = "internal_error"
	}

	if httpStatus >= http.StatusInternalServerError {
		h.logger.Error("cart service call failed", zap.String("code", st.Code().String()), zap.String("message", st.Message()))
	}
	respondError(w, httpStatus, code, st.Message())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
