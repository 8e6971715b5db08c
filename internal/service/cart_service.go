package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/cache"
	"github.com/fjod/go_cart/cart-core/internal/catalog"
	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/events"
	"github.com/fjod/go_cart/cart-core/internal/pricing"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrProductUnavailable     = errors.New("product is unavailable")
	ErrUnknownVariant         = errors.New("unknown product variant")
	ErrConcurrentModification = errors.New("cart was modified concurrently")
)

const (
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 10 * time.Millisecond

	sideEffectTimeout = time.Second
	sharedLoadTimeout = 5 * time.Second
)

type Config struct {
	Policy pricing.Policy
	// MaxAttempts bounds load-mutate-save rounds on version conflicts.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between rounds.
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:       pricing.DefaultPolicy(),
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// CartService runs every mutation as load, mutate, save against the store,
// retrying when another writer saved first.
type CartService struct {
	store     store.Store
	cache     cache.CartCache
	catalog   catalog.Catalog
	publisher events.Publisher
	logger    *zap.Logger
	cfg       Config
	sfg       singleflight.Group // Prevents cache stampede
}

func NewCartService(
	st store.Store,
	c cache.CartCache,
	cat catalog.Catalog,
	pub events.Publisher,
	logger *zap.Logger,
	cfg Config,
) *CartService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		store:     st,
		cache:     c,
		catalog:   cat,
		publisher: pub,
		logger:    logger,
		cfg:       cfg,
	}
}

func (s *CartService) Policy() pricing.Policy {
	return s.cfg.Policy
}

// GetCart returns the owner's cart, creating nothing. Concurrent misses for
// the same owner share one store read, which runs detached from any single
// caller so one caller giving up does not fail the others.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	ch := s.sfg.DoChan(ownerID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return s.loadThroughCache(loadCtx, ownerID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// callers sharing a flight each get their own copy
		return clone(res.Val.(*domain.Cart))
	}
}

func (s *CartService) loadThroughCache(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if s.cache != nil {
		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}

	cart, err := s.store.Load(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// never-saved carts are not worth caching
	if s.cache != nil && cart.Version > 0 {
		if err := s.cache.Set(ctx, cart); err != nil {
			s.logger.Warn("cache set failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
	return cart, nil
}

// ProductNames looks up display names for the products in cart. Lookup
// failures leave the name out; prices always come from the cart lines.
func (s *CartService) ProductNames(ctx context.Context, cart *domain.Cart) map[string]string {
	names := make(map[string]string, cart.Len())
	for _, item := range cart.Items() {
		id := item.ProductID()
		if _, done := names[id]; done {
			continue
		}
		product, err := s.catalog.Lookup(ctx, id)
		if err != nil {
			s.logger.Debug("product name lookup failed", zap.String("product_id", id), zap.Error(err))
			names[id] = ""
			continue
		}
		names[id] = product.Name
	}
	return names
}

// AddItem resolves the product's current price once, then merges the line
// into the cart.
func (s *CartService) AddItem(ctx context.Context, ownerID, productID, variantKey string, quantity int) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: must be at least 1, got %d", domain.ErrInvalidQuantity, quantity)
	}
	if strings.TrimSpace(productID) == "" {
		return nil, domain.ErrInvalidProduct
	}

	product, err := s.catalog.Lookup(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Available {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}
	if !product.HasVariant(variantKey) {
		return nil, fmt.Errorf("%w: %q for product %s", ErrUnknownVariant, variantKey, productID)
	}
	price := product.EffectivePrice()

	return s.mutate(ctx, ownerID, func(cart *domain.Cart) (bool, error) {
		if _, err := cart.AddItem(product.ID, variantKey, quantity, price); err != nil {
			return false, err
		}
		return true, nil
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes it. A missing
// line leaves the cart unchanged.
func (s *CartService) UpdateQuantity(ctx context.Context, ownerID, productID, variantKey string, quantity int) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) (bool, error) {
		item, ok := cart.Item(productID, variantKey)
		if !ok || item.Quantity() == quantity {
			return false, nil
		}
		if err := cart.UpdateQuantity(productID, variantKey, quantity); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID, productID, variantKey string) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) (bool, error) {
		if _, ok := cart.Item(productID, variantKey); !ok {
			return false, nil
		}
		cart.RemoveItem(productID, variantKey)
		return true, nil
	})
}

// RemoveProduct drops every variant of productID.
func (s *CartService) RemoveProduct(ctx context.Context, ownerID, productID string) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) (bool, error) {
		return cart.RemoveProduct(productID) > 0, nil
	})
}

func (s *CartService) ClearCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) (bool, error) {
		if cart.IsEmpty() {
			return false, nil
		}
		cart.Clear()
		return true, nil
	})
}

// Summary prices the current cart. Charges are derived on every call.
func (s *CartService) Summary(ctx context.Context, ownerID string) (*domain.Cart, pricing.Summary, error) {
	cart, err := s.GetCart(ctx, ownerID)
	if err != nil {
		return nil, pricing.Summary{}, err
	}
	return cart, pricing.Summarize(cart, s.cfg.Policy), nil
}

// DeleteCart removes the stored cart outright, e.g. after checkout.
func (s *CartService) DeleteCart(ctx context.Context, ownerID string) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ownerID); err != nil {
		s.logger.Error("store delete failed", zap.String("owner_id", ownerID), zap.Error(err))
		return err
	}
	s.invalidateCache(ctx, ownerID)
	s.publish(ctx, domain.NewCart(ownerID))
	return nil
}

// mutate applies fn to a freshly loaded cart and saves it. fn reports whether
// it changed anything; unchanged carts are not saved.
func (s *CartService) mutate(ctx context.Context, ownerID string, fn func(*domain.Cart) (bool, error)) (*domain.Cart, error) {
	for attempt := 1; ; attempt++ {
		cart, err := s.store.Load(ctx, ownerID)
		if err != nil {
			s.logger.Error("store load failed", zap.String("owner_id", ownerID), zap.Error(err))
			return nil, err
		}

		changed, err := fn(cart)
		if err != nil {
			return nil, err
		}
		if !changed {
			return cart, nil
		}

		err = s.store.Save(ctx, cart)
		if err == nil {
			s.invalidateCache(ctx, ownerID)
			s.publish(ctx, cart)
			return cart, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			s.logger.Error("store save failed", zap.String("owner_id", ownerID), zap.Error(err))
			return nil, err
		}
		if attempt >= s.cfg.MaxAttempts {
			s.logger.Warn("giving up after version conflicts",
				zap.String("owner_id", ownerID), zap.Int("attempts", attempt))
			return nil, fmt.Errorf("%w: owner %s after %d attempts: %w", ErrConcurrentModification, ownerID, attempt, err)
		}

		s.logger.Debug("version conflict, retrying",
			zap.String("owner_id", ownerID), zap.Int("attempt", attempt))
		if err := sleep(ctx, time.Duration(attempt)*s.cfg.RetryBackoff); err != nil {
			return nil, err
		}
	}
}

func (s *CartService) invalidateCache(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *CartService) publish(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	event := events.NewCartEvent(cart, time.Now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish cart event failed",
			zap.String("owner_id", cart.OwnerID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.ErrInvalidOwner
	}
	return nil
}

func clone(cart *domain.Cart) (*domain.Cart, error) {
	c, err := domain.FromSnapshot(cart.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to copy cart: %w", err)
	}
	return c, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
