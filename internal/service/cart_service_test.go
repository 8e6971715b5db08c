package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/cache"
	"github.com/fjod/go_cart/cart-core/internal/catalog"
	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/events"
	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[ownerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.carts[cart.OwnerID] = cart
	return nil
}

func (m *mockCache) Delete(_ context.Context, ownerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, ownerID)
	return m.err
}

func (m *mockCache) has(ownerID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[ownerID]
	return ok
}

type mockCatalog struct {
	products map[string]catalog.Product
	err      error
	calls    atomic.Int32
}

func (m *mockCatalog) Lookup(_ context.Context, productID string) (catalog.Product, error) {
	m.calls.Add(1)
	if m.err != nil {
		return catalog.Product{}, m.err
	}
	p, ok := m.products[productID]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.CartEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.CartEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) all() []events.CartEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.CartEvent(nil), r.events...)
}

// conflictingStore reports a version conflict for the first n saves.
type conflictingStore struct {
	store.Store
	remaining atomic.Int32
	saves     atomic.Int32
}

func (c *conflictingStore) Save(ctx context.Context, cart *domain.Cart) error {
	c.saves.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return store.ErrVersionConflict
	}
	return c.Store.Save(ctx, cart)
}

// blockingStore holds every Load until release is closed.
type blockingStore struct {
	store.Store
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func newBlockingStore(next store.Store) *blockingStore {
	return &blockingStore{Store: next, started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingStore) Load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Store.Load(ctx, ownerID)
}

type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) Save(_ context.Context, cart *domain.Cart) error {
	return store.NewStorageError("save", cart.OwnerID, f.err)
}

func discounted(m money.Money) *money.Money { return &m }

func testCatalog() *mockCatalog {
	return &mockCatalog{products: map[string]catalog.Product{
		"P1": {ID: "P1", Name: "Rice", Price: money.FromMajor(100), Available: true, Variants: []string{"500g", "1kg"}},
		"P2": {ID: "P2", Name: "Oil", Price: money.FromMajor(180), DiscountedPrice: discounted(money.FromMajor(165)), Available: true},
		"P3": {ID: "P3", Name: "Honey", Price: money.FromMajor(350), Available: false},
	}}
}

type fixture struct {
	svc       *CartService
	store     *store.MemoryStore
	cache     *mockCache
	catalog   *mockCatalog
	publisher *recordingPublisher
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:     st,
		cache:     newMockCache(),
		catalog:   testCatalog(),
		publisher: &recordingPublisher{},
	}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	f.svc = NewCartService(st, f.cache, f.catalog, f.publisher, zap.NewNop(), cfg)
	return f
}

func TestGetCart_EmptyForNewOwner(t *testing.T) {
	f := setupService(t)

	cart, err := f.svc.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, int64(0), cart.Version)
	assert.False(t, f.cache.has("user-1"), "unsaved cart is not cached")
}

func TestGetCart_InvalidOwner(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.GetCart(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestGetCart_PopulatesAndUsesCache(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "user-1", "P1", "500g", 2)
	require.NoError(t, err)
	assert.False(t, f.cache.has("user-1"), "save invalidates")

	cart, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cart.ItemCount())
	assert.True(t, f.cache.has("user-1"))

	// a cached cart is served without touching the store
	require.NoError(t, f.store.Delete(ctx, "user-1"))
	cached, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cached.ItemCount())
}

func TestGetCart_ReturnsIndependentCopies(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)

	a, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	a.Clear()

	b, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.ItemCount())
}

func TestGetCart_CacheErrorFallsBackToStore(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", 3)
	require.NoError(t, err)

	f.cache.err = errors.New("redis down")

	cart, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cart.ItemCount())
}

func TestAddItem_UsesEffectivePriceAndMerges(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)
	item, ok := cart.Item("P2", "")
	require.True(t, ok)
	assert.Equal(t, money.FromMajor(165), item.UnitPrice())

	// price change after add does not touch the existing line
	p := f.catalog.products["P2"]
	p.DiscountedPrice = nil
	f.catalog.products["P2"] = p

	cart, err = f.svc.AddItem(ctx, "user-1", "P2", "", 2)
	require.NoError(t, err)
	item, ok = cart.Item("P2", "")
	require.True(t, ok)
	assert.Equal(t, 3, item.Quantity())
	assert.Equal(t, money.FromMajor(165), item.UnitPrice())
	assert.Equal(t, int64(2), cart.Version)
}

func TestAddItem_Validation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "user-1", "P1", "500g", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.svc.AddItem(ctx, "user-1", "", "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)

	_, err = f.svc.AddItem(ctx, "", "P1", "500g", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)

	assert.Equal(t, int32(0), f.catalog.calls.Load(), "invalid input never reaches the catalog")

	_, err = f.svc.AddItem(ctx, "user-1", "nope", "", 1)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = f.svc.AddItem(ctx, "user-1", "P3", "", 1)
	assert.ErrorIs(t, err, ErrProductUnavailable)

	_, err = f.svc.AddItem(ctx, "user-1", "P1", "2kg", 1)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = f.svc.AddItem(ctx, "user-1", "P1", "", 1)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	cart, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Empty(t, f.publisher.all())
}

func TestUpdateQuantity(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P1", "1kg", 1)
	require.NoError(t, err)

	cart, err := f.svc.UpdateQuantity(ctx, "user-1", "P1", "1kg", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.ItemCount())

	cart, err = f.svc.UpdateQuantity(ctx, "user-1", "P1", "1kg", 0)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, int64(3), cart.Version)
}

func TestUpdateQuantity_MissingLineDoesNotSave(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P1", "1kg", 1)
	require.NoError(t, err)
	before := len(f.publisher.all())

	cart, err := f.svc.UpdateQuantity(ctx, "user-1", "P1", "500g", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cart.Version)
	assert.Len(t, f.publisher.all(), before)
}

func TestRemoveItem_Idempotent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P1", "500g", 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)

	once, err := f.svc.RemoveItem(ctx, "user-1", "P1", "500g")
	require.NoError(t, err)
	twice, err := f.svc.RemoveItem(ctx, "user-1", "P1", "500g")
	require.NoError(t, err)

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestRemoveProduct(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P1", "500g", 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, "user-1", "P1", "1kg", 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)

	cart, err := f.svc.RemoveProduct(ctx, "user-1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Len())
}

func TestClearCart(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", 2)
	require.NoError(t, err)

	cart, err := f.svc.ClearCart(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	evs := f.publisher.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeCartUpdated, evs[0].Type)
	assert.Equal(t, events.TypeCartCleared, evs[1].Type)

	// clearing an empty cart saves nothing
	again, err := f.svc.ClearCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, cart.Version, again.Version)
	assert.Len(t, f.publisher.all(), 2)
}

func TestSummary(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, summary, err := f.svc.Summary(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, summary.IsEmpty)
	assert.True(t, summary.Charges.Total.IsZero())

	// 3 x 150.00 = 450.00 -> tax 23, delivery 50
	f.catalog.products["P4"] = catalog.Product{ID: "P4", Price: money.FromMajor(150), Available: true}
	_, err = f.svc.AddItem(ctx, "user-1", "P4", "", 3)
	require.NoError(t, err)

	cart, summary, err := f.svc.Summary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cart.ItemCount())
	assert.Equal(t, 3, summary.ItemCount)
	assert.Equal(t, money.FromMajor(523), summary.Charges.Total)
}

func TestDeleteCart(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", 2)
	require.NoError(t, err)
	_, err = f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, f.cache.has("user-1"))

	require.NoError(t, f.svc.DeleteCart(ctx, "user-1"))
	assert.False(t, f.cache.has("user-1"))

	cart, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, int64(0), cart.Version)
}

func TestMutate_RetriesOnConflict(t *testing.T) {
	base := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { base.Close() })
	cs := &conflictingStore{Store: base}
	cs.remaining.Store(2)

	svc := NewCartService(cs, nil, testCatalog(), nil, zap.NewNop(), Config{
		Policy:       DefaultConfig().Policy,
		MaxAttempts:  5,
		RetryBackoff: time.Millisecond,
	})

	cart, err := svc.AddItem(context.Background(), "user-1", "P2", "", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cart.Version)
	assert.Equal(t, int32(3), cs.saves.Load())
}

func TestMutate_GivesUpAfterMaxAttempts(t *testing.T) {
	base := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { base.Close() })
	cs := &conflictingStore{Store: base}
	cs.remaining.Store(100)

	svc := NewCartService(cs, nil, testCatalog(), nil, zap.NewNop(), Config{
		Policy:      DefaultConfig().Policy,
		MaxAttempts: 3,
	})

	_, err := svc.AddItem(context.Background(), "user-1", "P2", "", 1)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Equal(t, int32(3), cs.saves.Load())
}

func TestMutate_StorageErrorPropagates(t *testing.T) {
	base := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { base.Close() })
	cause := errors.New("connection reset")
	pub := &recordingPublisher{}

	svc := NewCartService(&failingStore{Store: base, err: cause}, nil, testCatalog(), pub, zap.NewNop(), DefaultConfig())

	_, err := svc.AddItem(context.Background(), "user-1", "P2", "", 1)
	var storageErr *store.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, pub.all(), "failed save publishes nothing")
}

func TestMutate_PublishFailureDoesNotFailMutation(t *testing.T) {
	f := setupService(t)
	f.publisher.err = errors.New("broker down")

	cart, err := f.svc.AddItem(context.Background(), "user-1", "P2", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cart.ItemCount())
}

func TestConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	st := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { st.Close() })
	svc := NewCartService(st, newMockCache(), testCatalog(), nil, zap.NewNop(), Config{
		Policy:       DefaultConfig().Policy,
		MaxAttempts:  1000,
		RetryBackoff: 0,
	})
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddItem(ctx, "user-1", "P2", "", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cart, err := st.Load(ctx, "user-1")
	require.NoError(t, err)
	item, ok := cart.Item("P2", "")
	require.True(t, ok)
	assert.Equal(t, workers, item.Quantity())
	assert.Equal(t, int64(workers), cart.Version)
}

func TestGetCart_SingleflightSharesLoad(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cart, err := f.svc.GetCart(ctx, "user-1")
			assert.NoError(t, err)
			assert.Equal(t, 1, cart.ItemCount())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return f.cache.has("user-1") }, time.Second, 10*time.Millisecond)
}

func TestGetCart_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	mem := store.NewMemoryStore(time.Hour)
	t.Cleanup(func() { mem.Close() })
	blocking := newBlockingStore(mem)
	svc := NewCartService(blocking, newMockCache(), testCatalog(), nil, zap.NewNop(), DefaultConfig())

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetCart(first, "user-1")
		firstErr <- err
	}()
	<-blocking.started

	type result struct {
		cart *domain.Cart
		err  error
	}
	second := make(chan result, 1)
	go func() {
		cart, err := svc.GetCart(context.Background(), "user-1")
		second <- result{cart, err}
	}()
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(blocking.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, "user-1", res.cart.OwnerID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestAddItem_QuantityCannotOverflow(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "user-1", "P2", "", domain.MaxQuantity)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	cart, err := f.svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	item, ok := cart.Item("P2", "")
	require.True(t, ok)
	assert.Equal(t, domain.MaxQuantity, item.Quantity())
}

func TestProductNames(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, "user-1", "P1", "500g", 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, "user-1", "P1", "1kg", 1)
	require.NoError(t, err)
	cart, err := f.svc.AddItem(ctx, "user-1", "P2", "", 2)
	require.NoError(t, err)

	f.catalog.calls.Store(0)
	names := f.svc.ProductNames(ctx, cart)
	assert.Equal(t, map[string]string{"P1": "Rice", "P2": "Oil"}, names)
	assert.Equal(t, int32(2), f.catalog.calls.Load())
}

func TestProductNames_CatalogDownLeavesNamesEmpty(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	cart, err := f.svc.AddItem(ctx, "user-1", "P2", "", 1)
	require.NoError(t, err)

	f.catalog.err = errors.New("catalog unreachable")
	names := f.svc.ProductNames(ctx, cart)
	assert.Equal(t, "", names["P2"])

	item, ok := cart.Item("P2", "")
	require.True(t, ok)
	assert.Equal(t, money.FromMajor(165), item.UnitPrice())
}
