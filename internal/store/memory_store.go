package store

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/google/uuid"
)

const (
	// DefaultIdleTTL is how long an untouched cart is kept
	DefaultIdleTTL = 30 * 24 * time.Hour

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = time.Minute
)

type memoryEntry struct {
	snapshot domain.Snapshot
	touched  time.Time
}

// MemoryStore implements Store with in-memory storage
type MemoryStore struct {
	mu      sync.RWMutex
	carts   map[string]*memoryEntry // ownerID -> last saved cart
	idleTTL time.Duration

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates a store that forgets carts idle longer than idleTTL.
// A non-positive idleTTL uses DefaultIdleTTL.
func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	s := &MemoryStore{
		carts:       make(map[string]*memoryEntry),
		idleTTL:     idleTTL,
		stopCleanup: make(chan struct{}),
	}

	// Start background cleanup goroutine
	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically drops idle carts
func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reapIdle(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) reapIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for owner, entry := range s.carts {
		if now.Sub(entry.touched) > s.idleTTL {
			delete(s.carts, owner)
			reaped++
		}
	}
	return reaped
}

func (s *MemoryStore) Load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", ownerID, err)
	}

	s.mu.RLock()
	entry, exists := s.carts[ownerID]
	var snap domain.Snapshot
	if exists {
		snap = entry.snapshot
	}
	s.mu.RUnlock()

	if !exists {
		return domain.NewCart(ownerID), nil
	}
	cart, err := domain.FromSnapshot(snap)
	if err != nil {
		return nil, NewStorageError("load", ownerID, err)
	}
	return cart, nil
}

func (s *MemoryStore) Save(ctx context.Context, cart *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", cart.OwnerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	entry, exists := s.carts[cart.OwnerID]
	if exists {
		current = entry.snapshot.Version
	}
	if current != cart.Version {
		return ErrVersionConflict
	}

	if cart.ID == "" {
		cart.ID = uuid.New().String()
	}
	cart.Version++

	// Snapshot copies the item slice, so later mutations of cart are not
	// visible here.
	s.carts[cart.OwnerID] = &memoryEntry{
		snapshot: cart.Snapshot(),
		touched:  time.Now(),
	}
	return nil
}

// Delete is idempotent.
func (s *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("delete", ownerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, ownerID)
	return nil
}

// Len reports how many carts are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts)
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
