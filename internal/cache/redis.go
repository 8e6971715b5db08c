package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseTTL = 15 * time.Minute
	maxJitter      = 5 // minutes
)

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultBaseTTL,
	}
}

// RedisCache stores cart snapshots as JSON under "cart:<owner>". Entries
// expire after the base TTL plus up to five minutes of jitter so carts
// cached together do not all expire together.
type RedisCache struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	key := cacheKey(ownerID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap domain.Snapshot
	if err2 := json.Unmarshal(data, &snap); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}

	cart, err := domain.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("cached cart invalid: %w", err)
	}
	return cart, nil
}

func (r *RedisCache) Set(ctx context.Context, cart *domain.Cart) error {
	key := cacheKey(cart.OwnerID)
	data, err := json.Marshal(cart.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(1+rand.Intn(maxJitter)) * time.Minute
	ttl := r.baseTTL + jitter
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	key := cacheKey(ownerID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}
