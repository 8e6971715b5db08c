package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
	}
}

// BreakerCatalog fails fast with ErrCatalogUnavailable while the wrapped
// catalog keeps erroring. Unknown products are a normal answer and never
// count as failures.
type BreakerCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[Product]
}

func NewBreakerCatalog(next Catalog, cfg BreakerConfig, logger *zap.Logger) *BreakerCatalog {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}

	settings := gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrProductNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BreakerCatalog{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[Product](settings),
	}
}

func (b *BreakerCatalog) Lookup(ctx context.Context, productID string) (Product, error) {
	p, err := b.cb.Execute(func() (Product, error) {
		return b.next.Lookup(ctx, productID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return p, err
}

// State is exposed for health reporting.
func (b *BreakerCatalog) State() gobreaker.State {
	return b.cb.State()
}
