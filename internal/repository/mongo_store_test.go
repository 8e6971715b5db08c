package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongoStore(t *testing.T) (*MongoStore, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	// Start MongoDB container
	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	s := NewMongoStore(db, time.Hour)
	require.NoError(t, s.CreateIndexes(ctx))

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return s, cleanup
}

func TestMongoStore(t *testing.T) {
	s, cleanup := setupMongoStore(t)
	defer cleanup()

	// one container for all subtests, each on its own owner
	t.Run("load unknown owner returns empty cart", func(t *testing.T) {
		cart, err := s.Load(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, "nobody", cart.OwnerID)
		assert.Equal(t, int64(0), cart.Version)
		assert.True(t, cart.IsEmpty())
	})

	t.Run("save and load round trip", func(t *testing.T) {
		ctx := context.Background()
		cart := domain.NewCart("owner-rt")
		_, err := cart.AddItem("P1", "500g", 2, money.MustParse("100.00"))
		require.NoError(t, err)
		_, err = cart.AddItem("P2", "", 1, money.MustParse("49.95"))
		require.NoError(t, err)

		require.NoError(t, s.Save(ctx, cart))
		assert.Equal(t, int64(1), cart.Version)
		assert.NotEmpty(t, cart.ID)

		loaded, err := s.Load(ctx, "owner-rt")
		require.NoError(t, err)
		assert.Equal(t, cart.ID, loaded.ID)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, cart.Subtotal(), loaded.Subtotal())

		items := loaded.Items()
		require.Len(t, items, 2)
		assert.Equal(t, "P1", items[0].ProductID())
		assert.Equal(t, "500g", items[0].VariantKey())
		assert.Equal(t, 2, items[0].Quantity())
		assert.Equal(t, money.MustParse("100.00"), items[0].UnitPrice())
		// BSON dates keep millisecond precision
		assert.WithinDuration(t, cart.Items()[0].AddedAt(), items[0].AddedAt(), time.Millisecond)
	})

	t.Run("update bumps version", func(t *testing.T) {
		ctx := context.Background()
		cart := domain.NewCart("owner-up")
		require.NoError(t, s.Save(ctx, cart))

		loaded, err := s.Load(ctx, "owner-up")
		require.NoError(t, err)
		_, err = loaded.AddItem("P1", "", 3, money.FromMajor(10))
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		again, err := s.Load(ctx, "owner-up")
		require.NoError(t, err)
		assert.Equal(t, 3, again.ItemCount())
		assert.Equal(t, cart.ID, again.ID)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, domain.NewCart("owner-cf")))

		a, err := s.Load(ctx, "owner-cf")
		require.NoError(t, err)
		b, err := s.Load(ctx, "owner-cf")
		require.NoError(t, err)

		require.NoError(t, s.Save(ctx, a))
		assert.ErrorIs(t, s.Save(ctx, b), store.ErrVersionConflict)
	})

	t.Run("concurrent first save conflicts", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, domain.NewCart("owner-dup")))
		assert.ErrorIs(t, s.Save(ctx, domain.NewCart("owner-dup")), store.ErrVersionConflict)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, domain.NewCart("owner-del")))
		require.NoError(t, s.Delete(ctx, "owner-del"))
		require.NoError(t, s.Delete(ctx, "owner-del"))

		cart, err := s.Load(ctx, "owner-del")
		require.NoError(t, err)
		assert.Equal(t, int64(0), cart.Version)
	})

	t.Run("cancelled context is a storage error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Load(ctx, "owner-x")
		var storageErr *store.StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "load", storageErr.Op)
	})
}
