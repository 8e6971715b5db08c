package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

var _ store.Store = (*PostgresStore)(nil)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName)
}

// PostgresStore keeps one row per owner with the lines as a JSONB array.
type PostgresStore struct {
	db      *sql.DB
	idleTTL time.Duration
}

func NewPostgresStore(cred *Credentials, idleTTL time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)

	if idleTTL <= 0 {
		idleTTL = store.DefaultIdleTTL
	}
	return &PostgresStore{db: db, idleTTL: idleTTL}, nil
}

func (r *PostgresStore) RunMigrations() error {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresStore) Load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	query := `SELECT id, version, items, created_at, updated_at FROM carts WHERE owner_id = $1`

	snap := domain.Snapshot{OwnerID: ownerID}
	var itemsJSON []byte
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&snap.ID,
		&snap.Version,
		&itemsJSON,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewCart(ownerID), nil
	}
	if err != nil {
		return nil, store.NewStorageError("load", ownerID, fmt.Errorf("query cart: %w", err))
	}

	if err := json.Unmarshal(itemsJSON, &snap.Items); err != nil {
		return nil, store.NewStorageError("load", ownerID, fmt.Errorf("unmarshal cart items: %w", err))
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()

	cart, err := domain.FromSnapshot(snap)
	if err != nil {
		return nil, store.NewStorageError("load", ownerID, err)
	}
	return cart, nil
}

func (r *PostgresStore) Save(ctx context.Context, cart *domain.Cart) error {
	snap := cart.Snapshot()
	itemsJSON, err := json.Marshal(snap.Items)
	if err != nil {
		return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("marshal cart items: %w", err))
	}

	id := snap.ID
	if id == "" {
		id = uuid.New().String()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	next := cart.Version + 1

	if cart.Version == 0 {
		query := `INSERT INTO carts (owner_id, id, version, items, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $5, $6)`
		_, insertErr := r.db.ExecContext(ctx, query, cart.OwnerID, id, next, itemsJSON, createdAt, updatedAt)
		if insertErr != nil {
			var pqErr *pq.Error
			if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
				return store.ErrVersionConflict
			}
			return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("insert cart: %w", insertErr))
		}
	} else {
		query := `UPDATE carts SET version = $1, items = $2, updated_at = $3
		          WHERE owner_id = $4 AND version = $5`
		res, updateErr := r.db.ExecContext(ctx, query, next, itemsJSON, updatedAt, cart.OwnerID, cart.Version)
		if updateErr != nil {
			return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("update cart: %w", updateErr))
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("rows affected: %w", err))
		}
		if affected == 0 {
			return store.ErrVersionConflict
		}
	}

	cart.ID = id
	cart.Version = next
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, ownerID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE owner_id = $1`, ownerID); err != nil {
		return store.NewStorageError("delete", ownerID, fmt.Errorf("delete cart: %w", err))
	}
	return nil
}

// DeleteIdle removes carts not updated within the idle TTL of now and returns
// how many went.
func (r *PostgresStore) DeleteIdle(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE updated_at < $1`, now.Add(-r.idleTTL))
	if err != nil {
		return 0, fmt.Errorf("delete idle carts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresStore) Close() error {
	return r.db.Close()
}
