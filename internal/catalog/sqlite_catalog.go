package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCatalog reads products from a local SQLite file seeded by its
// migrations.
type SQLiteCatalog struct {
	db *sql.DB
}

func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection keeps ":memory:" databases shared and serialises writes
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) RunMigrations() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (c *SQLiteCatalog) Lookup(ctx context.Context, productID string) (Product, error) {
	query := `
		SELECT id, name, price_minor, discounted_price_minor, available
		FROM products
		WHERE id = ?
	`

	var (
		p          Product
		price      int64
		discounted sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ID,
		&p.Name,
		&price,
		&discounted,
		&p.Available,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}

	p.Price = money.FromMinor(price)
	if discounted.Valid {
		d := money.FromMinor(discounted.Int64)
		p.DiscountedPrice = &d
	}

	variants, err := c.variants(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	p.Variants = variants

	return p, nil
}

func (c *SQLiteCatalog) variants(ctx context.Context, productID string) ([]string, error) {
	query := `
		SELECT variant_key
		FROM product_variants
		WHERE product_id = ?
		ORDER BY position, variant_key
	`

	rows, err := c.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return variants, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
