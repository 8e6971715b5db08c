// Package config reads both binaries' settings from the environment, with an
// optional .env file filling in anything unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/fjod/go_cart/cart-core/internal/pricing"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv string

	GRPCPort        string
	HTTPPort        string
	CartServiceAddr string

	StoreBackend string
	MongoURI     string
	MongoDBName  string
	DBHost       string
	DBPort       int
	DBUser       string
	DBPassword   string
	DBName       string
	CartIdleTTL  time.Duration

	RedisAddr     string
	RedisPassword string

	// KafkaBrokers is empty when the checkout poller is disabled.
	KafkaBrokers  []string
	CheckoutTopic string
	ConsumerGroup string

	// RabbitURL is empty when cart events are not published.
	RabbitURL      string
	RabbitExchange string

	CatalogDBPath string

	Policy          pricing.Policy
	MaxAttempts     int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only. Malformed
// values are errors; unset ones take defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		GRPCPort:        getEnv("CART_SERVICE_PORT", "50052"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		CartServiceAddr: getEnv("CART_SERVICE_ADDR", "localhost:50052"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "cartdb"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "cartdb"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		CheckoutTopic:   getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
		ConsumerGroup:   getEnv("KAFKA_GROUP_ID", "cart-service-consumer"),
		RabbitURL:       getEnv("RABBIT_URL", ""),
		RabbitExchange:  getEnv("RABBIT_EXCHANGE", "cart_events"),
		CatalogDBPath:   getEnv("CATALOG_DB_PATH", "catalog.db"),
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendMongo, BackendPostgres:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want memory, mongo or postgres", cfg.StoreBackend)
	}

	var err error
	if cfg.DBPort, err = intEnv("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = intEnv("CART_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.CartIdleTTL, err = durationEnv("CART_IDLE_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Policy, err = policyFromEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func policyFromEnv() (pricing.Policy, error) {
	p := pricing.DefaultPolicy()

	if v := os.Getenv("FREE_DELIVERY_THRESHOLD"); v != "" {
		m, err := money.Parse(v)
		if err != nil {
			return p, fmt.Errorf("invalid FREE_DELIVERY_THRESHOLD: %w", err)
		}
		p.FreeDeliveryThreshold = m
	}
	if v := os.Getenv("FLAT_DELIVERY_FEE"); v != "" {
		m, err := money.Parse(v)
		if err != nil {
			return p, fmt.Errorf("invalid FLAT_DELIVERY_FEE: %w", err)
		}
		p.FlatDeliveryFee = m
	}
	if v := os.Getenv("TAX_RATE"); v != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return p, fmt.Errorf("invalid TAX_RATE %q: %w", v, err)
		}
		p.TaxRate = d
	}
	if v := os.Getenv("TAX_ROUNDING"); v != "" {
		g, err := money.ParseGranularity(v)
		if err != nil {
			return p, fmt.Errorf("invalid TAX_ROUNDING: %w", err)
		}
		p.TaxRounding = g
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 30s or 720h", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
