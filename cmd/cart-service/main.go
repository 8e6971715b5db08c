package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/fjod/go_cart/cart-core/internal/cache"
	"github.com/fjod/go_cart/cart-core/internal/catalog"
	"github.com/fjod/go_cart/cart-core/internal/config"
	"github.com/fjod/go_cart/cart-core/internal/events"
	cartgrpc "github.com/fjod/go_cart/cart-core/internal/grpc"
	"github.com/fjod/go_cart/cart-core/internal/logger"
	"github.com/fjod/go_cart/cart-core/internal/poller"
	"github.com/fjod/go_cart/cart-core/internal/repository"
	s "github.com/fjod/go_cart/cart-core/internal/service"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const idleSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cartStore, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open cart store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	var cache c.CartCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		log.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		cache = c.NewRedisCache(redisClient)
	}

	productDB, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal("failed to open catalog", zap.String("path", cfg.CatalogDBPath), zap.Error(err))
	}
	defer productDB.Close()
	if err := productDB.RunMigrations(); err != nil {
		log.Fatal("failed to migrate catalog", zap.Error(err))
	}
	products := catalog.NewBreakerCatalog(productDB, catalog.DefaultBreakerConfig(), log)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		publisher = rabbit
		log.Info("publishing cart events", zap.String("exchange", cfg.RabbitExchange))
	}
	defer publisher.Close()

	service := s.NewCartService(cartStore, cache, products, publisher, log, s.Config{
		Policy:       cfg.Policy,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: s.DefaultRetryBackoff,
	})

	if len(cfg.KafkaBrokers) > 0 {
		checkoutPoller := poller.NewPoller(service, log, cfg.CheckoutTopic, cfg.ConsumerGroup, cfg.KafkaBrokers...)
		defer checkoutPoller.Close()
		go checkoutPoller.Run(ctx)
		log.Info("checkout poller started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.CheckoutTopic))
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	grpcServer, healthServer := cartgrpc.NewServer(cartgrpc.NewCartServer(service), log)

	go func() {
		log.Info("cart service listening", zap.String("port", cfg.GRPCPort), zap.String("store", cfg.StoreBackend))
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("failed to serve", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down cart service")
	healthServer.SetServingStatus(cartgrpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	log.Info("cart service stopped")
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		mongoStore := repository.NewMongoStore(db, cfg.CartIdleTTL)
		if err := mongoStore.CreateIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(ctx)
			return nil, nil, err
		}
		log.Info("connected to MongoDB", zap.String("db", cfg.MongoDBName))
		return mongoStore, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(shutdownCtx)
		}, nil

	case config.BackendPostgres:
		pgStore, err := repository.NewPostgresStore(&repository.Credentials{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
		}, cfg.CartIdleTTL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgStore.RunMigrations(); err != nil {
			_ = pgStore.Close()
			return nil, nil, err
		}
		log.Info("connected to Postgres", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		go sweepIdle(ctx, pgStore, log)
		return pgStore, func() { _ = pgStore.Close() }, nil

	default:
		memStore := store.NewMemoryStore(cfg.CartIdleTTL)
		log.Info("using in-memory cart store")
		return memStore, func() { _ = memStore.Close() }, nil
	}
}

// sweepIdle deletes abandoned Postgres carts; Mongo expires them with a TTL
// index and the memory store reaps its own.
func sweepIdle(ctx context.Context, pgStore *repository.PostgresStore, log *zap.Logger) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := pgStore.DeleteIdle(ctx, now)
			if err != nil {
				log.Warn("idle cart sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("deleted idle carts", zap.Int64("count", n))
			}
		}
	}
}
