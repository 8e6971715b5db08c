package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/config"
	cartgrpc "github.com/fjod/go_cart/cart-core/internal/grpc"
	h "github.com/fjod/go_cart/cart-core/internal/http"
	"github.com/fjod/go_cart/cart-core/internal/logger"
	"go.uber.org/zap"
)

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

	// Set up gRPC connection to Cart Service
	cartServiceConn, err := cartgrpc.Dial(cfg.CartServiceAddr)
	if err != nil {
		log.Fatal("failed to connect to cart service", zap.String("addr", cfg.CartServiceAddr), zap.Error(err))
	}
	defer cartServiceConn.Close()

	cartClient := cartgrpc.NewCartServiceClient(cartServiceConn)
	cartHandler := h.NewCartHandler(cartClient, cfg.RequestTimeout, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(cartHandler, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("API gateway starting", zap.String("port", cfg.HTTPPort), zap.String("cart_service", cfg.CartServiceAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
