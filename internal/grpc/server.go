package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewServer builds a gRPC server with the cart service, health checks and
// reflection registered. The health server starts out SERVING.
func NewServer(cartServer CartServiceServer, log *zap.Logger) (*gogrpc.Server, *health.Server) {
	srv := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(loggingInterceptor(log)),
	)
	RegisterCartServiceServer(srv, cartServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(srv)
	return srv, healthServer
}

// Dial opens a client connection to cart-service. Connecting is lazy.
func Dial(target string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	opts = append([]gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := gogrpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart service client: %w", err)
	}
	return conn, nil
}

func loggingInterceptor(log *zap.Logger) gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		l := logger.WithTrace(ctx, log)
		if err != nil {
			l.Warn("grpc request failed", append(fields, zap.Error(err))...)
		} else {
			l.Debug("grpc request", fields...)
		}
		return resp, err
	}
}
