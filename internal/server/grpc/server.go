package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

// OrdersService is the health service name reported for the order API.
const OrdersService = "pharmadesk.orders"

// Module exposes the gRPC health server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewHealth, NewServer),
	fx.Invoke(Run),
)

// NewHealth returns the health service; every status starts as NOT_SERVING
// until the server is started.
func NewHealth() *health.Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(OrdersService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewServer builds a gRPC server with unary/stream logging interceptors and
// the health service registered.
func NewServer(logger *zap.Logger, h *health.Server) *grpc.Server {
	unary := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)
		if err != nil {
			logger.Warn("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration), zap.Error(err))
		} else {
			logger.Debug("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration))
		}
		return resp, err
	}

	stream := func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		duration := time.Since(start)
		if err != nil {
			logger.Warn("grpc stream call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration), zap.Error(err))
		} else {
			logger.Debug("grpc stream call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration))
		}
		return err
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary),
		grpc.ChainStreamInterceptor(stream),
	)
	healthpb.RegisterHealthServer(server, h)
	return server
}

// Run binds the gRPC server to the configured host/port and manages lifecycle.
// Nothing is started when the endpoint is disabled.
func Run(lc fx.Lifecycle, cfg config.Config, server *grpc.Server, h *health.Server, logger *zap.Logger) {
	if !cfg.GRPC.Enabled {
		return
	}

	addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	var listener net.Listener

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			listener = ln
			h.Resume()
			logger.Info("starting gRPC health server", zap.String("addr", addr))
			go func() {
				if err := server.Serve(listener); err != nil {
					logger.Error("grpc server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping gRPC health server")
			h.Shutdown()
			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-ctx.Done():
				server.Stop()
				return ctx.Err()
			case <-stopped:
				if listener != nil {
					_ = listener.Close()
				}
				return nil
			}
		},
	})
}
