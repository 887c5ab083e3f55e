package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/cmd/quire/middleware"
	"github.com/TFMV/quire/pkg/cache"
	"github.com/TFMV/quire/pkg/engine"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

// Version is reported through SqlInfo and set by build flags.
var Version = "dev"

// NewGRPCServer builds the gRPC server with the middleware chain, the Flight
// service and, when enabled, the health service.
func NewGRPCServer(
	cfg config.ServerConfig,
	srv *FlightSQLServer,
	auth *middleware.AuthMiddleware,
	collector metrics.Collector,
	logger zerolog.Logger,
) (*grpc.Server, *health.Server) {
	recoverMW := middleware.NewRecoveryMiddleware(collector, logger)
	logMW := middleware.NewLoggingMiddleware(logger)
	metricsMW := middleware.NewMetricsMiddleware(collector)

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(int(cfg.MaxMessageSize)),
		grpc.MaxSendMsgSize(int(cfg.MaxMessageSize)),
		grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			recoverMW.UnaryInterceptor(),
			logMW.UnaryInterceptor(),
			metricsMW.UnaryInterceptor(),
			auth.UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoverMW.StreamInterceptor(),
			logMW.StreamInterceptor(),
			metricsMW.StreamInterceptor(),
			auth.StreamInterceptor(),
		),
	}

	grpcServer := grpc.NewServer(opts...)
	srv.Register(grpcServer)

	var healthServer *health.Server
	if cfg.Health {
		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	}

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	return grpcServer, healthServer
}

// Run opens the engine and serves Flight SQL on cfg.Server.Address until ctx
// is cancelled, then stops gracefully within the shutdown timeout.
func Run(ctx context.Context, cfg *config.Config, collector metrics.Collector, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return Serve(ctx, listener, cfg, collector, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, listener net.Listener, cfg *config.Config, collector metrics.Collector, logger zerolog.Logger) error {
	eng, err := engine.Open(ctx, engine.Config{
		DSN:                cfg.Server.Database,
		MaxOpenConnections: cfg.Engine.MaxOpenConnections,
	}, logger)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	auth, err := middleware.NewAuthMiddleware(cfg.Server.Auth, logger)
	if err != nil {
		listener.Close()
		return err
	}

	results := cache.NewMemoryCache(cache.Config{
		MaxSize: cfg.Server.Cache.MaxSize,
		TTL:     cfg.Server.Cache.TTL,
	})

	srv, err := NewFlightSQLServer(eng, results, auth, collector, logger)
	if err != nil {
		listener.Close()
		results.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	grpcServer, healthServer := NewGRPCServer(cfg.Server, srv, auth, collector, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", listener.Addr().String()).
			Bool("auth", cfg.Server.Auth.Enabled).
			Msg("Server listening")
		serveErr <- grpcServer.Serve(listener)
	}()

	// Clients wait for SERVING, so only report it once the engine answers.
	if healthServer != nil {
		if err := eng.HealthCheck(ctx); err != nil {
			logger.Error().Err(err).Msg("Engine failed its health check")
			healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		} else {
			healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		}
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Starting graceful shutdown")
	if healthServer != nil {
		healthServer.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn().Msg("Graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
		<-stopped
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}
