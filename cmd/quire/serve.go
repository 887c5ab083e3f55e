package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Flight SQL query server",
	Long: `Start a Flight SQL server backed by DuckDB. The external backend spawns
this command on a loopback port for every session.

Example:
  quire serve --address 127.0.0.1:32010 --database :memory:
  quire serve --auth --user root --password root`,
	RunE: runServe,
}

func init() {
	defaults := config.DefaultConfig()

	flags := serveCmd.Flags()
	flags.String("address", defaults.Server.Address, "server listen address")
	flags.String("database", defaults.Server.Database, "DuckDB database path")
	flags.Bool("auth", false, "require a handshake login")
	flags.String("user", defaults.External.User, "login user when --auth is set")
	flags.String("password", defaults.External.Password, "login password when --auth is set")
	flags.String("jwt-secret", "", "session token signing secret (default: random)")
	flags.Bool("health", defaults.Server.Health, "enable health checks")
	flags.Bool("reflection", defaults.Server.Reflection, "enable gRPC reflection")
	flags.Int("max-connections", defaults.Server.MaxConnections, "maximum concurrent streams")
	flags.Int64("max-message-size", defaults.Server.MaxMessageSize, "maximum message size in bytes")
	flags.Duration("shutdown-timeout", defaults.Server.ShutdownTimeout, "graceful shutdown timeout")
	flags.Int64("cache-size", defaults.Server.Cache.MaxSize, "maximum bytes of results held between GetFlightInfo and DoGet")
	flags.Duration("cache-ttl", defaults.Server.Cache.TTL, "lifetime of an unclaimed result")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogging(cfg.LogLevel)
	logger.Info().
		Str("version", server.Version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting quire query server")

	collector, stopMetrics := startMetrics(cfg.Metrics, logger)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, collector, logger); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}

// startMetrics returns the collector for cfg and a function stopping its HTTP
// endpoint.
func startMetrics(cfg config.MetricsConfig, logger zerolog.Logger) (metrics.Collector, func()) {
	if !cfg.Enabled {
		return metrics.NewNoOpCollector(), func() {}
	}

	collector := metrics.NewPrometheusCollector()
	metricsServer := metrics.NewMetricsServer(cfg.Address)
	go func() {
		logger.Info().Str("address", cfg.Address).Msg("Starting metrics server")
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
		}
	}()

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
}
