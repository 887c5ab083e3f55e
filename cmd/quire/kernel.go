package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/pkg/channel"
	"github.com/TFMV/quire/pkg/channel/embedded"
	"github.com/TFMV/quire/pkg/channel/external"
	"github.com/TFMV/quire/pkg/coordinator"
	"github.com/TFMV/quire/pkg/engine"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/registry"
)

// newKernel wires the coordinator over a registry whose backend is chosen
// once from cfg. Resets are announced on w.
func newKernel(cfg *config.Config, w io.Writer, collector metrics.Collector, logger zerolog.Logger) *coordinator.Coordinator {
	reg := registry.New(registry.Config{
		Mode:    cfg.SessionMode,
		Factory: channelFactory(cfg, collector, logger),
	}, collector, logger)

	notifier := coordinator.NotifierFunc(func(key registry.Key) {
		logger.Warn().Str("key", string(key)).Msg("Session reset after backend fault")
		fmt.Fprintf(w, "-- session %s was reset; earlier tables and settings are gone\n", key)
	})

	logger.Info().
		Str("backend", cfg.Backend).
		Str("session_mode", cfg.SessionMode).
		Msg("Kernel ready")
	return coordinator.New(reg, notifier, collector, logger)
}

func channelFactory(cfg *config.Config, collector metrics.Collector, logger zerolog.Logger) channel.Factory {
	if cfg.Backend == config.BackendExternal {
		return external.NewFactory(external.Config{
			Executable:     cfg.External.Executable,
			Host:           cfg.External.Host,
			PortMin:        cfg.External.PortMin,
			PortMax:        cfg.External.PortMax,
			User:           cfg.External.User,
			Password:       cfg.External.Password,
			LogLevel:       cfg.External.ServerLogLevel,
			MaxRestarts:    cfg.External.MaxRestarts,
			RestartBackoff: cfg.External.RestartBackoff,
			ShutdownGrace:  cfg.External.ShutdownGrace,
		}, collector, logger)
	}

	return embedded.NewFactory(embedded.DuckDB(engine.Config{
		DSN:                cfg.Engine.DSN,
		MaxOpenConnections: cfg.Engine.MaxOpenConnections,
	}), logger)
}
