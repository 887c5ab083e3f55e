// Package main provides the quire command: a supervised notebook query kernel
// and the Flight SQL server it can run queries against.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/pkg/render"
	"github.com/TFMV/quire/pkg/server"
)

var (
	// Version information (set by build flags)
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "quire",
	Short: "Supervised notebook query kernel",
	Long: `quire runs notebook cells against DuckDB, either in process or through a
supervised Flight SQL server, and recovers from backend crashes.`,
	SilenceUsage: true,
}

func init() {
	defaults := config.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	flags.String("backend", defaults.Backend, "query backend (embedded, external)")
	flags.String("session-mode", defaults.SessionMode, "session addressing (per-document, shared)")
	flags.String("engine-dsn", defaults.Engine.DSN, "DuckDB database for the embedded backend")
	flags.String("server-executable", "", "query server binary for the external backend (default: this binary)")
	flags.Int("port-min", defaults.External.PortMin, "lowest port for spawned query servers")
	flags.Int("port-max", defaults.External.PortMax, "highest port for spawned query servers")
	flags.Int("max-restarts", defaults.External.MaxRestarts, "consecutive query server restarts before giving up")
	flags.Duration("restart-backoff", defaults.External.RestartBackoff, "backoff between query server restarts")
	flags.Bool("metrics", defaults.Metrics.Enabled, "enable Prometheus metrics")
	flags.String("metrics-address", defaults.Metrics.Address, "metrics server address")
	flags.String("format", render.FormatTable, "output format (table, json, csv, markdown)")

	rootCmd.AddCommand(serveCmd, runCmd, replCmd)

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
	viper.SetEnvPrefix("QUIRE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quire\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", server.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.LogLevel = viper.GetString("log-level")
	cfg.Backend = viper.GetString("backend")
	cfg.SessionMode = viper.GetString("session-mode")
	cfg.Engine.DSN = viper.GetString("engine-dsn")

	cfg.External.Executable = viper.GetString("server-executable")
	if cfg.External.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.External.Executable = exe
		}
	}
	cfg.External.PortMin = viper.GetInt("port-min")
	cfg.External.PortMax = viper.GetInt("port-max")
	cfg.External.MaxRestarts = viper.GetInt("max-restarts")
	cfg.External.RestartBackoff = viper.GetDuration("restart-backoff")
	cfg.External.ServerLogLevel = cfg.LogLevel

	cfg.Server.Address = viper.GetString("address")
	cfg.Server.Database = viper.GetString("database")
	cfg.Server.MaxConnections = viper.GetInt("max-connections")
	cfg.Server.MaxMessageSize = viper.GetInt64("max-message-size")
	cfg.Server.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.Server.Health = viper.GetBool("health")
	cfg.Server.Reflection = viper.GetBool("reflection")
	cfg.Server.Auth.Enabled = viper.GetBool("auth")
	if cfg.Server.Auth.Enabled {
		cfg.Server.Auth.Users = map[string]string{
			viper.GetString("user"): viper.GetString("password"),
		}
	}
	cfg.Server.Auth.JWT.Secret = viper.GetString("jwt-secret")
	cfg.Server.Cache.MaxSize = viper.GetInt64("cache-size")
	cfg.Server.Cache.TTL = viper.GetDuration("cache-ttl")

	cfg.Metrics.Enabled = viper.GetBool("metrics")
	cfg.Metrics.Address = viper.GetString("metrics-address")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	if logLevel == zerolog.DebugLevel {
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if file[i] == '/' {
					short = file[i+1:]
					break
				}
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	}

	// Cell output owns stdout.
	logger := zerolog.New(os.Stderr).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "quire")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}
