// Package config provides configuration structures for the quire kernel and
// its query server.
package config

import (
	"fmt"
	"time"
)

// Backend kinds.
const (
	BackendEmbedded = "embedded"
	BackendExternal = "external"
)

// Session addressing modes.
const (
	SessionPerDocument = "per-document"
	SessionShared      = "shared"
)

// Config represents the kernel configuration. It is read once at startup.
type Config struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	Backend     string `yaml:"backend" json:"backend"`
	SessionMode string `yaml:"session_mode" json:"session_mode"`

	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	External ExternalConfig `yaml:"external" json:"external"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// EngineConfig configures the DuckDB engine hosted by either backend.
type EngineConfig struct {
	DSN                string `yaml:"dsn" json:"dsn"`
	MaxOpenConnections int    `yaml:"max_open_connections" json:"max_open_connections"`
}

// ExternalConfig configures the out-of-process backend.
type ExternalConfig struct {
	Executable     string        `yaml:"executable" json:"executable"`
	Host           string        `yaml:"host" json:"host"`
	PortMin        int           `yaml:"port_min" json:"port_min"`
	PortMax        int           `yaml:"port_max" json:"port_max"`
	User           string        `yaml:"user" json:"user"`
	Password       string        `yaml:"password" json:"password"`
	MaxRestarts    int           `yaml:"max_restarts" json:"max_restarts"`
	RestartBackoff time.Duration `yaml:"restart_backoff" json:"restart_backoff"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
	ServerLogLevel string        `yaml:"server_log_level" json:"server_log_level"`
}

// ServerConfig represents the Flight SQL server configuration.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	Database        string        `yaml:"database" json:"database"`
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"`
	MaxMessageSize  int64         `yaml:"max_message_size" json:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Health          bool          `yaml:"health" json:"health"`
	Reflection      bool          `yaml:"reflection" json:"reflection"`

	Auth  AuthConfig  `yaml:"auth" json:"auth"`
	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// AuthConfig represents authentication configuration. Clients log in through
// the Flight handshake and then present a JWT bearer token.
type AuthConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Users   map[string]string `yaml:"users" json:"users"` // user -> password
	JWT     JWTAuthConfig     `yaml:"jwt" json:"jwt"`
}

// JWTAuthConfig represents session token configuration. An empty secret is
// replaced by a random one at startup.
type JWTAuthConfig struct {
	Secret string        `yaml:"secret" json:"secret"`
	Issuer string        `yaml:"issuer" json:"issuer"`
	TTL    time.Duration `yaml:"ttl" json:"ttl"`
}

// CacheConfig bounds results held between GetFlightInfo and DoGet.
type CacheConfig struct {
	MaxSize int64         `yaml:"max_size" json:"max_size"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	switch c.Backend {
	case "":
		c.Backend = def.Backend
	case BackendEmbedded, BackendExternal:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}

	switch c.SessionMode {
	case "":
		c.SessionMode = def.SessionMode
	case SessionPerDocument, SessionShared:
	default:
		return fmt.Errorf("unsupported session mode: %s", c.SessionMode)
	}

	if c.Engine.DSN == "" {
		c.Engine.DSN = def.Engine.DSN
	}

	if err := c.External.validate(def.External); err != nil {
		return err
	}
	if err := c.Server.validate(def.Server); err != nil {
		return err
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = def.Metrics.Address
	}

	return nil
}

func (e *ExternalConfig) validate(def ExternalConfig) error {
	if e.Executable == "" {
		e.Executable = def.Executable
	}
	if e.Host == "" {
		e.Host = def.Host
	}
	if e.PortMin <= 0 {
		e.PortMin = def.PortMin
	}
	if e.PortMax <= 0 {
		e.PortMax = def.PortMax
	}
	if e.PortMin > e.PortMax || e.PortMax > 65535 {
		return fmt.Errorf("invalid port range %d-%d", e.PortMin, e.PortMax)
	}
	if e.User == "" {
		e.User = def.User
	}
	if e.Password == "" {
		e.Password = def.Password
	}
	if e.MaxRestarts < 0 {
		return fmt.Errorf("max restarts must not be negative")
	}
	if e.RestartBackoff <= 0 {
		e.RestartBackoff = def.RestartBackoff
	}
	if e.ShutdownGrace <= 0 {
		e.ShutdownGrace = def.ShutdownGrace
	}
	if e.ServerLogLevel == "" {
		e.ServerLogLevel = def.ServerLogLevel
	}
	return nil
}

func (s *ServerConfig) validate(def ServerConfig) error {
	if s.Address == "" {
		return fmt.Errorf("address is required")
	}
	if s.Database == "" {
		s.Database = def.Database
	}
	if s.MaxConnections <= 0 {
		s.MaxConnections = def.MaxConnections
	}
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = def.MaxMessageSize
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = def.ShutdownTimeout
	}
	if s.Auth.Enabled && len(s.Auth.Users) == 0 {
		return fmt.Errorf("auth requires at least one user")
	}
	if s.Auth.JWT.Issuer == "" {
		s.Auth.JWT.Issuer = def.Auth.JWT.Issuer
	}
	if s.Auth.JWT.TTL <= 0 {
		s.Auth.JWT.TTL = def.Auth.JWT.TTL
	}
	if s.Cache.MaxSize <= 0 {
		s.Cache.MaxSize = def.Cache.MaxSize
	}
	if s.Cache.TTL <= 0 {
		s.Cache.TTL = def.Cache.TTL
	}
	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		Backend:     BackendEmbedded,
		SessionMode: SessionPerDocument,
		Engine: EngineConfig{
			DSN:                ":memory:",
			MaxOpenConnections: 2,
		},
		External: ExternalConfig{
			Executable:     "quire",
			Host:           "127.0.0.1",
			PortMin:        20000,
			PortMax:        29999,
			User:           "root",
			Password:       "root",
			MaxRestarts:    5,
			RestartBackoff: 500 * time.Millisecond,
			ShutdownGrace:  5 * time.Second,
			ServerLogLevel: "info",
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:32010",
			Database:        ":memory:",
			MaxConnections:  100,
			MaxMessageSize:  16 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
			Health:          true,
			Reflection:      false,
			Auth: AuthConfig{
				Enabled: false,
				JWT: JWTAuthConfig{
					Issuer: "quire",
					TTL:    12 * time.Hour,
				},
			},
			Cache: CacheConfig{
				MaxSize: 256 * 1024 * 1024,
				TTL:     5 * time.Minute,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}
