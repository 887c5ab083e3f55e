package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Address: "127.0.0.1:0"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendEmbedded, cfg.Backend)
	assert.Equal(t, SessionPerDocument, cfg.SessionMode)
	assert.Equal(t, ":memory:", cfg.Engine.DSN)
	assert.Equal(t, 20000, cfg.External.PortMin)
	assert.Equal(t, 29999, cfg.External.PortMax)
	assert.Equal(t, "root", cfg.External.User)
	assert.Equal(t, 500*time.Millisecond, cfg.External.RestartBackoff)
	assert.Equal(t, int64(16*1024*1024), cfg.Server.MaxMessageSize)
	assert.Equal(t, 12*time.Hour, cfg.Server.Auth.JWT.TTL)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Backend = "remote" },
			errMsg: "unsupported backend",
		},
		{
			name:   "unknown session mode",
			mutate: func(c *Config) { c.SessionMode = "per-cell" },
			errMsg: "unsupported session mode",
		},
		{
			name:   "inverted port range",
			mutate: func(c *Config) { c.External.PortMin, c.External.PortMax = 30000, 20000 },
			errMsg: "invalid port range",
		},
		{
			name:   "negative restarts",
			mutate: func(c *Config) { c.External.MaxRestarts = -1 },
			errMsg: "max restarts",
		},
		{
			name:   "missing address",
			mutate: func(c *Config) { c.Server.Address = "" },
			errMsg: "address is required",
		},
		{
			name:   "auth without users",
			mutate: func(c *Config) { c.Server.Auth.Enabled = true },
			errMsg: "at least one user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)
}
