package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/pkg/channel"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, config.BackendEmbedded, cfg.Backend)
	assert.Equal(t, config.SessionPerDocument, cfg.SessionMode)
	assert.NotEmpty(t, cfg.External.Executable)
	assert.False(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, config.DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoadConfigOverrides(t *testing.T) {
	viper.Set("backend", config.BackendExternal)
	viper.Set("session-mode", config.SessionShared)
	viper.Set("auth", true)
	t.Cleanup(func() {
		viper.Set("backend", config.BackendEmbedded)
		viper.Set("session-mode", config.SessionPerDocument)
		viper.Set("auth", false)
	})

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendExternal, cfg.Backend)
	assert.Equal(t, config.SessionShared, cfg.SessionMode)
	assert.Equal(t, map[string]string{"root": "root"}, cfg.Server.Auth.Users)
}

func TestChannelFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, channel.BackendEmbedded, channelFactory(cfg, nil, zerolog.Nop())().Kind())

	cfg.Backend = config.BackendExternal
	assert.Equal(t, channel.BackendExternal, channelFactory(cfg, nil, zerolog.Nop())().Kind())
}

func TestKernelRunsCells(t *testing.T) {
	var notices bytes.Buffer
	kernel := newKernel(config.DefaultConfig(), &notices, nil, zerolog.Nop())
	defer kernel.Close(context.Background())

	ctx := context.Background()
	outputs := kernel.ExecuteBatch(ctx, "doc", []string{
		"CREATE TABLE person(name VARCHAR); INSERT INTO person VALUES ('a');",
		"SELECT * FROM person;",
	})
	require.Len(t, outputs, 2)
	for _, out := range outputs {
		require.False(t, out.IsError(), out.Message)
	}
	assert.Empty(t, notices.String())
}
