package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":12346", cfg.ListenAddr)
	assert.Equal(t, ":12345", cfg.DiscoveryAddr)
	assert.Equal(t, uint32(10485760), cfg.MaxFrameSize)
	assert.Equal(t, 1, cfg.MinHumanPlayers)
	assert.Equal(t, 8, cfg.MaxHumanPlayers)
	assert.Equal(t, 15*time.Minute, cfg.CookieExpiry)
	assert.Equal(t, StorageMemory, cfg.StorageType)
	assert.False(t, cfg.Hostless)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("STARLANE_LISTEN_ADDR", ":7777")
	t.Setenv("STARLANE_TURN_TIMEOUT", "90s")
	t.Setenv("STARLANE_HOSTLESS", "true")
	t.Setenv("STARLANE_MAX_AI_PLAYERS", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout)
	assert.True(t, cfg.Hostless)
	assert.Equal(t, 3, cfg.MaxAIPlayers)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("STARLANE_TURN_TIMEOUT", "not-a-duration")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"human bounds inverted", func(c *Config) { c.MaxHumanPlayers = 0 }, false},
		{"ai bounds inverted", func(c *Config) { c.MinAIPlayers = 5; c.MaxAIPlayers = 2 }, false},
		{"zero frame size", func(c *Config) { c.MaxFrameSize = 0 }, false},
		{"unknown storage", func(c *Config) { c.StorageType = "postgres" }, false},
		{"zero cookie expiry", func(c *Config) { c.CookieExpiry = 0 }, false},
		{"redis storage", func(c *Config) { c.StorageType = StorageRedis }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
