package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backend identifiers
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config holds every tunable the orchestration layer consumes. Values come
// from the environment; cobra flags may override them afterwards.
type Config struct {
	// Network
	ListenAddr    string `env:"STARLANE_LISTEN_ADDR" envDefault:":12346"`
	DiscoveryAddr string `env:"STARLANE_DISCOVERY_ADDR" envDefault:":12345"`
	LoopbackOnly  bool   `env:"STARLANE_LOOPBACK_ONLY" envDefault:"false"`
	MaxFrameSize  uint32 `env:"STARLANE_MAX_FRAME_SIZE" envDefault:"10485760"`

	// Participants
	MinHumanPlayers int `env:"STARLANE_MIN_HUMAN_PLAYERS" envDefault:"1"`
	MaxHumanPlayers int `env:"STARLANE_MAX_HUMAN_PLAYERS" envDefault:"8"`
	MinAIPlayers    int `env:"STARLANE_MIN_AI_PLAYERS" envDefault:"0"`
	MaxAIPlayers    int `env:"STARLANE_MAX_AI_PLAYERS" envDefault:"10"`

	// Minimum connected human-controlled empires for play to continue, and
	// the most human empires that may sit unconnected before the game is
	// considered unrecoverable.
	MinConnectedHumanEmpires   int `env:"STARLANE_MIN_CONNECTED_HUMAN_EMPIRES" envDefault:"1"`
	MaxUnconnectedHumanEmpires int `env:"STARLANE_MAX_UNCONNECTED_HUMAN_EMPIRES" envDefault:"4"`

	// Turn flow
	TurnTimeout       time.Duration `env:"STARLANE_TURN_TIMEOUT" envDefault:"0"`
	FixedTurnInterval bool          `env:"STARLANE_FIXED_TURN_INTERVAL" envDefault:"false"`
	AutosaveInterval  time.Duration `env:"STARLANE_AUTOSAVE_INTERVAL" envDefault:"0"`

	// Sessions
	CookieExpiry time.Duration `env:"STARLANE_COOKIE_EXPIRY" envDefault:"15m"`

	// Hostless operation: no privileged human host, lobby entered at boot
	Hostless         bool `env:"STARLANE_HOSTLESS" envDefault:"false"`
	HostlessAutosave bool `env:"STARLANE_HOSTLESS_AUTOSAVE" envDefault:"true"`

	// AI worker processes
	AIClientPath       string        `env:"STARLANE_AI_CLIENT_PATH" envDefault:"starlane-ai"`
	AIShutdownPoll     time.Duration `env:"STARLANE_AI_SHUTDOWN_POLL" envDefault:"1s"`
	AIShutdownDeadline time.Duration `env:"STARLANE_AI_SHUTDOWN_DEADLINE" envDefault:"10s"`

	// Storage
	StorageType string `env:"STARLANE_STORAGE_TYPE" envDefault:"memory"`
	RedisURL    string `env:"STARLANE_REDIS_URL" envDefault:"redis://localhost:6379"`

	// Optional read-only status API; empty disables it
	StatusAddr string `env:"STARLANE_STATUS_ADDR" envDefault:""`
}

// Default returns the configuration with every value at its default
func Default() Config {
	cfg, _ := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	return cfg
}

// FromEnv loads configuration from the process environment
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with
func (c Config) Validate() error {
	if c.MaxHumanPlayers < c.MinHumanPlayers {
		return fmt.Errorf("max human players %d below minimum %d", c.MaxHumanPlayers, c.MinHumanPlayers)
	}
	if c.MaxAIPlayers < c.MinAIPlayers {
		return fmt.Errorf("max AI players %d below minimum %d", c.MaxAIPlayers, c.MinAIPlayers)
	}
	if c.MaxFrameSize == 0 {
		return fmt.Errorf("max frame size must be positive")
	}
	if c.StorageType != StorageMemory && c.StorageType != StorageRedis {
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.CookieExpiry <= 0 {
		return fmt.Errorf("cookie expiry must be positive")
	}
	return nil
}
