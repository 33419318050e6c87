package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// CookieTTL bounds how long a cookie entry may outlive its logical
	// expiry before Redis drops it
	CookieTTL time.Duration

	// SaveGameTTL of zero keeps saves indefinitely
	SaveGameTTL time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		CookieTTL:    24 * time.Hour,
		SaveGameTTL:  0,
	}
}
