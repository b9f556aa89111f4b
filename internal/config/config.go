package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay.
type Config struct {
	Port string
	Env  string

	// Stores
	DatabaseURL string // PostgreSQL; SQLite is used when empty
	SQLitePath  string
	RedisURL    string // Redis delivery store; in-memory when empty

	// Delivery
	OfflineTTL        time.Duration
	DefaultMaxRetries int
	SweepInterval     time.Duration

	// Compression
	CompressionMinSize int

	// Cross-project knowledge sharing
	KnowledgeSharingEnabled bool
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SQLitePath:              os.Getenv("SQLITE_PATH"),
		RedisURL:                os.Getenv("REDIS_URL"),
		OfflineTTL:              getDuration("OFFLINE_TTL", 24*time.Hour),
		DefaultMaxRetries:       getInt("DEFAULT_MAX_RETRIES", 3),
		SweepInterval:           getDuration("SWEEP_INTERVAL", 5*time.Minute),
		CompressionMinSize:      getInt("COMPRESSION_MIN_SIZE", 1024),
		KnowledgeSharingEnabled: getEnv("KNOWLEDGE_SHARING_ENABLED", "true") == "true",
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
