package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the inference proxy
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Security
	JWTSecret     string
	EncryptionKey []byte // 32 bytes, decoded from base64 ENCRYPTION_KEY

	// Upstream provider
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Forwarding retries (transient network failures only)
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Pricing
	PricingFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:       getEnv("JWT_SECRET_KEY", ""),
		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 600*time.Second),
		MaxRetries:      getEnvInt("MAX_RETRIES", 2),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		PricingFile:     getEnv("PRICING_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}

	rawKey := getEnv("ENCRYPTION_KEY", "")
	if rawKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
