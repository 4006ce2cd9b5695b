// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration for the xrayd server.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings. StoreBackend selects the persistence layer:
	// "memory", "sqlite", or "postgres".
	StoreBackend string
	SQLitePath   string // Path to the SQLite database file.
	DatabaseURL  string // Postgres URL when StoreBackend is "postgres".

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Dashboard credentials. Hashes are argon2id in PHC string format.
	AdminKeyHash  string
	ViewerKeyHash string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	RateLimitPerMinute  int
	SSEBufferSize       int   // Per-subscriber event buffer.
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	MaxPageSize         int   // Upper bound for list pagination limits.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("XRAY_PORT", 8080),
		ReadTimeout:         envDuration("XRAY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("XRAY_WRITE_TIMEOUT", 30*time.Second),
		StoreBackend:        envStr("XRAY_STORE", "memory"),
		SQLitePath:          envStr("XRAY_SQLITE_PATH", "xray.db"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("XRAY_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("XRAY_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("XRAY_JWT_EXPIRATION", 24*time.Hour),
		AdminKeyHash:        envStr("XRAY_ADMIN_KEY_HASH", ""),
		ViewerKeyHash:       envStr("XRAY_VIEWER_KEY_HASH", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "xray"),
		LogLevel:            envStr("XRAY_LOG_LEVEL", "info"),
		RateLimitPerMinute:  envInt("XRAY_RATE_LIMIT_PER_MINUTE", 300),
		SSEBufferSize:       envInt("XRAY_SSE_BUFFER_SIZE", 64),
		MaxRequestBodyBytes: int64(envInt("XRAY_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		MaxPageSize:         envInt("XRAY_MAX_PAGE_SIZE", 200),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: XRAY_STORE must be one of memory, sqlite, postgres (got %q)", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required when XRAY_STORE is postgres")
	}
	if c.StoreBackend == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("config: XRAY_SQLITE_PATH must not be empty")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: XRAY_RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: XRAY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("config: XRAY_MAX_PAGE_SIZE must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
