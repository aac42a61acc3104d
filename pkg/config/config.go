// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bizkhata/bizkhata/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes and scraping)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds the session store configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// SessionConfig holds session behavior settings
type SessionConfig struct {
	TTL        time.Duration
	CookieName string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	// Permission set cache in the authorization checker
	PermissionCacheSize int
	PermissionCacheTTL  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BIZKHATA_HOST", "0.0.0.0"),
			Port:            getEnv("BIZKHATA_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BIZKHATA_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BIZKHATA_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BIZKHATA_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BIZKHATA_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("BIZKHATA_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("BIZKHATA_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("BIZKHATA_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("BIZKHATA_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("BIZKHATA_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("BIZKHATA_REDIS_URL", "localhost:6379"),
			Password: getEnv("BIZKHATA_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BIZKHATA_REDIS_DB", 0),
		},
		Session: SessionConfig{
			TTL:        getEnvDuration("BIZKHATA_SESSION_TTL", 24*time.Hour),
			CookieName: getEnv("BIZKHATA_SESSION_COOKIE", "bizkhata_session"),
		},
		Observability: ObservabilityConfig{
			LogLevel:            observability.ParseLogLevel(getEnv("BIZKHATA_LOG_LEVEL", "info")),
			MetricsEnabled:      getEnvBool("BIZKHATA_METRICS_ENABLED", true),
			PermissionCacheSize: getEnvInt("BIZKHATA_PERMISSION_CACHE_SIZE", 1024),
			PermissionCacheTTL:  getEnvDuration("BIZKHATA_PERMISSION_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Observability.PermissionCacheSize <= 0 {
		return fmt.Errorf("permission cache size must be positive")
	}
	if c.Observability.PermissionCacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
