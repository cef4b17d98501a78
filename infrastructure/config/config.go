// Package config loads static configuration from the environment and
// runtime-tunable settings from an optional YAML file with hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Store configuration
	StoreDriver   string // memory | sqlite | dynamodb
	SQLiteDSN     string
	DynamoDBTable string
	AWSRegion     string

	// Command pipeline
	CommandQueueCapacity   int
	PersistQueueCapacity   int
	SynchronousPersistence bool
	ShutdownTimeout        time.Duration

	// Evaluation
	ConflictStrategy string
	CacheSize        int
	CacheTTL         time.Duration

	// Runtime-tunable settings file (optional)
	DynamicConfigPath string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Feature flags
	EnableMetrics bool
	EnableCORS    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StoreDriver:   getEnv("STORE_DRIVER", "memory"),
		SQLiteDSN:     getEnv("SQLITE_DSN", "file:acs.db"),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "acs"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),

		CommandQueueCapacity:   getEnvInt("COMMAND_QUEUE_CAPACITY", 1000),
		PersistQueueCapacity:   getEnvInt("PERSIST_QUEUE_CAPACITY", 1024),
		SynchronousPersistence: getEnvBool("SYNCHRONOUS_PERSISTENCE", false),
		ShutdownTimeout:        getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		ConflictStrategy: getEnv("CONFLICT_STRATEGY", "DENY_OVERRIDES"),
		CacheSize:        getEnvInt("DECISION_CACHE_SIZE", 8192),
		CacheTTL:         getEnvDuration("DECISION_CACHE_TTL", 5*time.Minute),

		DynamicConfigPath: getEnv("DYNAMIC_CONFIG_PATH", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "acs"),

		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite", "dynamodb":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == "dynamodb" && c.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb driver")
	}
	if c.CommandQueueCapacity <= 0 {
		return fmt.Errorf("COMMAND_QUEUE_CAPACITY must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("DECISION_CACHE_SIZE must be positive")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
