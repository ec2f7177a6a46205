package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreLocal    = "local"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration for the daemon
type Config struct {
	// Server
	Port     int
	Debug    bool
	LogLevel string

	// Store
	StoreDriver string // local, sqlite, postgres
	DatabaseURL string
	SQLitePath  string
	DataDir     string

	// Messaging
	RabbitMQURL   string
	ImportWorkers int

	// Distributed lock
	RedisAddr string
	LockTTL   time.Duration

	// Content generator
	GeneratorURL    string
	GeneratorModel  string
	GeneratorAPIKey string

	// Gamification
	XPPerLevel int
	XPPerUnit  int

	// Event log (PostgreSQL, optional)
	EventLogURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		Debug:           getEnvBool("DEBUG", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StoreDriver:     getEnv("STORE_DRIVER", StoreLocal),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "courseforge.db"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		ImportWorkers:   getEnvInt("IMPORT_WORKERS", 3),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		LockTTL:         time.Duration(getEnvFloat("LOCK_TTL_SECONDS", 10) * float64(time.Second)),
		GeneratorURL:    getEnv("GENERATOR_URL", ""),
		GeneratorModel:  getEnv("GENERATOR_MODEL", "llama3.1"),
		GeneratorAPIKey: getEnv("GENERATOR_API_KEY", ""),
		XPPerLevel:      getEnvInt("XP_PER_LEVEL", 500),
		XPPerUnit:       getEnvInt("XP_PER_UNIT", 100),
		EventLogURL:     getEnv("EVENT_LOG_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreLocal, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.XPPerLevel <= 0 {
		return fmt.Errorf("XP_PER_LEVEL must be positive, got %d", c.XPPerLevel)
	}
	if c.XPPerUnit <= 0 {
		return fmt.Errorf("XP_PER_UNIT must be positive, got %d", c.XPPerUnit)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
