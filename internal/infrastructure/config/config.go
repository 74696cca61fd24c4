// internal/infrastructure/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// App
	AppVersion string
	LogLevel   string

	// Server
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Control capability: callers presenting this token are the
	// ground-operations control layer. Authn proper happens upstream.
	ControlToken string

	// MongoDB (sync backend + archive)
	MongoURI            string
	MongoDB             string
	MongoUser           string
	MongoPassword       string
	MongoConnectTimeout time.Duration

	// PostgreSQL (airline rulesets)
	PostgresURI string

	// Sync adapter
	PublishTimeout  time.Duration
	WatchMinBackoff time.Duration
	WatchMaxBackoff time.Duration

	// Observer registry
	ObserverBuffer int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		AppVersion: getEnv("APP_VERSION", "1.0.0"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		Port:         getEnv("PORT", "8080"),
		ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 30)) * time.Second,
		WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 30)) * time.Second,

		ControlToken: getEnv("CONTROL_TOKEN", ""),

		MongoURI:            getEnv("MONGODB_DSN", "mongodb://localhost:27017"),
		MongoDB:             getEnv("MONGO_DB", "turnaround"),
		MongoUser:           getEnv("MONGO_USER", ""),
		MongoPassword:       getEnv("MONGO_PASSWORD", ""),
		MongoConnectTimeout: time.Duration(getEnvAsInt("MONGO_CONNECT_TIMEOUT", 10)) * time.Second,

		PostgresURI: getEnv("POSTGRES_DSN", ""),

		PublishTimeout:  time.Duration(getEnvAsInt("PUBLISH_TIMEOUT", 10)) * time.Second,
		WatchMinBackoff: time.Duration(getEnvAsInt("WATCH_MIN_BACKOFF_MS", 500)) * time.Millisecond,
		WatchMaxBackoff: time.Duration(getEnvAsInt("WATCH_MAX_BACKOFF_MS", 30000)) * time.Millisecond,

		ObserverBuffer: getEnvAsInt("OBSERVER_BUFFER", 64),
	}

	return config, nil
}

// Helper functions to get environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
