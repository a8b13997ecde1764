// Package config provides configuration and logging for the concil server.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the application configuration.
type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	Actor       string
	Currency    string
	ScenarioDir string

	// SessionTTL closes sessions idle for longer. Zero keeps them forever.
	SessionTTL   time.Duration
	ReapInterval time.Duration
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	port, err := parseIntEnv("CONCIL_PORT", 8080)
	if err != nil {
		return nil, err
	}

	ttl, err := parseDurationEnv("CONCIL_SESSION_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	interval, err := parseDurationEnv("CONCIL_REAP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:        port,
		DBPath:      getEnvOrDefault("CONCIL_DB", "concil.db"),
		LogLevel:    getEnvOrDefault("CONCIL_LOG_LEVEL", "info"),
		Actor:       getEnvOrDefault("CONCIL_ACTOR", "system"),
		Currency:    strings.ToUpper(getEnvOrDefault("CONCIL_CURRENCY", "EUR")),
		ScenarioDir: os.Getenv("CONCIL_SCENARIOS"),

		SessionTTL:   ttl,
		ReapInterval: interval,
	}, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		problems = append(problems, "database path is empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log level %q", c.LogLevel))
	}
	if c.Actor == "" {
		problems = append(problems, "actor is empty")
	}
	if money.GetCurrency(c.Currency) == nil {
		problems = append(problems, fmt.Sprintf("unknown currency %q", c.Currency))
	}
	if c.SessionTTL < 0 {
		problems = append(problems, "session ttl is negative")
	}
	if c.SessionTTL > 0 && c.ReapInterval <= 0 {
		problems = append(problems, "reap interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an int from an environment variable.
// Returns defaultValue if the environment variable is not set.
func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}

// parseDurationEnv parses a time.Duration ("90s", "1h") from an
// environment variable.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value for %s: %s", key, value)
	}
	return parsed, nil
}
