// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the database and support files (always absolute)
	DatabasePath string // Full path to the sqlite database file
	LogLevel     string
	Port         int
	DevMode      bool

	// Timezone used to convert sync instants (UTC) to calendar dates.
	// All valuation and returns date math happens in this zone.
	Location *time.Location

	// Cron expression (with seconds) for the scheduled sync job.
	// Empty disables scheduled syncs.
	SyncSchedule string

	// Provider credentials, read once at startup. Empty means the
	// provider is not configured and its adapter is not registered.
	SnapTradeClientID    string
	SnapTradeConsumerKey string
	SnapTradeUserID      string
	SnapTradeUserSecret  string
	SimpleFINAccessURL   string
	MarketDataAPIKey     string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MONETA_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	port := 8080
	if portStr := os.Getenv("MONETA_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid MONETA_PORT %q: %w", portStr, err)
		}
		port = p
	}

	loc := time.Local
	if tz := os.Getenv("MONETA_TIMEZONE"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid MONETA_TIMEZONE %q: %w", tz, err)
		}
		loc = l
	}

	cfg := &Config{
		DataDir:              absDataDir,
		DatabasePath:         filepath.Join(absDataDir, "moneta.db"),
		LogLevel:             getEnv("MONETA_LOG_LEVEL", "info"),
		Port:                 port,
		DevMode:              os.Getenv("MONETA_DEV_MODE") == "true",
		Location:             loc,
		SyncSchedule:         getEnv("MONETA_SYNC_SCHEDULE", "0 30 5 * * *"),
		SnapTradeClientID:    os.Getenv("SNAPTRADE_CLIENT_ID"),
		SnapTradeConsumerKey: os.Getenv("SNAPTRADE_CONSUMER_KEY"),
		SnapTradeUserID:      os.Getenv("SNAPTRADE_USER_ID"),
		SnapTradeUserSecret:  os.Getenv("SNAPTRADE_USER_SECRET"),
		SimpleFINAccessURL:   os.Getenv("SIMPLEFIN_ACCESS_URL"),
		MarketDataAPIKey:     os.Getenv("MARKETDATA_API_KEY"),
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback
// if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
