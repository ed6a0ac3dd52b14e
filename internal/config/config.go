// Package config handles xtsunit configuration from the environment.
// Command-line flags override every value loaded here.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CLI.
type Config struct {
	Run RunConfig
	Log LogConfig
}

// RunConfig holds runner configuration.
type RunConfig struct {
	// Timeout bounds every case and hook body unless a suite overrides it.
	Timeout time.Duration
	// DBPath is the result store file. Empty disables persistence.
	DBPath string
	// Format is the summary output format, "text" or "json".
	Format string
	// Workers bounds concurrent scenario loading and inventory parsing.
	Workers int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// SlogLevel returns the slog level for Level. Unknown levels map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no environment variable is set.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Timeout: 5 * time.Second,
			Format:  "text",
			Workers: runtime.GOMAXPROCS(0),
		},
		Log: LogConfig{Level: "warn"},
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := Default()

	timeout, err := getEnvAsDuration("XTSUNIT_TIMEOUT", cfg.Run.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid XTSUNIT_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid XTSUNIT_TIMEOUT: must be positive, got %s", timeout)
	}
	cfg.Run.Timeout = timeout

	cfg.Run.DBPath = getEnvOrDefault("XTSUNIT_DB", cfg.Run.DBPath)

	cfg.Run.Format = getEnvOrDefault("XTSUNIT_FORMAT", cfg.Run.Format)
	if cfg.Run.Format != "text" && cfg.Run.Format != "json" {
		return nil, fmt.Errorf("invalid XTSUNIT_FORMAT: %q (want text or json)", cfg.Run.Format)
	}

	workers, err := getEnvAsInt("XTSUNIT_WORKERS", cfg.Run.Workers)
	if err != nil {
		return nil, fmt.Errorf("invalid XTSUNIT_WORKERS: %w", err)
	}
	if workers < 1 {
		return nil, fmt.Errorf("invalid XTSUNIT_WORKERS: must be at least 1, got %d", workers)
	}
	cfg.Run.Workers = workers

	cfg.Log.Level = getEnvOrDefault("XTSUNIT_LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// getEnvAsDuration returns the environment variable as a duration.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}
