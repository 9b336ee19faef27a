// Package config holds the pseudonymization service configuration:
// defaults, an optional JSON config file and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	LogRequests bool `json:"log_requests"` // Log processed text lengths and entity counts
	LogVerbose  bool `json:"log_verbose"`  // Log detailed per-entity decisions
}

// DatabaseConfig holds session persistence configuration
type DatabaseConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether to persist sessions in SQLite
	Path         string `json:"path"`          // Path to the SQLite database file
	CleanupHours int    `json:"cleanup_hours"` // Hours after which idle sessions are removed
}

// Config holds all configuration for the pseudonymization service
type Config struct {
	DefaultLanguage string              `json:"default_language"`
	ModelDir        string              `json:"model_dir"`
	MinConfidence   float64             `json:"min_confidence"`
	CustomPatterns  map[string][]string `json:"custom_patterns,omitempty"`
	Database        DatabaseConfig      `json:"database"`
	Logging         LoggingConfig       `json:"logging"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DefaultLanguage: "en",
		ModelDir:        "models",
		MinConfidence:   0.5,
		Database: DatabaseConfig{
			Enabled:      false,
			Path:         "pseudonymizer.db",
			CleanupHours: 24,
		},
		Logging: LoggingConfig{
			LogRequests: true,
			LogVerbose:  false,
		},
	}
}

// LoadFile reads a JSON config file over the defaults. A missing path is an
// error; an empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides configuration fields from environment variables.
// Unset variables leave the current value in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DEFAULT_LANGUAGE"); v != "" {
		c.DefaultLanguage = strings.ToLower(v)
	}
	if v := os.Getenv("MODEL_DIR"); v != "" {
		c.ModelDir = v
	}
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinConfidence = f
		}
	}
	if v := os.Getenv("DB_ENABLED"); v != "" {
		c.Database.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DB_CLEANUP_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Database.CleanupHours = n
		}
	}
	if v := os.Getenv("LOG_VERBOSE"); v != "" {
		c.Logging.LogVerbose = v == "true" || v == "1"
	}
}
