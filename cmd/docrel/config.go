// Loads docrel.yaml from the data directory.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/maruel/docrel/internal/storage"
	"gopkg.in/yaml.v3"
)

const configFile = "docrel.yaml"

// Config is the content of docrel.yaml. Command line flags override it.
type Config struct {
	Database            string  `yaml:"database,omitempty"`
	IdentityField       string  `yaml:"identity_field,omitempty"`
	MaxIdentifierLength int     `yaml:"max_identifier_length,omitempty"`
	OnError             string  `yaml:"on_error,omitempty"`
	History             bool    `yaml:"history,omitempty"`
	IngestRatePerSec    float64 `yaml:"ingest_rate_per_sec,omitempty"`
	LogLevel            string  `yaml:"log_level,omitempty"`
}

func defaultConfig() *Config {
	return &Config{Database: "test", OnError: string(storage.Abort), LogLevel: "info"}
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.MaxIdentifierLength != 0 && c.MaxIdentifierLength < 16 {
		return fmt.Errorf("max_identifier_length must be 0 or at least 16, got %d", c.MaxIdentifierLength)
	}
	if c.MaxIdentifierLength > 1024 {
		return fmt.Errorf("max_identifier_length is too large: %d", c.MaxIdentifierLength)
	}
	if err := storage.OnError(c.OnError).Validate(); err != nil {
		return err
	}
	if c.IngestRatePerSec < 0 {
		return errors.New("ingest_rate_per_sec must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) storageOptions() storage.Options {
	return storage.Options{
		MaxIdentifierLength: c.MaxIdentifierLength,
		IdentityField:       c.IdentityField,
		OnError:             storage.OnError(c.OnError),
		History:             c.History,
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
