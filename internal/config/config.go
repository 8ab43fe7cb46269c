// Package config loads flowctl configuration from a YAML file with sane
// defaults and a small set of environment overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all flowctl configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig points at the campaign backend.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"` // e.g. "30s"
}

// TimeoutDuration parses the request timeout, defaulting to 30s.
func (s ServerConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PipelineConfig tunes the phase pipeline engine.
type PipelineConfig struct {
	PageSize         int    `yaml:"page_size"`         // result page size
	FullSequence     bool   `yaml:"full_sequence"`     // auto-advance default for new campaigns
	ReconnectBackoff string `yaml:"reconnect_backoff"` // e.g. "2s"
}

// BackoffDuration parses the reconnect backoff, defaulting to 2s.
func (p PipelineConfig) BackoffDuration() time.Duration {
	d, err := time.ParseDuration(p.ReconnectBackoff)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// JournalConfig controls the local event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig mirrors internal/logging options.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			Timeout: "30s",
		},
		Pipeline: PipelineConfig{
			PageSize:         25,
			FullSequence:     false,
			ReconnectBackoff: "2s",
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "flowctl-journal.db",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Dir:     "logs",
			Level:   "info",
		},
	}
}

// Load reads a config file, layering it over defaults and then applying
// environment overrides. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWCTL_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("FLOWCTL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("config: server.base_url is required")
	}
	if c.Pipeline.PageSize < 1 {
		return fmt.Errorf("config: pipeline.page_size must be >= 1, got %d", c.Pipeline.PageSize)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("config: journal.path is required when the journal is enabled")
	}
	return nil
}
