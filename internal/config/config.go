// Package config loads the tool's YAML configuration with environment
// variable overrides. Missing files fall back to defaults; the API token
// is usually supplied through the environment rather than the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sectionmgr/internal/allocation"
)

// Config holds all section manager configuration.
type Config struct {
	// Remote course system connection
	Canvas CanvasConfig `yaml:"canvas"`

	// Allocation planning ratios
	Allocation AllocationConfig `yaml:"allocation"`

	// Execution pacing
	Execution ExecutionConfig `yaml:"execution"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CanvasConfig configures the remote course system client.
type CanvasConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
	Timeout  string `yaml:"timeout"`
}

// AllocationConfig configures the planner's student-to-section ratios.
type AllocationConfig struct {
	TargetRatio int `yaml:"target_ratio"`
	MaxRatio    int `yaml:"max_ratio"`
}

// ExecutionConfig configures write pacing against the remote system.
type ExecutionConfig struct {
	// Deletion mode must be switched on per run; it is never persisted on.
	DryRun bool `yaml:"dry_run"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Canvas: CanvasConfig{
			Timeout: "30s",
		},
		Allocation: AllocationConfig{
			TargetRatio: allocation.DefaultTargetRatio,
			MaxRatio:    allocation.DefaultMaxRatio,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("CANVAS_API_TOKEN"); token != "" {
		c.Canvas.APIToken = token
	}
	if url := os.Getenv("CANVAS_BASE_URL"); url != "" {
		c.Canvas.BaseURL = url
	}
	if level := os.Getenv("SECTIONMGR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks that the configuration can drive a remote workflow.
func (c *Config) Validate() error {
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.base_url is required (or set CANVAS_BASE_URL)")
	}
	if c.Canvas.APIToken == "" {
		return fmt.Errorf("canvas.api_token is required (or set CANVAS_API_TOKEN)")
	}
	if c.Allocation.TargetRatio <= 0 {
		return fmt.Errorf("allocation.target_ratio must be positive")
	}
	if c.Allocation.MaxRatio < c.Allocation.TargetRatio {
		return fmt.Errorf("allocation.max_ratio must be at least the target ratio")
	}
	return nil
}

// GetTimeout returns the remote client timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Canvas.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
