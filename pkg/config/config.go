// Package config layers fleet configuration: built-in defaults, an
// optional YAML file, then FLEET_* environment variables on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AI selects and authenticates the completion provider.
type AI struct {
	// Provider is "openai", "anthropic", or "" to disable completions
	// (agents then run on their deterministic fallbacks).
	Provider string `yaml:"provider" env:"FLEET_AI_PROVIDER"`
	APIKey   string `yaml:"api_key" env:"FLEET_AI_API_KEY"`
	Model    string `yaml:"model" env:"FLEET_AI_MODEL"`
	BaseURL  string `yaml:"base_url" env:"FLEET_AI_BASE_URL"`
}

// Config is the full fleetd configuration.
type Config struct {
	Host string `yaml:"host" env:"FLEET_HOST"`
	Port int    `yaml:"port" env:"FLEET_PORT"`

	// APIKey guards the control API. Empty means fleetd generates a
	// session key at startup and prints it once.
	APIKey string `yaml:"api_key" env:"FLEET_API_KEY"`

	DBPath string `yaml:"db_path" env:"FLEET_DB_PATH"`

	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"FLEET_HANDLER_TIMEOUT"`
	MaxChainDepth  int           `yaml:"max_chain_depth" env:"FLEET_MAX_CHAIN_DEPTH"`

	// AnalyticsCron drives the scheduled metrics report. Empty disables
	// scheduling.
	AnalyticsCron string `yaml:"analytics_cron" env:"FLEET_ANALYTICS_CRON"`

	// AnalyticsProject scopes the scheduled report; zero means
	// fleet-global.
	AnalyticsProject int64 `yaml:"analytics_project" env:"FLEET_ANALYTICS_PROJECT"`

	AI AI `yaml:"ai"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8090,
		DBPath:         "fleet.db",
		HandlerTimeout: 30 * time.Second,
		MaxChainDepth:  16,
		AnalyticsCron:  "0 9 * * 1-5",
	}
}

// Load builds the configuration. path may be empty to skip the file
// layer; a missing file at a non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("handler_timeout must be positive, got %s", c.HandlerTimeout)
	}
	if c.MaxChainDepth <= 0 {
		return fmt.Errorf("max_chain_depth must be positive, got %d", c.MaxChainDepth)
	}
	switch c.AI.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	return nil
}

// Addr is the host:port the API server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
