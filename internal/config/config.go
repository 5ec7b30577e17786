package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// Config is the process configuration: server settings plus everything the
// pipeline needs at construction.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Pipeline   pipeline.Config    `yaml:"pipeline"`
	Validators ValidatorsConfig   `yaml:"validators"`
	BaseScores map[string]float64 `yaml:"base_scores"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ValidatorsConfig enables and tunes the stock validators.
type ValidatorsConfig struct {
	SizeLimit SizeLimitConfig `yaml:"size_limit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Schema    SchemaConfig    `yaml:"schema"`
	Auth      AuthConfig      `yaml:"auth"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
}

// SizeLimitConfig tunes the body size bound.
type SizeLimitConfig struct {
	Enabled  bool  `yaml:"enabled"`
	MaxBytes int64 `yaml:"max_bytes"`
	Priority uint8 `yaml:"priority"`
}

// RateLimitConfig tunes the per-caller token bucket.
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
	Priority  uint8   `yaml:"priority"`
}

// SchemaConfig carries the JSON schema document and its revision.
type SchemaConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Document string `yaml:"document"`
	Version  string `yaml:"version"`
	Priority uint8  `yaml:"priority"`
}

// AuthConfig tunes bearer-token verification.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Secret        string `yaml:"secret"`
	RequiredScope string `yaml:"required_scope"`
	Priority      uint8  `yaml:"priority"`
}

// SanitizeConfig carries the deny-pattern table.
type SanitizeConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
	Priority uint8    `yaml:"priority"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			ShutdownTimeout: 30 * time.Second,
		},
		Pipeline: pipeline.DefaultConfig(),
		Validators: ValidatorsConfig{
			SizeLimit: SizeLimitConfig{Enabled: true, MaxBytes: 10 << 20, Priority: 10},
			RateLimit: RateLimitConfig{Enabled: true, PerSecond: 100, Burst: 200, Priority: 20},
			Sanitize:  SanitizeConfig{Enabled: true, Priority: 30},
		},
	}
}

// Load reads a YAML configuration file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for operator mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Validators.Schema.Enabled && c.Validators.Schema.Document == "" {
		return fmt.Errorf("config: schema validator enabled without a schema document")
	}
	if c.Validators.Auth.Enabled && c.Validators.Auth.Secret == "" {
		return fmt.Errorf("config: auth validator enabled without a secret")
	}
	for _, rule := range c.Pipeline.Rules {
		if rule.Multiplier <= 0 {
			return fmt.Errorf("config: relevance rule multiplier must be positive")
		}
		if rule.Validator == "" && rule.Tag == "" {
			return fmt.Errorf("config: relevance rule must name a validator or tag")
		}
	}
	return nil
}
