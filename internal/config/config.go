// Package config loads the YAML configuration for the aide server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/aide/internal/ratelimit"
)

// Config is the main configuration structure for aide.
type Config struct {
	Server      ServerConfig  `yaml:"server"`
	Storage     StorageConfig `yaml:"storage"`
	LLM         LLMConfig     `yaml:"llm"`
	Agent       AgentConfig   `yaml:"agent"`
	Permissions PolicyConfig  `yaml:"permissions"`
	Logging     LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host        string           `yaml:"host"`
	HTTPPort    int              `yaml:"http_port"`
	MetricsPort int              `yaml:"metrics_port"`
	RateLimit   ratelimit.Config `yaml:"rate_limit"`
}

// StorageConfig selects the thread store backend. Driver is "memory",
// "sqlite", or "postgres".
type StorageConfig struct {
	Driver string `yaml:"driver"`
	// URL is the Postgres DSN when driver is "postgres".
	URL string `yaml:"url"`
	// Path is the database file when driver is "sqlite".
	Path string `yaml:"path"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	// MaxRetries bounds attempts per LLM call, including the first.
	MaxRetries int `yaml:"max_retries"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type AgentConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	ToolConcurrency int `yaml:"tool_concurrency"`
}

// PolicyConfig selects the permission gate: "allow_all" or
// "owner_or_superuser".
type PolicyConfig struct {
	Policy string `yaml:"policy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables
// in the file (e.g. ${ANTHROPIC_API_KEY}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 1
	}
	if cfg.Permissions.Policy == "" {
		cfg.Permissions.Policy = "owner_or_superuser"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.URL == "" {
		return fmt.Errorf("storage driver postgres requires a url")
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage driver sqlite requires a path")
	}
	switch cfg.Permissions.Policy {
	case "allow_all", "owner_or_superuser":
	default:
		return fmt.Errorf("unknown permission policy %q", cfg.Permissions.Policy)
	}
	return nil
}
