package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, e.g. NEWSTATE_LOG_LEVEL.
const EnvPrefix = "NEWSTATE"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Exec      ExecConfig      `yaml:"exec"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// SandboxConfig holds the engine limits applied to every sandbox.
type SandboxConfig struct {
	OpenLibs        bool `yaml:"open_libs" split_words:"true"`
	MaxDepth        int  `yaml:"max_depth" split_words:"true"`
	CallStackSize   int  `yaml:"call_stack_size" split_words:"true"`
	RegistrySize    int  `yaml:"registry_size" split_words:"true"`
	RegistryMaxSize int  `yaml:"registry_max_size" split_words:"true"`
}

// ExecConfig holds per-call limits and host capabilities.
type ExecConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	KV             bool          `yaml:"kv"`
	KVMaxKeySize   int           `yaml:"kv_max_key_size" split_words:"true"`
	KVMaxValueSize int           `yaml:"kv_max_value_size" split_words:"true"`
	KVMaxEntries   int           `yaml:"kv_max_entries" split_words:"true"`
	AllowedHosts   []string      `yaml:"allowed_hosts" split_words:"true"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" split_words:"true"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	SessionTTL   time.Duration `yaml:"session_ttl" split_words:"true"`
	MaxSessions  int           `yaml:"max_sessions" split_words:"true"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"rps" envconfig:"RPS"`
	Burst             int  `yaml:"burst"`
	Enabled           bool `yaml:"enabled"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Sandbox: SandboxConfig{
			OpenLibs: true,
			MaxDepth: 200,
		},
		Exec: ExecConfig{
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			SessionTTL:   10 * time.Minute,
			MaxSessions:  1000,
			MaxBodyBytes: 10 << 20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is
// not empty, then applies NEWSTATE_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Exec.Timeout < 0 {
		errs = append(errs, errors.New("exec.timeout must not be negative"))
	}
	if c.Sandbox.MaxDepth < 0 {
		errs = append(errs, errors.New("sandbox.max_depth must not be negative"))
	}
	if c.Server.SessionTTL < 0 {
		errs = append(errs, errors.New("server.session_ttl must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
