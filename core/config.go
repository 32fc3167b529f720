package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration, loaded with the
// same precedence the teacher's core.Config/DefaultConfig use: explicit
// struct field (set by the caller after Load) → environment variable →
// YAML file overlay → built-in default.
type Config struct {
	ServiceName string `yaml:"service_name"`

	// ShortCircuitChars is the tunable short-message bypass threshold
	// from spec §4.12 step 2 / §9 Open Questions.
	ShortCircuitChars int `yaml:"short_circuit_chars"`

	// AllowFreeModels opts into zero-priced/":free" models in selection.
	AllowFreeModels bool `yaml:"allow_free_models"`
	// MaxCostPerTaskUSD is enforced even when AllowFreeModels is true,
	// per the Open Question resolution in SPEC_FULL.md.
	MaxCostPerTaskUSD float64 `yaml:"max_cost_per_task_usd"`

	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TaskQueueTimeout   time.Duration `yaml:"task_queue_timeout"`
	MemoryWatermarkMB  int64         `yaml:"memory_watermark_mb"`

	RedisURL   string `yaml:"redis_url"`
	PostgresDSN string `yaml:"postgres_dsn"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig mirrors the teacher's DefaultConfig: safe, runnable
// values with no external dependencies required to construct it.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "nexus-orchestrator",
		ShortCircuitChars:  10,
		AllowFreeModels:    false,
		MaxCostPerTaskUSD:  0,
		MaxConcurrentTasks: 1,
		TaskQueueTimeout:   5 * time.Minute,
		MemoryWatermarkMB:  1536,
		RedisURL:           "redis://localhost:6379/0",
		LogLevel:           "INFO",
		LogFormat:          "text",
	}
}

// LoadConfig applies, in increasing precedence: defaults, an optional
// YAML file at path (if non-empty and present), then environment
// variables (NEXUS_*).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
				return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfiguration, path, yerr)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEXUS_SHORT_CIRCUIT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ShortCircuitChars = n
		}
	}
	if v := os.Getenv("NEXUS_ALLOW_FREE_MODELS"); v != "" {
		cfg.AllowFreeModels = v == "true" || v == "1"
	}
	if v := os.Getenv("NEXUS_MAX_COST_PER_TASK_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxCostPerTaskUSD = f
		}
	}
	if v := os.Getenv("NEXUS_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("NEXUS_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("NEXUS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NEXUS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// Validate checks invariants the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("%w: max_concurrent_tasks must be positive", ErrInvalidConfiguration)
	}
	if c.ShortCircuitChars < 0 {
		return fmt.Errorf("%w: short_circuit_chars must be non-negative", ErrInvalidConfiguration)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("%w: redis_url is required", ErrMissingConfiguration)
	}
	return nil
}
