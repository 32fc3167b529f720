package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v, want nil", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero MaxConcurrentTasks", func(c *Config) { c.MaxConcurrentTasks = 0 }, ErrInvalidConfiguration},
		{"negative ShortCircuitChars", func(c *Config) { c.ShortCircuitChars = -1 }, ErrInvalidConfiguration},
		{"empty RedisURL", func(c *Config) { c.RedisURL = "" }, ErrMissingConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil for a missing file", err)
	}
	if cfg.ServiceName != "nexus-orchestrator" {
		t.Errorf("LoadConfig() ServiceName = %q, want default", cfg.ServiceName)
	}
}

func TestLoadConfig_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	yamlBody := "service_name: nexus-staging\nmax_concurrent_tasks: 8\nredis_url: redis://staging:6379/0\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ServiceName != "nexus-staging" {
		t.Errorf("LoadConfig() ServiceName = %q, want %q", cfg.ServiceName, "nexus-staging")
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Errorf("LoadConfig() MaxConcurrentTasks = %d, want 8", cfg.MaxConcurrentTasks)
	}
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte("max_concurrent_tasks: 4\n"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("NEXUS_MAX_CONCURRENT_TASKS", "16")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.MaxConcurrentTasks != 16 {
		t.Errorf("LoadConfig() MaxConcurrentTasks = %d, want env override 16", cfg.MaxConcurrentTasks)
	}
}
