package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dubforge/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("expected exists=false for %s", resolved)
	}
	if cfg.Quality.MaxFID != 15.0 {
		t.Fatalf("expected default max_fid, got %v", cfg.Quality.MaxFID)
	}
	if cfg.Workflow.WorkerCount < 1 {
		t.Fatalf("expected positive default worker count, got %d", cfg.Workflow.WorkerCount)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[stage_services]
animation_url = "http://animator.internal:9000/"

[quality]
max_fid = 12.5

[retry]
max_retries_per_stage = 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Quality.MaxFID != 12.5 {
		t.Fatalf("max_fid override lost: %v", cfg.Quality.MaxFID)
	}
	if cfg.Retry.MaxPerStage != 4 {
		t.Fatalf("retry override lost: %d", cfg.Retry.MaxPerStage)
	}
	if strings.HasSuffix(cfg.StageServices.AnimationURL, "/") {
		t.Fatalf("animation url should be normalized without trailing slash: %q", cfg.StageServices.AnimationURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Workflow.WorkerCount = 0 }},
		{"negative retries", func(c *config.Config) { c.Retry.MaxPerStage = -1 }},
		{"lse_c above one", func(c *config.Config) { c.Quality.MinLipSync = 1.5 }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"multiplier below one", func(c *config.Config) { c.Retry.BackoffMultiplier = 0.5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
