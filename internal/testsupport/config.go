package testsupport

import (
	"path/filepath"
	"testing"

	"dubforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.WorkerCount = 2
	cfg.Retry.BackoffBaseMS = 1
	cfg.Retry.BackoffMaxMS = 5
	cfg.StageServices.PollIntervalMS = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithStageServiceURL points every stage service endpoint at the same base
// URL, typically an httptest server.
func WithStageServiceURL(base string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.StageServices.EthicsURL = base
		cfg.StageServices.ASRURL = base
		cfg.StageServices.TranslateURL = base
		cfg.StageServices.TTSURL = base
		cfg.StageServices.AnimationURL = base
		cfg.StageServices.QualityURL = base
	}
}

// WithWorkerCount overrides the scheduler worker pool size.
func WithWorkerCount(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.WorkerCount = count
	}
}

// WithMaxRetries overrides the per-stage retry budget.
func WithMaxRetries(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retry.MaxPerStage = count
	}
}
