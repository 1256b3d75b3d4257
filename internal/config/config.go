package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// StageServices contains the endpoints of the external AI stage services.
// Timeouts are per-call wall-clock budgets in seconds; exceeding one yields a
// Timeout stage result.
type StageServices struct {
	EthicsURL        string `toml:"ethics_url"`
	ASRURL           string `toml:"asr_url"`
	TranslateURL     string `toml:"translate_url"`
	TTSURL           string `toml:"tts_url"`
	AnimationURL     string `toml:"animation_url"`
	QualityURL       string `toml:"quality_url"`
	EthicsTimeout    int    `toml:"ethics_timeout"`
	ASRTimeout       int    `toml:"asr_timeout"`
	TranslateTimeout int    `toml:"translate_timeout"`
	TTSTimeout       int    `toml:"tts_timeout"`
	AnimationTimeout int    `toml:"animation_timeout"`
	QualityTimeout   int    `toml:"quality_timeout"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
}

// Quality contains the quality gate thresholds. All four thresholds are
// independently mandatory; the weights only shape the reported overall score.
type Quality struct {
	MinLipSync       float64 `toml:"min_lse_c"`
	MaxFID           float64 `toml:"max_fid"`
	MinAUCorrelation float64 `toml:"min_au_correlation"`
	MinBLEU          float64 `toml:"min_bleu"`
	LipSyncWeight    float64 `toml:"lse_c_weight"`
	FIDWeight        float64 `toml:"fid_weight"`
	AUWeight         float64 `toml:"au_weight"`
	BLEUWeight       float64 `toml:"bleu_weight"`
}

// Retry contains the retry and backoff policy settings.
type Retry struct {
	MaxPerStage        int     `toml:"max_retries_per_stage"`
	BackoffBaseMS      int     `toml:"backoff_base_ms"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	BackoffMaxMS       int     `toml:"backoff_max_ms"`
	LowConfidenceFloor float64 `toml:"low_confidence_floor"`
}

// Workflow contains scheduler concurrency and timing settings.
type Workflow struct {
	WorkerCount        int `toml:"worker_count"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCreated     bool   `toml:"job_created"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	ReviewNeeded   bool   `toml:"review_needed"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Ethics contains consent and safeguard settings.
type Ethics struct {
	RequireConsent     bool `toml:"require_consent"`
	EnableWatermarking bool `toml:"enable_watermarking"`
}

// Config encapsulates all configuration values for dubforge.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - StageServices: AI stage service endpoints and per-stage timeouts
//   - Quality: quality gate thresholds and overall-score weights
//   - Retry: per-stage retry budget and exponential backoff
//   - Workflow: global worker concurrency and scheduler intervals
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
//   - Ethics: consent requirement and watermark safeguards
type Config struct {
	Paths         Paths         `toml:"paths"`
	StageServices StageServices `toml:"stage_services"`
	Quality       Quality       `toml:"quality"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Ethics        Ethics        `toml:"ethics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dubforge/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dubforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	for _, v := range []*string{
		&c.StageServices.EthicsURL,
		&c.StageServices.ASRURL,
		&c.StageServices.TranslateURL,
		&c.StageServices.TTSURL,
		&c.StageServices.AnimationURL,
		&c.StageServices.QualityURL,
	} {
		*v = strings.TrimRight(strings.TrimSpace(*v), "/")
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Workflow.WorkerCount < 1 {
		problems = append(problems, "workflow.worker_count must be at least 1")
	}
	if c.Retry.MaxPerStage < 0 {
		problems = append(problems, "retry.max_retries_per_stage must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		problems = append(problems, "retry.backoff_multiplier must be at least 1")
	}
	if c.Quality.MinLipSync < 0 || c.Quality.MinLipSync > 1 {
		problems = append(problems, "quality.min_lse_c must be within [0,1]")
	}
	if c.Quality.MinAUCorrelation < 0 || c.Quality.MinAUCorrelation > 1 {
		problems = append(problems, "quality.min_au_correlation must be within [0,1]")
	}
	if c.Quality.MaxFID < 0 {
		problems = append(problems, "quality.max_fid must not be negative")
	}
	if c.Quality.MinBLEU < 0 {
		problems = append(problems, "quality.min_bleu must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
