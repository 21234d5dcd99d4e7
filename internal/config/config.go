package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories and database location used by the pipeline.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	UploadsDir    string `toml:"uploads_dir"`
	FramesDir     string `toml:"frames_dir"`
	BirdImagesDir string `toml:"bird_images_dir"`
	WatchDir      string `toml:"watch_dir"`
	DatabasePath  string `toml:"database_path"`
	LogDir        string `toml:"log_dir"`
}

// VisionOperation holds the per-operation request shape sent to the vision model.
type VisionOperation struct {
	MaxTokens int    `toml:"max_tokens"`
	Detail    string `toml:"detail"`
}

// Vision contains connection, pacing, retry, and cache settings for the vision model.
type Vision struct {
	APIKey               string          `toml:"api_key"`
	BaseURL              string          `toml:"base_url"`
	Model                string          `toml:"model"`
	TimeoutSeconds       int             `toml:"timeout_seconds"`
	MaxRetries           int             `toml:"max_retries"`
	RetryDelayMS         int             `toml:"retry_delay_ms"`
	BackoffMultiplier    float64         `toml:"backoff_multiplier"`
	MinRequestIntervalMS int             `toml:"min_request_interval_ms"`
	TokensPerMinute      int             `toml:"tokens_per_minute"`
	CacheTTLSeconds      int             `toml:"cache_ttl_seconds"`
	CacheMaxEntries      int             `toml:"cache_max_entries"`
	Detect               VisionOperation `toml:"detect"`
	Identify             VisionOperation `toml:"identify"`
	Compare              VisionOperation `toml:"compare"`
}

// Processing contains frame extraction and identification tuning.
type Processing struct {
	FramesPerSecond       float64 `toml:"frames_per_second"`
	BatchSize             int     `toml:"batch_size"`
	MotionDetection       bool    `toml:"motion_detection"`
	SceneThreshold        float64 `toml:"scene_threshold"`
	ProbeSceneThreshold   float64 `toml:"probe_scene_threshold"`
	MinQuality            int     `toml:"min_quality"`
	DuplicateDistance     int     `toml:"duplicate_distance"`
	RepresentativeQuality int     `toml:"representative_quality"`
}

// Similarity contains identity resolution thresholds.
type Similarity struct {
	Threshold              float64 `toml:"threshold"`
	MaxComparisons         int     `toml:"max_comparisons"`
	PrefilterMinSimilarity float64 `toml:"prefilter_min_similarity"`
}

// Workflow contains job queue timing.
type Workflow struct {
	PollIntervalMS     int `toml:"poll_interval_ms"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Watcher contains camera watch-folder settings.
type Watcher struct {
	Enabled       bool     `toml:"enabled"`
	SettleSeconds int      `toml:"settle_seconds"`
	Extensions    []string `toml:"extensions"`
}

// Metrics contains the Prometheus endpoint settings.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for birdwatcher.
//
// Configuration sections by subsystem:
//   - Paths: data directories and the SQLite database location
//   - Vision: model endpoint, pacing, retry, and response cache
//   - Processing: frame sampling, motion segmentation, frame filters
//   - Similarity: identity resolution thresholds
//   - Workflow: job queue polling
//   - Watcher: camera watch folder ingestion
//   - Metrics: Prometheus endpoint
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Vision     Vision     `toml:"vision"`
	Processing Processing `toml:"processing"`
	Similarity Similarity `toml:"similarity"`
	Workflow   Workflow   `toml:"workflow"`
	Watcher    Watcher    `toml:"watcher"`
	Metrics    Metrics    `toml:"metrics"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the config at path, or the first file found among the default
// locations when path is blank. A missing file yields defaults. It returns
// the config, the path considered and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// resolveConfigPath expands an explicit path, or searches the user config
// location and then ./birdwatcher.toml.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	fallback, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	local, err := filepath.Abs("birdwatcher.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{fallback, local} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return fallback, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates the directories the daemon and CLI write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.UploadsDir,
		c.Paths.FramesDir,
		c.Paths.BirdImagesDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.DatabasePath),
	}
	if c.Watcher.Enabled {
		dirs = append(dirs, c.Paths.WatchDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFprobeBinary returns the ffprobe executable name used for metadata probes.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for frame extraction.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// PollInterval returns the job queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalMS) * time.Millisecond
}

// ErrorRetryInterval returns how long the job loop backs off after a store error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// SettleDuration returns how long a watched file must stay unchanged before ingestion.
func (c *Config) SettleDuration() time.Duration {
	return time.Duration(c.Watcher.SettleSeconds) * time.Second
}

// expandPath resolves a leading ~ and returns a clean absolute path.
// Blank stays blank.
func expandPath(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if raw == "~" || strings.HasPrefix(raw, "~/") || strings.HasPrefix(raw, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		raw = filepath.Join(home, raw[1:])
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", raw, err)
	}
	return abs, nil
}

// ExpandPath applies the config path rules to a path given on the command line.
func ExpandPath(raw string) (string, error) {
	return expandPath(raw)
}

// CreateSample writes the annotated sample config to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets redacted.
func (c *Config) Encode() (string, error) {
	clone := *c
	if clone.Vision.APIKey != "" {
		clone.Vision.APIKey = "<redacted>"
	}
	var sb strings.Builder
	encoder := toml.NewEncoder(&sb)
	if err := encoder.Encode(clone); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return sb.String(), nil
}
