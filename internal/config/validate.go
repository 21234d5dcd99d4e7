package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateSimilarity(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return c.validateLogging()
}

// RequireVisionKey reports a configuration error when no API key is available.
// Commands that never call the model skip this check.
func (c *Config) RequireVisionKey() error {
	if strings.TrimSpace(c.Vision.APIKey) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("vision.api_key is required. Set OPENAI_API_KEY env var or edit %s (create with 'birdwatcher config init')", defaultPath)
}

func (c *Config) validateVision() error {
	if err := ensurePositiveMap(map[string]int{
		"vision.timeout_seconds":     c.Vision.TimeoutSeconds,
		"vision.tokens_per_minute":   c.Vision.TokensPerMinute,
		"vision.cache_ttl_seconds":   c.Vision.CacheTTLSeconds,
		"vision.cache_max_entries":   c.Vision.CacheMaxEntries,
		"vision.detect.max_tokens":   c.Vision.Detect.MaxTokens,
		"vision.identify.max_tokens": c.Vision.Identify.MaxTokens,
		"vision.compare.max_tokens":  c.Vision.Compare.MaxTokens,
		"vision.retry_delay_ms":      c.Vision.RetryDelayMS,
	}); err != nil {
		return err
	}
	if c.Vision.MaxRetries < 0 {
		return errors.New("vision.max_retries must not be negative")
	}
	if c.Vision.MinRequestIntervalMS < 0 {
		return errors.New("vision.min_request_interval_ms must not be negative")
	}
	if c.Vision.BackoffMultiplier < 1 {
		return errors.New("vision.backoff_multiplier must be at least 1")
	}
	for key, detail := range map[string]string{
		"vision.detect.detail":   c.Vision.Detect.Detail,
		"vision.identify.detail": c.Vision.Identify.Detail,
		"vision.compare.detail":  c.Vision.Compare.Detail,
	} {
		switch detail {
		case DetailLow, DetailHigh, "auto":
		default:
			return fmt.Errorf("%s must be one of low, high, auto (got %q)", key, detail)
		}
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.FramesPerSecond <= 0 {
		return errors.New("processing.frames_per_second must be positive")
	}
	if c.Processing.BatchSize <= 0 {
		return errors.New("processing.batch_size must be positive")
	}
	for key, value := range map[string]float64{
		"processing.scene_threshold":       c.Processing.SceneThreshold,
		"processing.probe_scene_threshold": c.Processing.ProbeSceneThreshold,
	} {
		if value <= 0 || value >= 1 {
			return fmt.Errorf("%s must be between 0 and 1 (exclusive)", key)
		}
	}
	for key, value := range map[string]int{
		"processing.min_quality":            c.Processing.MinQuality,
		"processing.representative_quality": c.Processing.RepresentativeQuality,
	} {
		if value < 0 || value > 10 {
			return fmt.Errorf("%s must be between 0 and 10", key)
		}
	}
	if c.Processing.DuplicateDistance < 0 {
		return errors.New("processing.duplicate_distance must not be negative")
	}
	return nil
}

func (c *Config) validateSimilarity() error {
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 100 {
		return errors.New("similarity.threshold must be between 0 and 100")
	}
	if c.Similarity.PrefilterMinSimilarity < 0 || c.Similarity.PrefilterMinSimilarity > 100 {
		return errors.New("similarity.prefilter_min_similarity must be between 0 and 100")
	}
	if c.Similarity.MaxComparisons <= 0 {
		return errors.New("similarity.max_comparisons must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.poll_interval_ms":     c.Workflow.PollIntervalMS,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	})
}

func (c *Config) validateWatcher() error {
	if !c.Watcher.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Paths.WatchDir) == "" {
		return errors.New("paths.watch_dir must be set when watcher.enabled is true")
	}
	if c.Watcher.SettleSeconds < 0 {
		return errors.New("watcher.settle_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	addr := strings.TrimSpace(c.Metrics.ListenAddr)
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("metrics.listen_addr: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format must be console, json, or auto (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
