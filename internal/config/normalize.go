package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	// A missing .env is the common case.
	_ = godotenv.Load()

	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeVision()
	c.normalizeWatcher()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := lookupEnv("BIRDWATCHER_API_KEY", "OPENAI_API_KEY"); ok && strings.TrimSpace(c.Vision.APIKey) == "" {
		c.Vision.APIKey = value
	}
	if value, ok := lookupEnv("BIRDWATCHER_BASE_URL", "OPENAI_BASE_URL"); ok {
		c.Vision.BaseURL = value
	}
	if value, ok := lookupEnv("BIRDWATCHER_MODEL", "OPENAI_MODEL"); ok {
		c.Vision.Model = value
	}
	if value, ok := lookupEnv("BIRDWATCHER_DATA_DIR"); ok {
		c.Paths.DataDir = value
	}
	if value, ok := lookupEnv("BIRDWATCHER_DATABASE_PATH", "DATABASE_PATH"); ok {
		c.Paths.DatabasePath = value
	}
	if value, ok := lookupEnv("BIRDWATCHER_WATCH_DIR", "WATCH_FOLDER"); ok {
		c.Paths.WatchDir = value
	}
	if value, ok := lookupEnv("SIMILARITY_THRESHOLD"); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			c.Similarity.Threshold = parsed
		}
	}
	if value, ok := lookupEnv("MAX_SIMILARITY_COMPARISONS"); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			c.Similarity.MaxComparisons = parsed
		}
	}
	if value, ok := lookupEnv("BIRDWATCHER_LOG_LEVEL", "LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key   string
		value *string
		child string
	}{
		{"paths.uploads_dir", &c.Paths.UploadsDir, "uploads"},
		{"paths.frames_dir", &c.Paths.FramesDir, "frames"},
		{"paths.bird_images_dir", &c.Paths.BirdImagesDir, "bird-images"},
		{"paths.watch_dir", &c.Paths.WatchDir, "watch"},
		{"paths.log_dir", &c.Paths.LogDir, "logs"},
		{"paths.database_path", &c.Paths.DatabasePath, defaultDatabaseFile},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.child)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeVision() {
	c.Vision.APIKey = strings.TrimSpace(c.Vision.APIKey)
	c.Vision.BaseURL = strings.TrimSpace(c.Vision.BaseURL)
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = defaultVisionBaseURL
	}
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
	for _, op := range []*VisionOperation{&c.Vision.Detect, &c.Vision.Identify, &c.Vision.Compare} {
		op.Detail = strings.ToLower(strings.TrimSpace(op.Detail))
	}
}

func (c *Config) normalizeWatcher() {
	if len(c.Watcher.Extensions) == 0 {
		c.Watcher.Extensions = append([]string(nil), defaultVideoExtensions...)
	}
	normalized := make([]string, 0, len(c.Watcher.Extensions))
	for _, ext := range c.Watcher.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	c.Watcher.Extensions = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
