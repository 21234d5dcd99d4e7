package testsupport

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"birdwatcher/internal/config"
)

// ConfigOption adjusts the config built by NewConfig.
type ConfigOption func(t testing.TB, cfg *config.Config)

// NewConfig returns defaults rooted in a fresh temp directory, with a fast
// poll loop and a dummy API key so validation passes.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Vision.APIKey = "test"
	cfg.Paths.DataDir = base
	for dir, name := range map[*string]string{
		&cfg.Paths.UploadsDir:    "uploads",
		&cfg.Paths.FramesDir:     "frames",
		&cfg.Paths.BirdImagesDir: "bird-images",
		&cfg.Paths.WatchDir:      "watch",
		&cfg.Paths.LogDir:        "logs",
		&cfg.Paths.DatabasePath:  "birdwatcher.db",
	} {
		*dir = filepath.Join(base, name)
	}
	cfg.Workflow.PollIntervalMS = 10
	cfg.Workflow.ErrorRetryInterval = 1
	for _, opt := range opts {
		opt(t, &cfg)
	}
	return &cfg
}

// WithVisionEndpoint points the vision client at a test server and removes
// request pacing.
func WithVisionEndpoint(url string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Vision.BaseURL = url
		cfg.Vision.MinRequestIntervalMS = 0
		cfg.Vision.RetryDelayMS = 1
	}
}

// WithStubScript installs an executable named name running script and puts
// it first on PATH for the rest of the test.
func WithStubScript(name, script string) ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		t.Helper()
		binDir := filepath.Join(cfg.Paths.DataDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
		path := os.Getenv("PATH")
		if slices.Contains(filepath.SplitList(path), binDir) {
			return
		}
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+path)
	}
}

// BaseDir returns the temp directory backing a config from NewConfig.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataDir
}
