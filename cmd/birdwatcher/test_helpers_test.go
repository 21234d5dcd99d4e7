package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"birdwatcher/internal/config"
	"birdwatcher/internal/daemon"
	"birdwatcher/internal/ipc"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/stage"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
	"birdwatcher/internal/workflow"
)

type fakeCache struct {
	mu      sync.Mutex
	entries int
}

func (f *fakeCache) ClearCache() {
	f.mu.Lock()
	f.entries = 0
	f.mu.Unlock()
}

func (f *fakeCache) CacheStats() vision.CacheStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vision.CacheStats{Entries: f.entries, MaxEntries: 1000, Hits: 9, Misses: 1}
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, key := range []string{"BIRDWATCHER_DATA_DIR", "BIRDWATCHER_DATABASE_PATH", "DATABASE_PATH", "BIRDWATCHER_WATCH_DIR", "WATCH_FOLDER"} {
		t.Setenv(key, "")
	}

	configPath := filepath.Join(homeDir, ".config", "birdwatcher", "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, logger)
	mgr.Register(store.JobFrameExtraction, stage.Func{Name: "noop", Fn: func(context.Context, *store.Job) error { return nil }})

	d, err := daemon.New(cfg, st, logger, mgr, daemon.WithVisionCache(&fakeCache{entries: 5}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

// runCLI executes a fresh root command and captures both streams.
func runCLI(t *testing.T, args []string, socket, configPath string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	argv := []string{"--socket", socket}
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	root.SetArgs(append(argv, args...))
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func (env *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("birdwatcher %s: %v (stderr %q)", strings.Join(args, " "), err, stderr)
	}
	return out
}

// writeTestConfig persists cfg so the CLI loads the same temp paths the
// test store and daemon use.
func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
