package ipc_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

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
	return vision.CacheStats{Entries: f.entries, MaxEntries: 1000, Hits: 3, Misses: 2, TTL: time.Hour}
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, logger)
	mgr.Register(store.JobFrameExtraction, stage.Func{Name: "noop", Fn: func(context.Context, *store.Job) error { return nil }})
	cache := &fakeCache{entries: 4}
	d, err := daemon.New(cfg, st, logger, mgr, daemon.WithVisionCache(cache))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := daemon.SocketPath(cfg)
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.DatabasePath != cfg.Paths.DatabasePath {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.HandlerHealth) != 1 || status.HandlerHealth[0].Name != string(store.JobFrameExtraction) || !status.HandlerHealth[0].Ready {
		t.Fatalf("unexpected handler health: %+v", status.HandlerHealth)
	}
	if status.Cache == nil || status.Cache.Entries != 4 {
		t.Fatalf("expected cache stats in status, got %+v", status.Cache)
	}

	stats, err := client.CacheStats()
	if err != nil {
		t.Fatalf("CacheStats RPC failed: %v", err)
	}
	if stats.Stats.Hits != 3 || stats.Stats.TTL != time.Hour {
		t.Fatalf("unexpected cache stats: %+v", stats.Stats)
	}

	cleared, err := client.ClearCache()
	if err != nil {
		t.Fatalf("ClearCache RPC failed: %v", err)
	}
	if cleared.Cleared != 4 || cache.CacheStats().Entries != 0 {
		t.Fatalf("expected 4 entries cleared, got %+v", cleared)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatalf("expected Stop to report stopped, got: %#v", stopResp)
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
