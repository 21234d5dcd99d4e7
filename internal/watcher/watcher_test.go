package watcher_test

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
	"birdwatcher/internal/watcher"
)

type recordingIngestor struct {
	mu    sync.Mutex
	names []string
	calls chan string
}

func (r *recordingIngestor) Ingest(_ context.Context, src string, source store.VideoSource) (*store.Video, error) {
	name := filepath.Base(src)
	r.mu.Lock()
	r.names = append(r.names, string(source)+":"+name)
	r.mu.Unlock()
	r.calls <- name
	return &store.Video{ID: 1, Filename: name}, nil
}

func (r *recordingIngestor) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.names...)
	sort.Strings(out)
	return out
}

func waitFor(t *testing.T, calls <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-calls:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestAccepts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	w := watcher.New(cfg, nil, nil, logging.NewNop())
	cases := map[string]bool{
		"clip.mp4":         true,
		"CLIP.MOV":         true,
		"/a/b/feeder.mkv":  true,
		".partial.mp4":     false,
		"notes.txt":        false,
		"archive.mp4.part": false,
	}
	for name, want := range cases {
		if got := w.Accepts(name); got != want {
			t.Fatalf("Accepts(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRunIngestsSettledFilesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewVideo(t, st, "known.mp4")

	for _, name := range []string{"existing.mp4", "known.mp4", "notes.txt", ".hidden.mp4"} {
		testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, name), 64)
	}

	ingestor := &recordingIngestor{calls: make(chan string, 8)}
	w := watcher.New(cfg, st, ingestor, logging.NewNop(), watcher.WithSettle(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, ingestor.calls, "existing.mp4")
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "fresh.mp4"), 128)
	waitFor(t, ingestor.calls, "fresh.mp4")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	want := []string{"camera:existing.mp4", "camera:fresh.mp4"}
	got := ingestor.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected ingestions: %v", got)
	}
}
