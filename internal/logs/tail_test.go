package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"birdwatcher/internal/logs"
)

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "birdwatcher.log")
	content := "a\nb\nc\npartial"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != int64(len("a\nb\nc\n")) {
		t.Fatalf("expected offset before the partial line, got %d", offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "missing.log"), 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 0 || offset != 0 {
		t.Fatalf("expected nothing for a missing file, got %#v at %d", lines, offset)
	}
}

func TestFollowStreamsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "birdwatcher.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, func(line string) {
			select {
			case lines <- line:
			default:
			}
		})
	}()

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	appended := false
	for !appended {
		select {
		case <-deadline:
			t.Fatal("follow did not report the appended line")
		case <-ticker.C:
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				t.Fatalf("open append: %v", err)
			}
			if _, err := f.WriteString("later\n"); err != nil {
				t.Fatalf("append log: %v", err)
			}
			_ = f.Close()
		case line := <-lines:
			if line != "later" {
				t.Fatalf("unexpected line %q", line)
			}
			appended = true
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop after cancel")
	}
}

func TestFilterMatchesBothFormats(t *testing.T) {
	filter := logs.Filter{VideoID: 7}
	cases := map[string]bool{
		`{"level":"INFO","msg":"frames extracted","video_id":7}`:                     true,
		`{"level":"INFO","msg":"frames extracted","video_id":17}`:                    false,
		"2024-05-01T07:00:00Z INFO pipeline: identifying birds video_id=7 frames=12": true,
		"2024-05-01T07:00:00Z INFO pipeline: identifying birds video_id=70":          false,
		"not json {": false,
	}
	for line, want := range cases {
		if got := filter.Match(line); got != want {
			t.Fatalf("Match(%q) = %v, want %v", line, got, want)
		}
	}
	if !(logs.Filter{}).Match("anything") {
		t.Fatal("expected zero filter to match")
	}
}
