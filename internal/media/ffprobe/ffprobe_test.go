package ffprobe

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio"},
			{CodecType: "video", Width: 1920, Height: 1080, RFrameRate: "30000/1001", Tags: map[string]string{"creation_time": "2024-05-01T07:30:00Z"}},
		},
		Format: Format{Duration: "123.45", Tags: map[string]string{"date": "  "}},
	}
	stream, ok := result.VideoStream()
	if !ok || stream.Width != 1920 {
		t.Fatalf("expected video stream, got %+v", stream)
	}
	if rate := stream.FrameRate(); math.Abs(rate-29.97) > 0.01 {
		t.Fatalf("unexpected frame rate: %v", rate)
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	key, value, ok := result.FirstTag("date", "creation_time")
	if !ok || key != "creation_time" || value != "2024-05-01T07:30:00Z" {
		t.Fatalf("unexpected tag lookup: %q %q %v", key, value, ok)
	}
}

func TestDurationFallsBackToStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "9.5"}},
		Format:  Format{Duration: "bad"},
	}
	if result.DurationSeconds() != 9.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if (Result{}).DurationSeconds() != 0 {
		t.Fatal("expected zero duration for empty result")
	}
}

func TestParseRational(t *testing.T) {
	cases := map[string]float64{"30/1": 30, "25": 25, "0/0": 0, "x/1": 0, "": 0}
	for in, want := range cases {
		if got := parseRational(in); got != want {
			t.Fatalf("parseRational(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInspectRunsBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	body := "#!/bin/sh\ncat <<'JSON'\n{\"streams\":[{\"codec_type\":\"video\",\"r_frame_rate\":\"25/1\"}],\"format\":{\"duration\":\"4.0\"}}\nJSON\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	result, err := Inspect(context.Background(), script, "clip.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	stream, _ := result.VideoStream()
	if stream.FrameRate() != 25 || result.DurationSeconds() != 4 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := Inspect(context.Background(), script, " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
