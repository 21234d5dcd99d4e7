package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Result holds the subset of ffprobe's JSON that frame extraction reads.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream is one media stream. Numeric fields ffprobe reports as strings
// stay strings and are parsed on demand.
type Stream struct {
	CodecType    string            `json:"codec_type"`
	Duration     string            `json:"duration"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Tags         map[string]string `json:"tags"`
}

// Format is the container section.
type Format struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

// Inspect runs binary (ffprobe when blank) on path and decodes its output.
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = "ffprobe"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path,
	)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("ffprobe inspect %s: %w: %s", path, err, msg)
		}
		return Result{}, fmt.Errorf("ffprobe inspect %s: %w", path, err)
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoStream returns the first video stream.
func (r Result) VideoStream() (Stream, bool) {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s, true
		}
	}
	return Stream{}, false
}

// DurationSeconds prefers the container duration over the video stream's.
// Zero means unknown.
func (r Result) DurationSeconds() float64 {
	candidates := []string{r.Format.Duration}
	if s, ok := r.VideoStream(); ok {
		candidates = append(candidates, s.Duration)
	}
	for _, raw := range candidates {
		if d, ok := parseFloat(raw); ok && d > 0 {
			return d
		}
	}
	return 0
}

// FrameRate returns r_frame_rate, then avg_frame_rate, or 0.
func (s Stream) FrameRate() float64 {
	if rate := parseRational(s.RFrameRate); rate > 0 {
		return rate
	}
	return parseRational(s.AvgFrameRate)
}

// FirstTag returns the first non-blank value among keys. Container tags are
// searched before the video stream's.
func (r Result) FirstTag(keys ...string) (key, value string, ok bool) {
	scopes := []map[string]string{r.Format.Tags}
	if s, found := r.VideoStream(); found {
		scopes = append(scopes, s.Tags)
	}
	for _, tags := range scopes {
		for _, k := range keys {
			if v := strings.TrimSpace(tags[k]); v != "" {
				return k, v, true
			}
		}
	}
	return "", "", false
}

// parseRational reads "30000/1001", "30/1" or "25". Anything unparsable,
// including a zero denominator, is 0.
func parseRational(raw string) float64 {
	num, den, isFraction := strings.Cut(strings.TrimSpace(raw), "/")
	n, ok := parseFloat(num)
	if !ok {
		return 0
	}
	if !isFraction {
		return n
	}
	d, ok := parseFloat(den)
	if !ok || d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v, err == nil
}
