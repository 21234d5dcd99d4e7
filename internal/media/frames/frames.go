// Package frames probes video metadata and extracts still frames with ffmpeg.
package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"birdwatcher/internal/config"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/media/ffprobe"
	"birdwatcher/internal/services"
)

const (
	defaultFPS   = 30
	framePattern = "frame_%04d.jpg"
	jpegQuality  = "2"
)

// Frame describes one extracted image.
type Frame struct {
	Number    int
	Timestamp float64
	Path      string
}

// Metadata is the probe summary of a video.
type Metadata struct {
	DurationSeconds  float64
	Width            int
	Height           int
	FPS              float64
	RecordedAt       time.Time
	RecordedAtSource string
}

// Extractor runs ffprobe and ffmpeg for one frames root.
type Extractor struct {
	ffprobe   string
	ffmpeg    string
	framesDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewExtractor builds an extractor from configuration.
func NewExtractor(cfg *config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		ffprobe:   cfg.FFprobeBinary(),
		ffmpeg:    cfg.FFmpegBinary(),
		framesDir: cfg.Paths.FramesDir,
		logger:    logging.NewComponentLogger(logger, "frames"),
		now:       time.Now,
	}
}

// FrameDir returns the directory holding a video's frames.
func (e *Extractor) FrameDir(videoID int64) string {
	return filepath.Join(e.framesDir, strconv.FormatInt(videoID, 10))
}

// Metadata probes path. originalName is the uploaded file name used for the
// filename date pattern; the base of path is used when it is empty.
func (e *Extractor) Metadata(ctx context.Context, path, originalName string) (Metadata, error) {
	result, err := ffprobe.Inspect(ctx, e.ffprobe, path)
	if err != nil {
		return Metadata{}, services.Wrap(services.ErrExternalTool, "frames", "probe", path, err)
	}
	stream, ok := result.VideoStream()
	if !ok {
		return Metadata{}, services.Wrap(services.ErrValidation, "frames", "probe", "no video stream found", nil)
	}
	fps := stream.FrameRate()
	if fps <= 0 {
		fps = defaultFPS
	}
	if originalName == "" {
		originalName = filepath.Base(path)
	}
	recordedAt, source := e.resolveRecordedAt(result, path, originalName)
	return Metadata{
		DurationSeconds:  result.DurationSeconds(),
		Width:            stream.Width,
		Height:           stream.Height,
		FPS:              fps,
		RecordedAt:       recordedAt,
		RecordedAtSource: source,
	}, nil
}

// ExtractFrames decodes path at fps into a fresh per-video directory and
// returns the written frames with timestamp (n-1)/fps.
func (e *Extractor) ExtractFrames(ctx context.Context, path string, videoID int64, fps float64) ([]Frame, error) {
	if fps <= 0 {
		return nil, services.Wrap(services.ErrValidation, "frames", "extract", "fps must be positive", nil)
	}
	dir, err := e.resetDir(videoID)
	if err != nil {
		return nil, err
	}
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-vf", "fps=" + rate,
		"-q:v", jpegQuality,
		filepath.Join(dir, framePattern),
	}
	e.logger.Debug("ffmpeg frame extraction", logging.String("command", e.ffmpeg+" "+strings.Join(args, " ")))
	if err := e.run(ctx, args); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "frames", "extract", path, err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	sort.Strings(paths)
	frames := make([]Frame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, Frame{Number: i + 1, Timestamp: float64(i) / fps, Path: p})
	}
	e.logger.Info("frames extracted",
		logging.Int64(logging.FieldVideoID, videoID),
		logging.Int("frame_count", len(frames)),
		logging.Float64("fps", fps),
	)
	return frames, nil
}

// ExtractFramesAt captures one frame per timestamp into a fresh per-video
// directory. Individual failures are logged and skipped; an error is returned
// only when no frame could be captured.
func (e *Extractor) ExtractFramesAt(ctx context.Context, path string, videoID int64, timestamps []float64) ([]Frame, error) {
	dir, err := e.resetDir(videoID)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(timestamps))
	var lastErr error
	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		number := i + 1
		out := filepath.Join(dir, fmt.Sprintf(framePattern, number))
		if err := e.ExtractFrameAt(ctx, path, ts, out); err != nil {
			lastErr = err
			logging.WarnWithContext(e.logger, "frame capture failed", "frame_capture_failed",
				logging.Int64(logging.FieldVideoID, videoID),
				logging.Float64("timestamp", ts),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the video is readable at this timestamp"),
				logging.String(logging.FieldImpact, "instant skipped"),
			)
			continue
		}
		frames = append(frames, Frame{Number: number, Timestamp: ts, Path: out})
	}
	if len(frames) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return frames, nil
}

// ExtractFrameAt seeks to timestamp and writes a single JPEG to outPath.
func (e *Extractor) ExtractFrameAt(ctx context.Context, path string, timestamp float64, outPath string) error {
	if timestamp < 0 {
		timestamp = 0
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-q:v", jpegQuality,
		outPath,
	}
	if err := e.run(ctx, args); err != nil {
		return services.Wrap(services.ErrExternalTool, "frames", "extract_at", fmt.Sprintf("%s@%.3f", path, timestamp), err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "frames", "extract_at", "ffmpeg produced no frame", err)
	}
	return nil
}

// DeleteFrames removes a video's frame directory. Missing directories are not an error.
func (e *Extractor) DeleteFrames(videoID int64) error {
	if err := os.RemoveAll(e.FrameDir(videoID)); err != nil {
		return fmt.Errorf("delete frames for video %d: %w", videoID, err)
	}
	return nil
}

func (e *Extractor) resetDir(videoID int64) (string, error) {
	dir := e.FrameDir(videoID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear frame dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create frame dir: %w", err)
	}
	return dir, nil
}

func (e *Extractor) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with %d: %s", e.ffmpeg, exitErr.ExitCode(), strings.TrimSpace(string(output)))
		}
		return fmt.Errorf("run %s: %w", e.ffmpeg, err)
	}
	return nil
}
