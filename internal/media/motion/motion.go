// Package motion finds the parts of a video where the scene changes so frame
// extraction can skip static footage.
package motion

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"birdwatcher/internal/logging"
)

const (
	// DefaultGroupWindow merges scene changes closer than this many seconds.
	DefaultGroupWindow = 3.0
	segmentPadding     = 1.0

	longVideoSeconds  = 30.0
	shortVideoSeconds = 10.0
	defaultProbe      = 0.4
	staticDensity     = 0.1
)

var ptsTimePattern = regexp.MustCompile(`pts_time:(\d+\.?\d*)`)

// Segment is a padded time range with scene activity.
type Segment struct {
	Start    float64
	End      float64
	Duration float64
}

// Savings compares full extraction against motion-guided extraction.
type Savings struct {
	WithoutMotion int
	WithMotion    int
	FramesSaved   int
	PercentSaved  float64
}

// Detector runs ffmpeg scene detection.
type Detector struct {
	ffmpeg         string
	probeThreshold float64
	logger         *slog.Logger
}

// NewDetector returns a detector using the given ffmpeg binary. probeThreshold
// is the scene threshold used when deciding whether to segment at all.
func NewDetector(ffmpeg string, probeThreshold float64, logger *slog.Logger) *Detector {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if probeThreshold <= 0 || probeThreshold > 1 {
		probeThreshold = defaultProbe
	}
	return &Detector{ffmpeg: ffmpeg, probeThreshold: probeThreshold, logger: logging.NewComponentLogger(logger, "motion")}
}

// DetectSegments returns padded segments around scene changes above threshold.
// An empty result means no change was seen and callers should extract the
// whole video.
func (d *Detector) DetectSegments(ctx context.Context, path string, threshold float64) ([]Segment, error) {
	changes, err := d.sceneChanges(ctx, path, threshold)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		d.logger.Warn("no scene changes detected",
			logging.String("path", path),
			logging.String(logging.FieldEventType, "motion_none"),
			logging.String(logging.FieldImpact, "entire video will be processed"),
		)
		return nil, nil
	}
	segments := GroupSegments(changes, DefaultGroupWindow)
	d.logger.Info("motion segments detected",
		logging.String("path", path),
		logging.Int("scene_changes", len(changes)),
		logging.Int("segments", len(segments)),
		logging.Float64("motion_seconds", totalDuration(segments)),
	)
	return segments, nil
}

// ShouldUseMotionDetection decides whether motion-guided extraction is worth
// it. Long videos always use it, short ones never do, and mid-length videos
// use it only when the footage is mostly static.
func (d *Detector) ShouldUseMotionDetection(ctx context.Context, path string, duration float64) bool {
	if duration > longVideoSeconds {
		d.logger.Info("motion detection enabled", logging.String(logging.FieldDecisionType, "motion_mode"), logging.String("reason", "long video"))
		return true
	}
	if duration <= shortVideoSeconds {
		d.logger.Info("motion detection skipped", logging.String(logging.FieldDecisionType, "motion_mode"), logging.String("reason", "short video"))
		return false
	}
	changes, err := d.sceneChanges(ctx, path, d.probeThreshold)
	if err != nil {
		logging.WarnWithContext(d.logger, "motion probe failed", "motion_probe_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "full extraction used"),
		)
		return false
	}
	density := float64(len(changes)) / duration
	use := density < staticDensity
	d.logger.Info("motion detection decision",
		logging.String(logging.FieldDecisionType, "motion_mode"),
		logging.Bool("enabled", use),
		logging.Float64("changes_per_second", density),
	)
	return use
}

func (d *Detector) sceneChanges(ctx context.Context, path string, threshold float64) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(threshold, 'f', -1, 64))
	cmd := exec.CommandContext(ctx, d.ffmpeg, "-hide_banner", "-i", path, "-vf", filter, "-f", "null", "-")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("scene detection stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start scene detection: %w", err)
	}
	var (
		timestamps []float64
		tail       []string
	)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ts, ok := ParsePTSTime(line); ok {
			timestamps = append(timestamps, ts)
			continue
		}
		tail = append(tail, line)
		if len(tail) > 5 {
			tail = tail[1:]
		}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("scene detection: %w: %s", err, strings.Join(tail, " | "))
	}
	return timestamps, nil
}

// ParsePTSTime extracts the pts_time value from an ffmpeg showinfo line.
func ParsePTSTime(line string) (float64, bool) {
	match := ptsTimePattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// GroupSegments merges sorted change times no more than window apart and pads
// each group by one second on either side, clamping the start at zero.
func GroupSegments(timestamps []float64, window float64) []Segment {
	if len(timestamps) == 0 {
		return nil
	}
	sorted := append([]float64(nil), timestamps...)
	sort.Float64s(sorted)

	var segments []Segment
	start, end := sorted[0], sorted[0]
	flush := func() {
		segments = append(segments, Segment{
			Start:    math.Max(0, start-segmentPadding),
			End:      end + segmentPadding,
			Duration: end - start + 2*segmentPadding,
		})
	}
	for _, ts := range sorted[1:] {
		if ts-end <= window {
			end = ts
			continue
		}
		flush()
		start, end = ts, ts
	}
	flush()
	return segments
}

// FrameTimestamps returns sorted instants spaced 1/fps apart inside each
// segment, rounded to hundredths.
func FrameTimestamps(segments []Segment, fps float64) []float64 {
	if fps <= 0 {
		return nil
	}
	interval := 1 / fps
	var out []float64
	for _, seg := range segments {
		for i := 0; ; i++ {
			ts := seg.Start + float64(i)*interval
			if ts >= seg.End {
				break
			}
			out = append(out, math.Round(ts*100)/100)
		}
	}
	sort.Float64s(out)
	return out
}

// EstimateSavings reports how many frames motion-guided extraction avoids.
func EstimateSavings(duration float64, segments []Segment, fps float64) Savings {
	total := int(math.Floor(duration * fps))
	withMotion := int(math.Floor(totalDuration(segments) * fps))
	saved := total - withMotion
	var percent float64
	if total > 0 {
		percent = float64(saved) / float64(total) * 100
	}
	return Savings{
		WithoutMotion: total,
		WithMotion:    withMotion,
		FramesSaved:   saved,
		PercentSaved:  percent,
	}
}

func totalDuration(segments []Segment) float64 {
	var sum float64
	for _, seg := range segments {
		sum += seg.Duration
	}
	return sum
}
