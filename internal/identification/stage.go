package identification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"birdwatcher/internal/config"
	"birdwatcher/internal/imagehash"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/paths"
	"birdwatcher/internal/services"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
)

// FrameOutcome labels what happened to one frame.
type FrameOutcome string

const (
	OutcomeKept             FrameOutcome = "kept"
	OutcomeSkippedQuality   FrameOutcome = "skipped_quality"
	OutcomeSkippedDuplicate FrameOutcome = "skipped_duplicate"
	OutcomeSkippedNoBirds   FrameOutcome = "skipped_no_birds"
	OutcomeFailed           FrameOutcome = "failed"
)

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Detections []*store.Detection
	Outcomes   map[FrameOutcome]int
	Frames     int
	Stopped    bool
}

// SkippedLocal counts frames dropped by the quality and duplicate filters.
func (r BatchResult) SkippedLocal() int {
	return r.Outcomes[OutcomeSkippedQuality] + r.Outcomes[OutcomeSkippedDuplicate]
}

// CancelCheck reports whether processing of a video should stop.
type CancelCheck func(ctx context.Context, videoID int64) bool

// Stage runs the per-frame identification pipeline.
type Stage struct {
	store   *store.Store
	vision  vision.Service
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	paths   *paths.Resolver

	minQuality        int
	duplicateDistance int
	identifyDetail    vision.Detail
	cancelled         CancelCheck
	now               func() time.Time
}

// Option customizes a Stage.
type Option func(*Stage)

// WithMetrics records frame outcomes on m.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Stage) { s.metrics = m }
}

// WithCancelCheck stops a batch between frames once check returns true.
func WithCancelCheck(check CancelCheck) Option {
	return func(s *Stage) { s.cancelled = check }
}

// WithPaths resolves stored frame paths before reading them.
func WithPaths(p *paths.Resolver) Option {
	return func(s *Stage) { s.paths = p }
}

// NewStage builds an identification stage.
func NewStage(cfg *config.Config, st *store.Store, svc vision.Service, logger *slog.Logger, opts ...Option) *Stage {
	s := &Stage{
		store:             st,
		vision:            svc,
		logger:            logging.NewComponentLogger(logger, "identification"),
		minQuality:        cfg.Processing.MinQuality,
		duplicateDistance: cfg.Processing.DuplicateDistance,
		identifyDetail:    vision.Detail(cfg.Vision.Identify.Detail),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type analysis struct {
	Features        string `json:"features"`
	CommonName      string `json:"common_name"`
	ImageQuality    int    `json:"image_quality"`
	AssessedQuality int    `json:"assessed_quality"`
}

// ProcessBatch runs frames in order. A failing frame is logged and counted
// but never aborts the batch. The batch summary row is written even when the
// batch stops early.
func (s *Stage) ProcessBatch(ctx context.Context, video *store.Video, frames []store.Frame, jobID *int64) (BatchResult, error) {
	if video == nil {
		return BatchResult{}, services.Wrap(services.ErrValidation, "identification", "process batch", "video is required", nil)
	}
	logger := s.logger.With(logging.Int64(logging.FieldVideoID, video.ID))
	result := BatchResult{Outcomes: make(map[FrameOutcome]int)}
	var lastHash string

	for _, frame := range frames {
		if ctx.Err() != nil || (s.cancelled != nil && s.cancelled(ctx, video.ID)) {
			result.Stopped = true
			break
		}
		result.Frames++
		outcome, detections, err := s.processFrame(ctx, video, frame, &lastHash)
		if err != nil {
			outcome = OutcomeFailed
			logging.WarnWithContext(logger, "frame identification failed", "frame_failed",
				logging.Int("frame_number", frame.Number),
				logging.String("frame_path", frame.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "frame skipped; batch continues"),
			)
		}
		result.Outcomes[outcome]++
		result.Detections = append(result.Detections, detections...)
		s.metrics.RecordFrame(string(outcome))
	}

	row := store.Metrics{
		VideoID:                    video.ID,
		JobID:                      jobID,
		TotalFrames:                result.Frames,
		SkippedLowQualityDuplicate: result.SkippedLocal(),
		SkippedNoBirds:             result.Outcomes[OutcomeSkippedNoBirds],
	}
	if err := s.store.InsertMetrics(ctx, row); err != nil {
		return result, fmt.Errorf("record batch metrics: %w", err)
	}
	logger.Info("identification batch complete",
		logging.Int("frames", result.Frames),
		logging.Int("detections", len(result.Detections)),
		logging.Int("skipped_low_quality_duplicate", row.SkippedLowQualityDuplicate),
		logging.Int("skipped_no_birds", row.SkippedNoBirds),
		logging.Int("failed", result.Outcomes[OutcomeFailed]),
		logging.Bool("stopped", result.Stopped),
	)
	return result, nil
}

func (s *Stage) processFrame(ctx context.Context, video *store.Video, frame store.Frame, lastHash *string) (FrameOutcome, []*store.Detection, error) {
	file := s.paths.ToAbsolute(frame.Path)
	quality, err := imagehash.AssessQuality(file)
	if err != nil {
		return OutcomeFailed, nil, services.Wrap(services.ErrValidation, "identification", "assess quality", file, err)
	}
	if quality < s.minQuality {
		return OutcomeSkippedQuality, nil, nil
	}

	hash, err := imagehash.ComputeHash(file)
	if err != nil {
		return OutcomeFailed, nil, services.Wrap(services.ErrValidation, "identification", "hash frame", file, err)
	}
	if *lastHash != "" {
		distance, err := imagehash.HammingDistance(*lastHash, hash)
		if err == nil && distance <= s.duplicateDistance {
			return OutcomeSkippedDuplicate, nil, nil
		}
	}
	*lastHash = hash

	gate, err := s.vision.Detect(ctx, file)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if gate.BirdsDetected == 0 {
		return OutcomeSkippedNoBirds, nil, nil
	}

	identified, err := s.identify(ctx, file)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if len(identified.Birds) == 0 {
		return OutcomeSkippedNoBirds, nil, nil
	}

	detectedAt := s.detectedAt(video, frame)
	detections := make([]*store.Detection, 0, len(identified.Birds))
	for _, bird := range identified.Birds {
		payload, err := json.Marshal(analysis{
			Features:        bird.Features,
			CommonName:      bird.CommonName,
			ImageQuality:    bird.ImageQuality,
			AssessedQuality: quality,
		})
		if err != nil {
			return OutcomeFailed, detections, fmt.Errorf("encode analysis: %w", err)
		}
		detection, err := s.store.CreateDetection(ctx, store.NewDetection{
			VideoID:          video.ID,
			FrameNumber:      frame.Number,
			TimestampInVideo: frame.Timestamp,
			Species:          bird.Species,
			Gender:           bird.Gender,
			ConfidenceScore:  bird.Confidence,
			FramePath:        s.paths.ToRelative(frame.Path),
			AIAnalysis:       string(payload),
			DetectedAt:       detectedAt,
		})
		if err != nil {
			return OutcomeFailed, detections, fmt.Errorf("store detection: %w", err)
		}
		s.logger.Debug("detection created",
			logging.Int64("detection_id", detection.ID),
			logging.String("species", bird.Species),
			logging.Float64("confidence", bird.Confidence),
			logging.Int("frame_number", frame.Number),
		)
		detections = append(detections, detection)
	}
	return OutcomeKept, detections, nil
}

// identify asks at the configured detail and retries once at high detail when
// the detect gate saw birds but the identify call reported none.
func (s *Stage) identify(ctx context.Context, path string) (vision.IdentifyResult, error) {
	result, err := s.vision.Identify(ctx, path, s.identifyDetail)
	if err != nil {
		return vision.IdentifyResult{}, err
	}
	if len(result.Birds) > 0 || s.identifyDetail == vision.DetailHigh {
		return result, nil
	}
	s.logger.Info("retrying identification at high detail",
		logging.String(logging.FieldDecisionType, "identify_detail_fallback"),
		logging.String("frame_path", path),
	)
	return s.vision.Identify(ctx, path, vision.DetailHigh)
}

func (s *Stage) detectedAt(video *store.Video, frame store.Frame) time.Time {
	if video.RecordedAt != nil {
		return video.RecordedAt.Add(time.Duration(frame.Timestamp * float64(time.Second)))
	}
	logging.WarnWithContext(s.logger, "video has no recording time; using current time", "detected_at_fallback",
		logging.Int64(logging.FieldVideoID, video.ID),
		logging.Int("frame_number", frame.Number),
		logging.String(logging.FieldImpact, "sighting time reflects processing time"),
	)
	return s.now()
}
