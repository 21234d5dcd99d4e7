package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"birdwatcher/internal/deps"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/media/frames"
	"birdwatcher/internal/media/motion"
	"birdwatcher/internal/stage"
	"birdwatcher/internal/store"
)

// begin loads the job's video and reports whether the handler should run.
// Videos cancelled or deleted since the job was queued are skipped.
func (s *Service) begin(ctx context.Context, job *store.Job) (*store.Video, *slog.Logger, bool, error) {
	logger := logging.WithContext(ctx, s.logger)
	video, err := s.loadVideo(ctx, job.VideoID)
	if err != nil {
		return nil, logger, false, err
	}
	if video.Status == store.VideoFailed {
		logger.Info("video was cancelled; skipping job",
			logging.String(logging.FieldDecisionType, "job_skipped"),
			logging.String("error_message", video.ErrorMessage),
		)
		return video, logger, false, nil
	}
	return video, logger, true, nil
}

// finish marks the video failed for handler errors other than daemon shutdown,
// which leaves the job active for the next start to reset.
func (s *Service) finish(ctx context.Context, videoID int64, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	s.markFailed(context.WithoutCancel(ctx), videoID, err)
	return err
}

type frameExtractionHandler struct {
	svc *Service
}

func (h *frameExtractionHandler) Execute(ctx context.Context, job *store.Job) error {
	s := h.svc
	video, logger, run, err := s.begin(ctx, job)
	if err != nil || !run {
		return err
	}
	return s.finish(ctx, video.ID, h.extract(ctx, logger, job, video))
}

func (h *frameExtractionHandler) extract(ctx context.Context, logger *slog.Logger, job *store.Job, video *store.Video) error {
	s := h.svc
	progress := stage.NewProgressReporter(s.store, job, logger)
	source := s.paths.ToAbsolute(video.Filepath)

	meta, err := s.extractor.Metadata(ctx, source, video.Filename)
	if err != nil {
		return err
	}
	logger.Info("video metadata",
		logging.Float64("duration_seconds", meta.DurationSeconds),
		logging.Int("width", meta.Width),
		logging.Int("height", meta.Height),
		logging.String("recorded_at", meta.RecordedAt.Format(time.RFC3339)),
		logging.String("recorded_at_source", meta.RecordedAtSource),
	)
	progress.Report(ctx, 10)

	extracted, err := h.extractFrames(ctx, logger, source, video.ID, meta.DurationSeconds)
	if err != nil {
		return err
	}
	progress.Report(ctx, 90)

	manifest := make([]store.Frame, 0, len(extracted))
	for _, frame := range extracted {
		manifest = append(manifest, store.Frame{
			VideoID:   video.ID,
			Number:    frame.Number,
			Timestamp: frame.Timestamp,
			Path:      s.paths.ToRelative(frame.Path),
		})
	}
	if err := s.store.ReplaceFrames(ctx, video.ID, manifest); err != nil {
		return err
	}
	update := store.VideoMetadataUpdate{
		DurationSeconds:  int(math.Floor(meta.DurationSeconds)),
		FrameCount:       len(manifest),
		RecordedAtSource: store.RecordedAtSource(meta.RecordedAtSource),
	}
	if !meta.RecordedAt.IsZero() {
		recorded := meta.RecordedAt
		update.RecordedAt = &recorded
	}
	if err := s.store.UpdateVideoMetadata(ctx, video.ID, update); err != nil {
		return err
	}
	logger.Info("frames extracted", logging.Int("frames", len(manifest)))

	if s.Cancelled(ctx, video.ID) {
		logger.Info("video cancelled during extraction; not queuing identification")
		return nil
	}
	_, err = s.store.EnqueueJob(ctx, video.ID, store.JobBirdIdentification)
	return err
}

// extractFrames samples only around scene activity when the probe suggests
// the video is long and mostly static, and falls back to full-rate extraction
// when no segment is found.
func (h *frameExtractionHandler) extractFrames(ctx context.Context, logger *slog.Logger, source string, videoID int64, duration float64) ([]frames.Frame, error) {
	s := h.svc
	fps := s.cfg.Processing.FramesPerSecond
	if !s.cfg.Processing.MotionDetection || !s.motion.ShouldUseMotionDetection(ctx, source, duration) {
		return s.extractor.ExtractFrames(ctx, source, videoID, fps)
	}
	segments, err := s.motion.DetectSegments(ctx, source, s.cfg.Processing.SceneThreshold)
	if err != nil {
		logging.WarnWithContext(logger, "motion segmentation failed", "motion_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "extracting every frame at the configured rate"),
		)
		return s.extractor.ExtractFrames(ctx, source, videoID, fps)
	}
	timestamps := motion.FrameTimestamps(segments, fps)
	if len(timestamps) == 0 {
		logging.WarnWithContext(logger, "motion detection found no segments", "motion_empty",
			logging.String(logging.FieldImpact, "extracting every frame at the configured rate"),
		)
		return s.extractor.ExtractFrames(ctx, source, videoID, fps)
	}
	savings := motion.EstimateSavings(duration, segments, fps)
	logger.Info("motion-guided extraction",
		logging.String(logging.FieldDecisionType, "motion_extraction"),
		logging.Int("segments", len(segments)),
		logging.Int("frames_saved", savings.FramesSaved),
		logging.Float64("percent_saved", math.Round(savings.PercentSaved*10)/10),
	)
	return s.extractor.ExtractFramesAt(ctx, source, videoID, timestamps)
}

func (h *frameExtractionHandler) HealthCheck(context.Context) stage.Health {
	cfg := h.svc.cfg
	statuses := deps.CheckBinaries(deps.MediaTools(cfg.FFmpegBinary(), cfg.FFprobeBinary()))
	if missing, ok := deps.FirstMissing(statuses); ok {
		return stage.Unhealthy(string(store.JobFrameExtraction), missing.Detail)
	}
	return stage.Healthy(string(store.JobFrameExtraction))
}

type identificationHandler struct {
	svc *Service
}

func (h *identificationHandler) Execute(ctx context.Context, job *store.Job) error {
	s := h.svc
	video, logger, run, err := s.begin(ctx, job)
	if err != nil || !run {
		return err
	}
	return s.finish(ctx, video.ID, h.identify(ctx, logger, job, video))
}

func (h *identificationHandler) identify(ctx context.Context, logger *slog.Logger, job *store.Job, video *store.Video) error {
	s := h.svc
	manifest, err := s.store.ListFrames(ctx, video.ID)
	if err != nil {
		return err
	}
	logger.Info("identifying birds", logging.Int("frames", len(manifest)))

	progress := stage.NewProgressReporter(s.store, job, logger)
	batchSize := max(1, s.cfg.Processing.BatchSize)
	jobID := job.ID
	detections := 0
	for start := 0; start < len(manifest); start += batchSize {
		end := min(start+batchSize, len(manifest))
		result, err := s.stage.ProcessBatch(ctx, video, manifest[start:end], &jobID)
		if err != nil {
			return err
		}
		detections += len(result.Detections)
		progress.Fraction(ctx, start+result.Frames, len(manifest))
		if result.Stopped {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info("video cancelled during identification; stopping",
				logging.Int("frames_done", start+result.Frames),
			)
			return nil
		}
		logger.Debug("identification progress",
			logging.Int("frames_done", end),
			logging.Int("frames_total", len(manifest)),
			logging.Int("detections", detections),
		)
	}

	if s.Cancelled(ctx, video.ID) {
		return nil
	}
	if detections > 0 {
		logger.Info("birds identified", logging.Int("detections", detections))
		_, err := s.store.EnqueueJob(ctx, video.ID, store.JobSimilarityMatching)
		return err
	}
	logger.Info("no birds detected; video complete",
		logging.String(logging.FieldDecisionType, "no_birds"),
	)
	return s.store.UpdateVideoStatus(ctx, video.ID, store.VideoCompleted, "")
}

func (h *identificationHandler) HealthCheck(ctx context.Context) stage.Health {
	return visionHealth(ctx, h.svc, string(store.JobBirdIdentification))
}

type similarityHandler struct {
	svc *Service
}

func (h *similarityHandler) Execute(ctx context.Context, job *store.Job) error {
	s := h.svc
	video, logger, run, err := s.begin(ctx, job)
	if err != nil || !run {
		return err
	}
	return s.finish(ctx, video.ID, h.match(ctx, logger, job, video))
}

func (h *similarityHandler) match(ctx context.Context, logger *slog.Logger, job *store.Job, video *store.Video) error {
	s := h.svc
	unmatched, err := s.store.FindUnmatchedDetections(ctx, video.ID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(unmatched))
	for _, detection := range unmatched {
		ids = append(ids, detection.ID)
	}
	logger.Info("matching detections to bird profiles", logging.Int("detections", len(ids)))

	result := s.resolver.ResolveAll(ctx, ids)
	stage.NewProgressReporter(s.store, job, logger).Report(ctx, 100)
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("similarity matching complete",
		logging.Int("matched", result.Matched),
		logging.Int("new_birds", result.New),
		logging.Int("failed", result.Failed),
	)
	if result.Failed > 0 {
		logging.WarnWithContext(logger, "some detections were left unmatched", "detections_unmatched",
			logging.Int("failed", result.Failed),
			logging.Int("detections", len(ids)),
			logging.String(logging.FieldErrorHint, "see the resolution_failed warnings for each detection"),
			logging.String(logging.FieldImpact, "unmatched detections have no bird profile"),
		)
	}
	if s.Cancelled(ctx, video.ID) {
		return nil
	}
	return s.store.UpdateVideoStatus(ctx, video.ID, store.VideoCompleted, "")
}

func (h *similarityHandler) HealthCheck(ctx context.Context) stage.Health {
	return visionHealth(ctx, h.svc, string(store.JobSimilarityMatching))
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func visionHealth(ctx context.Context, s *Service, name string) stage.Health {
	checker, ok := s.vision.(healthChecker)
	if !ok {
		return stage.Healthy(name)
	}
	return stage.FromError(name, checker.HealthCheck(ctx))
}
