package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"birdwatcher/internal/config"
	"birdwatcher/internal/fileutil"
	"birdwatcher/internal/identification"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/media/frames"
	"birdwatcher/internal/media/motion"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/paths"
	"birdwatcher/internal/services"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/similarity"
	"birdwatcher/internal/store"
	"birdwatcher/internal/workflow"
)

// CancelledMessage is recorded on videos cancelled by the user.
const CancelledMessage = services.CancelledMessage

// Service owns video lifecycle operations and the stage handlers.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	vision    vision.Service
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics
	paths     *paths.Resolver
	extractor *frames.Extractor
	motion    *motion.Detector
	stage     *identification.Stage
	resolver  *similarity.Resolver
}

// Option customizes a Service.
type Option func(*Service)

// WithMetrics records ingestion, frame and resolution outcomes on m.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the pipeline and its stages.
func NewService(cfg *config.Config, st *store.Store, svc vision.Service, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		store:  st,
		vision: svc,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		paths:  paths.NewResolver(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.extractor = frames.NewExtractor(cfg, logger)
	s.motion = motion.NewDetector(cfg.FFmpegBinary(), cfg.Processing.ProbeSceneThreshold, logger)
	s.stage = identification.NewStage(cfg, st, svc, logger,
		identification.WithMetrics(s.metrics),
		identification.WithPaths(s.paths),
		identification.WithCancelCheck(s.Cancelled),
	)
	s.resolver = similarity.NewResolver(cfg, st, svc, logger,
		similarity.WithMetrics(s.metrics),
		similarity.WithPaths(s.paths),
	)
	return s
}

// Resolver exposes identity operations (merge, primary image) to callers.
func (s *Service) Resolver() *similarity.Resolver {
	return s.resolver
}

// Register binds the three stage handlers on m.
func (s *Service) Register(m *workflow.Manager) {
	m.Register(store.JobFrameExtraction, &frameExtractionHandler{svc: s})
	m.Register(store.JobBirdIdentification, &identificationHandler{svc: s})
	m.Register(store.JobSimilarityMatching, &similarityHandler{svc: s})
}

// Ingest copies src into the uploads directory, records a video row and
// starts processing it.
func (s *Service) Ingest(ctx context.Context, src string, source store.VideoSource) (*store.Video, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "ingest", "stat source", src, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "ingest", "stat source", src+" is a directory", nil)
	}
	name := filepath.Base(src)
	dst, err := fileutil.CopyInto(src, s.cfg.Paths.UploadsDir, fileutil.SanitizeName(name))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ingest", "copy into uploads", src, err)
	}
	video, err := s.store.CreateVideo(ctx, store.NewVideo{
		Filename: name,
		Filepath: s.paths.ToRelative(dst),
		Source:   source,
	})
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}
	s.metrics.RecordVideo(string(source))
	s.logger.Info("video ingested",
		logging.Int64(logging.FieldVideoID, video.ID),
		logging.String("filename", name),
		logging.String("source", string(source)),
		logging.String("stored_path", video.Filepath),
	)
	if err := s.ProcessVideo(ctx, video.ID); err != nil {
		return video, err
	}
	return s.store.GetVideo(ctx, video.ID)
}

// ProcessVideo marks the video processing and enqueues frame extraction.
// Videos already processing are left alone.
func (s *Service) ProcessVideo(ctx context.Context, videoID int64) error {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	logger := s.logger.With(logging.Int64(logging.FieldVideoID, videoID))
	if video.Status == store.VideoProcessing {
		logging.WarnWithContext(logger, "video is already processing", "already_processing",
			logging.String(logging.FieldImpact, "request ignored"),
		)
		return nil
	}
	if err := s.store.UpdateVideoStatus(ctx, videoID, store.VideoProcessing, ""); err != nil {
		return err
	}
	if _, err := s.store.EnqueueJob(ctx, videoID, store.JobFrameExtraction); err != nil {
		s.markFailed(ctx, videoID, err)
		return err
	}
	logger.Info("video processing initiated")
	return nil
}

// Cancel marks the video failed and removes its pending jobs. An active job
// is not interrupted; it stops at its next cancellation check.
func (s *Service) Cancel(ctx context.Context, videoID int64) (int64, error) {
	if _, err := s.loadVideo(ctx, videoID); err != nil {
		return 0, err
	}
	if err := s.store.UpdateVideoStatus(ctx, videoID, store.VideoFailed, CancelledMessage); err != nil {
		return 0, err
	}
	removed, err := s.store.DeletePendingJobs(ctx, videoID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("video processing cancelled",
		logging.Int64(logging.FieldVideoID, videoID),
		logging.Int64("pending_jobs_removed", removed),
	)
	return removed, nil
}

// Cancelled reports whether the video has been failed or deleted since the
// current job started.
func (s *Service) Cancelled(ctx context.Context, videoID int64) bool {
	video, err := s.store.GetVideo(ctx, videoID)
	if err != nil {
		return false
	}
	return video == nil || video.Status == store.VideoFailed
}

// Reprocess clears a video's results and restarts it from the given stage.
// Restarting at bird_identification reuses the stored frame manifest.
func (s *Service) Reprocess(ctx context.Context, videoID int64, from store.JobType) error {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video.Status == store.VideoProcessing {
		return services.Wrap(services.ErrValidation, "reprocess", "check status",
			fmt.Sprintf("video %d is processing; cancel it first", videoID), nil)
	}
	keepFrames := false
	switch from {
	case store.JobFrameExtraction:
	case store.JobBirdIdentification:
		manifest, err := s.store.ListFrames(ctx, videoID)
		if err != nil {
			return err
		}
		if len(manifest) == 0 {
			return services.Wrap(services.ErrValidation, "reprocess", "check frames",
				fmt.Sprintf("video %d has no extracted frames; reprocess from %s", videoID, store.JobFrameExtraction), nil)
		}
		keepFrames = true
	default:
		return services.Wrap(services.ErrValidation, "reprocess", "check stage",
			fmt.Sprintf("cannot restart at %q", from), nil)
	}
	if err := s.store.ResetVideoForReprocess(ctx, videoID, keepFrames); err != nil {
		return err
	}
	if err := s.store.UpdateVideoStatus(ctx, videoID, store.VideoProcessing, ""); err != nil {
		return err
	}
	if _, err := s.store.EnqueueJob(ctx, videoID, from); err != nil {
		s.markFailed(ctx, videoID, err)
		return err
	}
	s.logger.Info("video queued for reprocessing",
		logging.Int64(logging.FieldVideoID, videoID),
		logging.String(logging.FieldJobType, string(from)),
		logging.Bool("frames_reused", keepFrames),
	)
	return nil
}

// RetryJob returns a failed job to pending and the video to processing so the
// handler does not treat it as cancelled.
func (s *Service) RetryJob(ctx context.Context, jobID int64) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "retry", "load job", fmt.Sprintf("job %d not found", jobID), nil)
	}
	if err := s.store.RetryJob(ctx, jobID); err != nil {
		return err
	}
	return s.store.UpdateVideoStatus(ctx, job.VideoID, store.VideoProcessing, "")
}

// DeleteVideo removes the video row, its extracted frames and its upload.
func (s *Service) DeleteVideo(ctx context.Context, videoID int64) error {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if _, err := s.store.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	if err := s.extractor.DeleteFrames(videoID); err != nil {
		s.logger.Warn("frame cleanup failed", logging.Int64(logging.FieldVideoID, videoID), logging.Error(err))
	}
	upload := s.paths.ToAbsolute(video.Filepath)
	if rel, err := filepath.Rel(s.cfg.Paths.UploadsDir, upload); err == nil && filepath.IsLocal(rel) {
		if err := os.Remove(upload); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("upload cleanup failed", logging.String("path", upload), logging.Error(err))
		}
	}
	return nil
}

// Status is a read-only projection of a video's progress.
type Status struct {
	Video           *store.Video
	Jobs            []*store.Job
	OverallProgress int
}

// ProcessingStatus reports 100 for completed videos, 0 for failed ones and
// the mean job progress otherwise.
func (s *Service) ProcessingStatus(ctx context.Context, videoID int64) (Status, error) {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return Status{}, err
	}
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{VideoID: videoID})
	if err != nil {
		return Status{}, err
	}
	status := Status{Video: video, Jobs: jobs}
	switch {
	case video.Status == store.VideoCompleted:
		status.OverallProgress = 100
	case video.Status == store.VideoFailed:
		status.OverallProgress = 0
	case len(jobs) > 0:
		total := 0
		for _, job := range jobs {
			total += job.Progress
		}
		status.OverallProgress = total / len(jobs)
	}
	return status, nil
}

func (s *Service) loadVideo(ctx context.Context, videoID int64) (*store.Video, error) {
	video, err := s.store.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "load video", fmt.Sprintf("video %d not found", videoID), nil)
	}
	return video, nil
}

func (s *Service) markFailed(ctx context.Context, videoID int64, cause error) {
	if err := s.store.UpdateVideoStatus(ctx, videoID, store.VideoFailed, services.FailureMessage(cause)); err != nil {
		s.logger.Error("mark video failed",
			logging.Int64(logging.FieldVideoID, videoID),
			logging.Error(err),
		)
	}
}
