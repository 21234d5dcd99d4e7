package store

import (
	"fmt"
	"strings"
	"time"
)

// VideoStatus tracks a video through the processing pipeline.
type VideoStatus string

const (
	VideoPending    VideoStatus = "pending"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

// VideoSource records how a video entered the system.
type VideoSource string

const (
	SourceUpload VideoSource = "upload"
	SourceCamera VideoSource = "camera"
)

// RecordedAtSource records which fallback produced a video's recording time.
type RecordedAtSource string

const (
	RecordedAtMetadata RecordedAtSource = "metadata"
	RecordedAtFilename RecordedAtSource = "filename"
	RecordedAtFileTime RecordedAtSource = "file_ctime"
	RecordedAtFallback RecordedAtSource = "fallback"
)

// JobType names a pipeline stage.
type JobType string

const (
	JobFrameExtraction    JobType = "frame_extraction"
	JobBirdIdentification JobType = "bird_identification"
	JobSimilarityMatching JobType = "similarity_matching"
)

// JobTypes lists the pipeline stages in execution order.
var JobTypes = []JobType{JobFrameExtraction, JobBirdIdentification, JobSimilarityMatching}

// ParseJobType converts user input into a JobType.
func ParseJobType(value string) (JobType, error) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	for _, jt := range JobTypes {
		if jt == normalized {
			return jt, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", value)
}

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ParseVideoStatus converts user input into a VideoStatus.
func ParseVideoStatus(value string) (VideoStatus, error) {
	switch status := VideoStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case VideoPending, VideoProcessing, VideoCompleted, VideoFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown video status %q", value)
	}
}

// Gender values reported for detections.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = "unknown"
)

// NormalizeGender maps free-form model output onto the stored gender values.
func NormalizeGender(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// Video is an ingested recording.
type Video struct {
	ID               int64
	Filename         string
	Filepath         string
	Source           VideoSource
	DurationSeconds  int
	FrameCount       int
	Status           VideoStatus
	ErrorMessage     string
	RecordedAt       *time.Time
	RecordedAtSource RecordedAtSource
	CreatedAt        time.Time
	ProcessedAt      *time.Time
}

// Frame is one extracted still image belonging to a video.
type Frame struct {
	ID        int64
	VideoID   int64
	Number    int
	Timestamp float64
	Path      string
}

// Detection is one model-reported bird in one frame.
type Detection struct {
	ID               int64
	VideoID          int64
	BirdProfileID    *int64
	FrameNumber      int
	TimestampInVideo float64
	Species          string
	Gender           string
	ConfidenceScore  float64
	FramePath        string
	AIAnalysis       string
	IsMatched        bool
	MatchConfidence  *float64
	DetectedAt       time.Time
	CreatedAt        time.Time
}

// BirdProfile is a persistent identity aggregating detections of one individual.
type BirdProfile struct {
	ID                      int64
	UniqueIdentifier        string
	Species                 string
	CommonName              string
	PrimaryGender           string
	ConfidenceScore         float64
	FirstSeen               time.Time
	LastSeen                time.Time
	TotalVisits             int
	RepresentativeImagePath string
	Notes                   string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// RepresentativeImage is an exemplar frame used as a profile's visual reference.
type RepresentativeImage struct {
	ID            int64
	BirdProfileID int64
	DetectionID   *int64
	ImagePath     string
	QualityScore  int
	IsPrimary     bool
	CreatedAt     time.Time
}

// Job is one unit of pipeline work for one video.
type Job struct {
	ID           int64
	VideoID      int64
	Type         JobType
	Status       JobStatus
	Progress     int
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// IsTerminal reports whether the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j != nil && (j.Status == JobCompleted || j.Status == JobFailed)
}

// Metrics is the per-batch identification summary.
type Metrics struct {
	ID                         int64
	VideoID                    int64
	JobID                      *int64
	TotalFrames                int
	SkippedLowQualityDuplicate int
	SkippedNoBirds             int
	CreatedAt                  time.Time
}

// MetricsSummary aggregates Metrics rows for one video.
type MetricsSummary struct {
	VideoID                    int64
	Batches                    int
	TotalFrames                int
	SkippedLowQualityDuplicate int
	SkippedNoBirds             int
}

// AnalyzedFrames returns frames that reached the full identification call.
func (m MetricsSummary) AnalyzedFrames() int {
	analyzed := m.TotalFrames - m.SkippedLowQualityDuplicate - m.SkippedNoBirds
	if analyzed < 0 {
		return 0
	}
	return analyzed
}

// Stats summarizes table counts for status displays.
type Stats struct {
	VideosByStatus   map[VideoStatus]int
	JobsByStatus     map[JobStatus]int
	Profiles         int
	Species          int
	Detections       int
	UnmatchedPending int
}
