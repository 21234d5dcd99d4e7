package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks frame filtering, job execution and identity resolution.
type PipelineMetrics struct {
	FramesTotal      *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	ResolutionsTotal *prometheus.CounterVec
	ComparisonsTotal *prometheus.CounterVec
	VideosIngested   *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers pipeline collectors.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_frames_total",
				Help: "Frames seen by the identification stage partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_jobs_total",
				Help: "Finished processing jobs partitioned by type and final status.",
			},
			[]string{"type", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "birdwatcher_job_duration_seconds",
				Help:    "Processing job wall time.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"type"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_resolutions_total",
				Help: "Identity resolution decisions partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		ComparisonsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_comparisons_total",
				Help: "Candidate comparisons partitioned by stage (prefilter or model) and result.",
			},
			[]string{"stage", "result"},
		),
		VideosIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_videos_ingested_total",
				Help: "Videos registered for processing partitioned by source.",
			},
			[]string{"source"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// RecordFrame counts one frame outcome.
func (m *PipelineMetrics) RecordFrame(outcome string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(outcome).Inc()
}

// RecordJob counts a finished job.
func (m *PipelineMetrics) RecordJob(jobType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordResolution counts one resolution outcome.
func (m *PipelineMetrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordComparison counts a prefilter or model comparison result.
func (m *PipelineMetrics) RecordComparison(stage, result string) {
	if m == nil {
		return
	}
	m.ComparisonsTotal.WithLabelValues(stage, result).Inc()
}

// RecordVideo counts an ingested video.
func (m *PipelineMetrics) RecordVideo(source string) {
	if m == nil {
		return
	}
	m.VideosIngested.WithLabelValues(source).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesTotal.Describe(ch)
	m.JobsTotal.Describe(ch)
	m.JobDuration.Describe(ch)
	m.ResolutionsTotal.Describe(ch)
	m.ComparisonsTotal.Describe(ch)
	m.VideosIngested.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesTotal.Collect(ch)
	m.JobsTotal.Collect(ch)
	m.JobDuration.Collect(ch)
	m.ResolutionsTotal.Collect(ch)
	m.ComparisonsTotal.Collect(ch)
	m.VideosIngested.Collect(ch)
}
