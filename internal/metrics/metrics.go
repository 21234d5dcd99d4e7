// Package metrics exposes Prometheus collectors for the vision client and the
// processing pipeline, plus a small HTTP server for the scrape endpoint.
//
// Every recording method is safe to call on a nil receiver so components can
// run without metrics in tests and one-shot CLI commands.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Metrics holds every collector registered by birdwatcher.
type Metrics struct {
	registry *prometheus.Registry
	Vision   *VisionMetrics
	Pipeline *PipelineMetrics
}

// New creates a registry with process/Go collectors and all birdwatcher metrics.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	vision, err := NewVisionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision metrics: %w", err)
	}
	pipeline, err := NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	return &Metrics{registry: registry, Vision: vision, Pipeline: pipeline}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// VisionMetrics returns the vision collector, or nil when m is nil.
func (m *Metrics) VisionMetrics() *VisionMetrics {
	if m == nil {
		return nil
	}
	return m.Vision
}

// PipelineMetrics returns the pipeline collector, or nil when m is nil.
func (m *Metrics) PipelineMetrics() *PipelineMetrics {
	if m == nil {
		return nil
	}
	return m.Pipeline
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if m == nil {
		return errors.New("metrics: not initialized")
	}
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	if logger != nil {
		logger.Info("metrics server listening", "addr", listener.Addr().String(), "path", metricsPath)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics serve: %w", err)
	}
}
