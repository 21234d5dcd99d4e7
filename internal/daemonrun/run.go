package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"birdwatcher/internal/config"
	"birdwatcher/internal/daemon"
	"birdwatcher/internal/deps"
	"birdwatcher/internal/ipc"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
	"birdwatcher/internal/watcher"
	"birdwatcher/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the birdwatcher daemon and blocks until a termination signal
// arrives or cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireVisionKey(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath := daemon.LogPath(cfg)
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:   level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.LogDir, "birdwatcher.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	m, err := metrics.New()
	if err != nil {
		st.Close()
		return fmt.Errorf("init metrics: %w", err)
	}
	client := vision.NewFromConfig(cfg,
		vision.WithLogger(logger),
		vision.WithMetrics(m.VisionMetrics()),
	)
	svc := pipeline.NewService(cfg, st, client, logger, pipeline.WithMetrics(m.PipelineMetrics()))
	manager := workflow.NewManager(cfg, st, logger, workflow.WithMetrics(m.PipelineMetrics()))
	svc.Register(manager)

	d, err := daemon.New(cfg, st, logger, manager,
		daemon.WithWatcher(watcher.New(cfg, st, svc, logger)),
		daemon.WithMetrics(m),
		daemon.WithVisionCache(client),
	)
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and database access"),
		)
		return err
	}

	socketPath := opts.SocketPath
	if strings.TrimSpace(socketPath) == "" {
		socketPath = daemon.SocketPath(cfg)
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("birdwatcher daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("vision_key_present", strings.TrimSpace(cfg.Vision.APIKey) != ""),
		logging.String("vision_model", cfg.Vision.Model),
		logging.Bool("watcher_enabled", cfg.Watcher.Enabled),
		logging.String("metrics_addr", cfg.Metrics.ListenAddr),
	)
	for _, status := range deps.CheckBinaries(deps.MediaTools(cfg.FFmpegBinary(), cfg.FFprobeBinary())) {
		if status.Available {
			logger.Debug("dependency available",
				logging.String("dependency", status.Name),
				logging.String("command", status.Command),
			)
			continue
		}
		logging.WarnWithContext(logger, "dependency missing", "dependency_missing",
			logging.String("dependency", status.Name),
			logging.String(logging.FieldErrorHint, status.Detail),
			logging.String(logging.FieldImpact, "frame extraction jobs will fail until it is installed"),
		)
	}
}
