package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"birdwatcher/internal/daemon"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
)

// ServiceName is the RPC receiver name shared by server and client.
const ServiceName = "Birdwatcher"

// Server answers CLI requests on a Unix socket using JSON-RPC framing.
type Server struct {
	socket   string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[net.Conn]struct{}
}

// NewServer binds socket, replacing any stale file left by a crashed daemon.
// Requests are served with ctx, so cancelling it aborts in-flight status calls.
func NewServer(ctx context.Context, socket string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	listener, err := listen(socket)
	if err != nil {
		return nil, err
	}
	server := rpc.NewServer()
	if err := server.RegisterName(ServiceName, &receiver{ctx: ctx, daemon: d, logger: logger}); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc receiver: %w", err)
	}

	s := &Server{
		socket:   socket,
		logger:   logger,
		listener: listener,
		rpc:      server,
		done:     make(chan struct{}),
		active:   make(map[net.Conn]struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func listen(socket string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socket, err)
	}
	return listener, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.socket))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err == nil && s.track(conn) {
			s.wg.Add(1)
			go s.serveConn(conn)
			continue
		}
		if err == nil {
			continue
		}
		if s.closed() || errors.Is(err, net.ErrClosed) {
			return
		}
		logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
			logging.String(logging.FieldErrorHint, "check socket permissions"),
		)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
}

// track registers conn for shutdown, refusing it once Close has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		_ = conn.Close()
		return false
	}
	s.active[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

func (s *Server) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops accepting, drops open connections and unlinks the socket.
// It is safe to call more than once.
func (s *Server) Close() {
	s.closing.Do(func() {
		close(s.done)
		_ = s.listener.Close()
		s.mu.Lock()
		for conn := range s.active {
			_ = conn.Close()
		}
		s.active = nil
		s.mu.Unlock()
		s.wg.Wait()
		if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
				logging.String("socket", s.socket),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale socket may confuse status checks"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"),
			)
		}
	})
}

// receiver holds the exported RPC methods.
type receiver struct {
	ctx    context.Context
	daemon *daemon.Daemon
	logger *slog.Logger
}

func (r *receiver) Start(_ StartRequest, resp *StartResponse) error {
	if err := r.daemon.Start(r.ctx); err != nil {
		*resp = StartResponse{Message: err.Error()}
		return nil
	}
	*resp = StartResponse{Started: true, Message: "daemon started"}
	r.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (r *receiver) Stop(_ StopRequest, resp *StopResponse) error {
	r.daemon.Stop()
	resp.Stopped = true
	r.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (r *receiver) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = statusResponse(r.daemon.Status(r.ctx))
	return nil
}

func (r *receiver) CacheStats(_ CacheStatsRequest, resp *CacheStatsResponse) error {
	stats, err := r.daemon.CacheStats()
	if err != nil {
		return err
	}
	resp.Stats = cacheStats(stats)
	return nil
}

func (r *receiver) ClearCache(_ ClearCacheRequest, resp *ClearCacheResponse) error {
	cleared, err := r.daemon.ClearCache()
	if err != nil {
		return err
	}
	resp.Cleared = cleared
	r.logger.Info("vision cache cleared via IPC",
		logging.String(logging.FieldEventType, "cache_clear"),
		logging.Int("cleared_count", cleared),
	)
	return nil
}

func statusResponse(status daemon.Status) StatusResponse {
	wf := status.Workflow
	resp := StatusResponse{
		Running:        status.Running,
		PID:            status.PID,
		Processed:      wf.Processed,
		Failed:         wf.Failed,
		LastError:      wf.LastError,
		LastJob:        jobSummary(wf.LastJob),
		LockPath:       status.LockFilePath,
		DatabasePath:   status.DatabasePath,
		WatchDir:       status.WatchDir,
		WatcherEnabled: status.WatcherEnabled,
		MetricsAddr:    status.MetricsAddr,
		JobStats:       make(map[string]int, len(wf.JobStats)),
	}
	for jobStatus, count := range wf.JobStats {
		resp.JobStats[string(jobStatus)] = count
	}
	for _, name := range slices.Sorted(maps.Keys(wf.HandlerHealth)) {
		health := wf.HandlerHealth[name]
		resp.HandlerHealth = append(resp.HandlerHealth, HandlerHealth{Name: name, Ready: health.Ready, Detail: health.Detail})
	}
	if status.Cache != nil {
		stats := cacheStats(*status.Cache)
		resp.Cache = &stats
	}
	return resp
}

func jobSummary(job *store.Job) *JobSummary {
	if job == nil {
		return nil
	}
	return &JobSummary{
		ID:           job.ID,
		VideoID:      job.VideoID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
	}
}

func cacheStats(stats vision.CacheStats) CacheStats {
	return CacheStats(stats)
}
