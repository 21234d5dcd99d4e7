// Package watcher ingests camera recordings dropped into the watch folder.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"birdwatcher/internal/config"
	"birdwatcher/internal/fileutil"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/paths"
	"birdwatcher/internal/store"
)

const minTick = 100 * time.Millisecond

// Ingestor accepts a settled video file.
type Ingestor interface {
	Ingest(ctx context.Context, src string, source store.VideoSource) (*store.Video, error)
}

type pendingFile struct {
	size        int64
	stableSince time.Time
}

// Watcher tracks new files in the watch folder until their size stops
// changing for the settle period, then hands them to the ingestor once.
type Watcher struct {
	dir        string
	extensions map[string]struct{}
	settle     time.Duration
	store      *store.Store
	ingestor   Ingestor
	logger     *slog.Logger
	now        func() time.Time

	pending map[string]*pendingFile
	handled map[string]struct{}
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithSettle overrides the configured settle period.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// New builds a watcher for cfg.Paths.WatchDir.
func New(cfg *config.Config, st *store.Store, ingestor Ingestor, logger *slog.Logger, opts ...Option) *Watcher {
	exts := make(map[string]struct{}, len(cfg.Watcher.Extensions))
	for _, ext := range cfg.Watcher.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	w := &Watcher{
		dir:        cfg.Paths.WatchDir,
		extensions: exts,
		settle:     time.Duration(cfg.Watcher.SettleSeconds) * time.Second,
		store:      st,
		ingestor:   ingestor,
		logger:     logging.NewComponentLogger(logger, "watcher"),
		now:        time.Now,
		pending:    make(map[string]*pendingFile),
		handled:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Accepts reports whether name is a visible file with a watched extension.
func (w *Watcher) Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

// Run watches until ctx is cancelled. Files already present are picked up
// at start.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if err := w.scan(); err != nil {
		return err
	}
	w.logger.Info("watching for camera recordings",
		logging.String("dir", w.dir),
		logging.Duration("settle", w.settle),
	)

	ticker := time.NewTicker(max(w.settle/4, minTick))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(w.pending, event.Name)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.track(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "events may be missed until the next restart"),
			)
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.track(filepath.Join(w.dir, entry.Name()))
		}
	}
	return nil
}

func (w *Watcher) track(name string) {
	if !w.Accepts(name) {
		return
	}
	if _, done := w.handled[name]; done {
		return
	}
	if _, ok := w.pending[name]; !ok {
		w.pending[name] = &pendingFile{size: -1, stableSince: w.now()}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	now := w.now()
	for name, p := range w.pending {
		info, err := os.Stat(name)
		if err != nil || !info.Mode().IsRegular() {
			delete(w.pending, name)
			continue
		}
		if info.Size() != p.size {
			p.size = info.Size()
			p.stableSince = now
			continue
		}
		if now.Sub(p.stableSince) < w.settle {
			continue
		}
		delete(w.pending, name)
		w.handled[name] = struct{}{}
		w.handle(ctx, name)
	}
}

func (w *Watcher) handle(ctx context.Context, name string) {
	logger := w.logger.With(logging.String("file", filepath.Base(name)))
	known, err := w.known(ctx, name)
	if err != nil {
		logger.Warn("lookup of existing video failed", logging.Error(err))
		return
	}
	if known != nil {
		logger.Info("video already ingested; skipping", logging.Int64(logging.FieldVideoID, known.ID))
		return
	}
	video, err := w.ingestor.Ingest(ctx, name, store.SourceCamera)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.ErrorWithContext(logger, "camera video ingestion failed", "ingest_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the file is a readable video"),
			logging.String(logging.FieldImpact, "video not processed"),
		)
		return
	}
	logger.Info("camera video queued", logging.Int64(logging.FieldVideoID, video.ID))
}

// known looks for the upload a previous run would have created for name.
func (w *Watcher) known(ctx context.Context, name string) (*store.Video, error) {
	if w.store == nil {
		return nil, nil
	}
	stored := path.Join(paths.Uploads, fileutil.SanitizeName(filepath.Base(name)))
	return w.store.FindVideoByPath(ctx, stored)
}
