package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"birdwatcher/internal/config"
	"birdwatcher/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewVideo creates a pending upload video row for tests.
func NewVideo(t testing.TB, st *store.Store, filename string) *store.Video {
	t.Helper()

	video, err := st.CreateVideo(context.Background(), store.NewVideo{
		Filename: filename,
		Filepath: filepath.Join("uploads", filename),
		Source:   store.SourceUpload,
	})
	if err != nil {
		t.Fatalf("store.CreateVideo: %v", err)
	}
	return video
}

// NewDetection inserts an unmatched detection of species for tests.
func NewDetection(t testing.TB, st *store.Store, videoID int64, frame int, species string, detectedAt time.Time) *store.Detection {
	t.Helper()

	detection, err := st.CreateDetection(context.Background(), store.NewDetection{
		VideoID:          videoID,
		FrameNumber:      frame,
		TimestampInVideo: float64(frame - 1),
		Species:          species,
		Gender:           store.GenderUnknown,
		ConfidenceScore:  90,
		FramePath:        fmt.Sprintf("frames/video_%d/frame_%04d.jpg", videoID, frame),
		DetectedAt:       detectedAt,
	})
	if err != nil {
		t.Fatalf("store.CreateDetection: %v", err)
	}
	return detection
}
