package stage_test

import (
	"context"
	"testing"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/stage"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
)

func TestClamp(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 140: 100}
	for in, want := range cases {
		if got := stage.Clamp(in); got != want {
			t.Fatalf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestProgressReporterPersistsFractions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	video := testsupport.NewVideo(t, st, "clip.mp4")
	ctx := context.Background()
	job, err := st.EnqueueJob(ctx, video.ID, store.JobBirdIdentification)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	reporter := stage.NewProgressReporter(st, job, logging.NewNop())
	reporter.Fraction(ctx, 1, 3)
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress != 33 {
		t.Fatalf("expected 33%%, got %d", got.Progress)
	}

	reporter.Report(ctx, 250)
	reporter.Fraction(ctx, 1, 0)
	got, err = st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("expected clamped 100%%, got %d", got.Progress)
	}
}

func TestNilReporterIsSafe(t *testing.T) {
	var reporter *stage.ProgressReporter
	reporter.Report(context.Background(), 50)
	stage.NewProgressReporter(nil, nil, nil).Report(context.Background(), 50)
}

func TestFromError(t *testing.T) {
	if h := stage.FromError("vision", nil); !h.Ready {
		t.Fatalf("expected ready, got %+v", h)
	}
	if h := stage.FromError("vision", context.DeadlineExceeded); h.Ready || h.Detail == "" {
		t.Fatalf("expected unhealthy with detail, got %+v", h)
	}
}
