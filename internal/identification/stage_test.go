package identification_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"birdwatcher/internal/identification"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
)

type fixture struct {
	st     *store.Store
	fake   *testsupport.FakeVision
	stage  *identification.Stage
	video  *store.Video
	frames []store.Frame
	dir    string
}

func newFixture(t *testing.T, detail string, opts ...identification.Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Vision.Identify.Detail = detail
	st := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeVision()
	video := testsupport.NewVideo(t, st, "feeder.mp4")
	return &fixture{
		st:    st,
		fake:  fake,
		stage: identification.NewStage(cfg, st, fake, logging.NewNop(), opts...),
		video: video,
		dir:   filepath.Join(cfg.Paths.FramesDir, fmt.Sprint(video.ID)),
	}
}

func (f *fixture) addFrame(t *testing.T, pattern testsupport.Pattern) string {
	t.Helper()
	number := len(f.frames) + 1
	name := fmt.Sprintf("frame_%04d.jpg", number)
	path := filepath.Join(f.dir, name)
	testsupport.WriteJPEG(t, path, 64, pattern)
	f.frames = append(f.frames, store.Frame{VideoID: f.video.ID, Number: number, Timestamp: float64(number - 1), Path: path})
	return name
}

func (f *fixture) setRecordedAt(t *testing.T, at time.Time) {
	t.Helper()
	if err := f.st.UpdateVideoMetadata(context.Background(), f.video.ID, store.VideoMetadataUpdate{
		DurationSeconds:  10,
		FrameCount:       len(f.frames),
		RecordedAt:       &at,
		RecordedAtSource: store.RecordedAtMetadata,
	}); err != nil {
		t.Fatalf("UpdateVideoMetadata: %v", err)
	}
	video, err := f.st.GetVideo(context.Background(), f.video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	f.video = video
}

func TestProcessBatchFiltersAndRecordsMetrics(t *testing.T) {
	f := newFixture(t, "low")
	robin := f.addFrame(t, testsupport.Checker(8, 20, 230))
	f.addFrame(t, testsupport.Checker(8, 20, 230))
	f.addFrame(t, testsupport.Solid(10))
	f.addFrame(t, testsupport.HalfSplit(20, 230))
	fallback := f.addFrame(t, testsupport.Checker(16, 20, 230))
	broken := f.addFrame(t, testsupport.HalfSplit(230, 20))

	f.fake.Birds(robin, vision.Bird{Species: "American Robin", CommonName: "Robin", Gender: "Male", Features: "red breast", ImageQuality: 8, Confidence: 92})
	f.fake.DetectResults[fallback] = vision.DetectResult{BirdsDetected: 1, Confidence: 70}
	f.fake.HighDetailResults[fallback] = vision.IdentifyResult{BirdsDetected: 1, Birds: []vision.Bird{{Species: "Blue Jay", Confidence: 80}}}
	f.fake.Errors[broken] = errors.New("upstream exploded")

	recorded := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	f.setRecordedAt(t, recorded)
	job, err := f.st.EnqueueJob(context.Background(), f.video.ID, store.JobBirdIdentification)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	result, err := f.stage.ProcessBatch(context.Background(), f.video, f.frames, &job.ID)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	want := map[identification.FrameOutcome]int{
		identification.OutcomeKept:             2,
		identification.OutcomeSkippedDuplicate: 1,
		identification.OutcomeSkippedQuality:   1,
		identification.OutcomeSkippedNoBirds:   1,
		identification.OutcomeFailed:           1,
	}
	if !reflect.DeepEqual(result.Outcomes, want) {
		t.Fatalf("unexpected outcomes: %+v", result.Outcomes)
	}
	if result.Frames != 6 || len(result.Detections) != 2 || result.Stopped {
		t.Fatalf("unexpected result: frames=%d detections=%d stopped=%v", result.Frames, len(result.Detections), result.Stopped)
	}

	first := result.Detections[0]
	if first.Species != "American Robin" || first.Gender != store.GenderMale || first.FrameNumber != 1 {
		t.Fatalf("unexpected first detection: %+v", first)
	}
	if !first.DetectedAt.Equal(recorded) {
		t.Fatalf("unexpected detected_at: %v", first.DetectedAt)
	}
	if !strings.Contains(first.AIAnalysis, `"assessed_quality":10`) || !strings.Contains(first.AIAnalysis, `"common_name":"Robin"`) {
		t.Fatalf("unexpected analysis: %s", first.AIAnalysis)
	}
	second := result.Detections[1]
	if second.Species != "Blue Jay" || !second.DetectedAt.Equal(recorded.Add(4*time.Second)) {
		t.Fatalf("unexpected fallback detection: %+v", second)
	}

	_, identify, _ := f.fake.Calls()
	wantCalls := []string{robin + "@low", fallback + "@low", fallback + "@high"}
	if !reflect.DeepEqual(identify, wantCalls) {
		t.Fatalf("unexpected identify calls: %v", identify)
	}

	summary, err := f.st.SummarizeMetrics(context.Background(), f.video.ID)
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if summary.Batches != 1 || summary.TotalFrames != 6 || summary.SkippedLowQualityDuplicate != 2 || summary.SkippedNoBirds != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestProcessBatchHighDetailSkipsFallback(t *testing.T) {
	f := newFixture(t, "high")
	frame := f.addFrame(t, testsupport.Checker(8, 20, 230))
	f.fake.DetectResults[frame] = vision.DetectResult{BirdsDetected: 1}

	result, err := f.stage.ProcessBatch(context.Background(), f.video, f.frames, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Outcomes[identification.OutcomeSkippedNoBirds] != 1 {
		t.Fatalf("expected no-bird outcome, got %+v", result.Outcomes)
	}
	_, identify, _ := f.fake.Calls()
	if len(identify) != 1 {
		t.Fatalf("expected a single identify call, got %v", identify)
	}
}

func TestProcessBatchWithoutRecordingTimeUsesNow(t *testing.T) {
	f := newFixture(t, "high")
	frame := f.addFrame(t, testsupport.Checker(8, 20, 230))
	f.fake.Birds(frame, vision.Bird{Species: "Northern Cardinal", Confidence: 88})

	before := time.Now().Add(-time.Second)
	result, err := f.stage.ProcessBatch(context.Background(), f.video, f.frames, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(result.Detections) != 1 || result.Detections[0].DetectedAt.Before(before) {
		t.Fatalf("expected detection stamped with current time, got %+v", result.Detections)
	}
}

func TestProcessBatchStopsWhenCancelled(t *testing.T) {
	calls := 0
	check := func(context.Context, int64) bool {
		calls++
		return calls > 1
	}
	f := newFixture(t, "high", identification.WithCancelCheck(check))
	first := f.addFrame(t, testsupport.Checker(8, 20, 230))
	f.addFrame(t, testsupport.HalfSplit(20, 230))
	f.fake.Birds(first, vision.Bird{Species: "House Finch", Confidence: 75})

	result, err := f.stage.ProcessBatch(context.Background(), f.video, f.frames, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if !result.Stopped || result.Frames != 1 || len(result.Detections) != 1 {
		t.Fatalf("expected batch to stop after first frame, got %+v", result)
	}
	summary, err := f.st.SummarizeMetrics(context.Background(), f.video.ID)
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if summary.TotalFrames != 1 {
		t.Fatalf("expected partial batch to be recorded, got %+v", summary)
	}
}
