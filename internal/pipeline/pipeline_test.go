package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/services"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
	"birdwatcher/internal/workflow"
)

func probeStub(duration string) string {
	return "#!/bin/sh\ncat <<'JSON'\n" +
		`{"streams":[{"codec_type":"video","width":640,"height":480,"r_frame_rate":"30/1"}],` +
		`"format":{"duration":"` + duration + `","tags":{"creation_time":"2024-05-01T07:00:00.000000Z"}}}` +
		"\nJSON\n"
}

// ffmpegStub copies sources into the numbered output pattern, copies the first
// source for single-frame seeks and reports one scene change at 5s.
func ffmpegStub(sources ...string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nfor last; do :; done\n")
	b.WriteString("case \" $* \" in\n*showinfo*)\n\techo \"[Parsed_showinfo_1 @ 0x1] n:0 pts:5 pts_time:5\" >&2\n\texit 0 ;;\nesac\n")
	b.WriteString("case \"$last\" in\n*%04d*)\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "\tcp %q \"$(printf \"$last\" %d)\"\n", src, i+1)
	}
	b.WriteString("\t;;\n*)\n")
	fmt.Fprintf(&b, "\tcp %q \"$last\"\n", sources[0])
	b.WriteString("\t;;\nesac\n")
	return b.String()
}

type harness struct {
	st      *store.Store
	fake    *testsupport.FakeVision
	svc     *pipeline.Service
	manager *workflow.Manager
	dirs    harnessDirs
}

type harnessDirs struct {
	database   string
	uploads    string
	frames     string
	birdImages string
}

func newHarness(t *testing.T, duration string, probe ...string) *harness {
	t.Helper()
	fixtures := t.TempDir()
	bird := filepath.Join(fixtures, "bird.jpg")
	dark := filepath.Join(fixtures, "dark.jpg")
	empty := filepath.Join(fixtures, "empty.jpg")
	testsupport.WriteJPEG(t, bird, 64, testsupport.Checker(8, 20, 230))
	testsupport.WriteJPEG(t, dark, 64, testsupport.Solid(10))
	testsupport.WriteJPEG(t, empty, 64, testsupport.HalfSplit(20, 230))

	probeScript := probeStub(duration)
	if len(probe) > 0 {
		probeScript = probe[0]
	}
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", probeScript),
		testsupport.WithStubScript("ffmpeg", ffmpegStub(bird, dark, empty)),
	)
	st := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeVision()
	svc := pipeline.NewService(cfg, st, fake, logging.NewNop())
	manager := workflow.NewManager(cfg, st, logging.NewNop())
	svc.Register(manager)
	return &harness{
		st:      st,
		fake:    fake,
		svc:     svc,
		manager: manager,
		dirs: harnessDirs{
			database:   cfg.Paths.DatabasePath,
			uploads:    cfg.Paths.UploadsDir,
			frames:     cfg.Paths.FramesDir,
			birdImages: cfg.Paths.BirdImagesDir,
		},
	}
}

func (h *harness) ingest(t *testing.T, name string) *store.Video {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	testsupport.WriteFile(t, src, 32)
	video, err := h.svc.Ingest(context.Background(), src, store.SourceCamera)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return video
}

func (h *harness) runJobs(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.manager.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
}

func (h *harness) video(t *testing.T, id int64) *store.Video {
	t.Helper()
	video, err := h.st.GetVideo(context.Background(), id)
	if err != nil || video == nil {
		t.Fatalf("GetVideo: %v %v", video, err)
	}
	return video
}

func (h *harness) jobTypes(t *testing.T, videoID int64) []string {
	t.Helper()
	jobs, err := h.st.ListJobs(context.Background(), store.JobFilter{VideoID: videoID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, fmt.Sprintf("%s:%s", job.Type, job.Status))
	}
	return out
}

func TestPipelineProcessesVideoEndToEnd(t *testing.T) {
	h := newHarness(t, "5.0")
	h.fake.Birds("frame_0001.jpg", vision.Bird{Species: "American Robin", Gender: "female", ImageQuality: 8, Confidence: 92})
	ctx := context.Background()

	video := h.ingest(t, "Feeder Cam.mp4")
	if video.Status != store.VideoProcessing || video.Filepath != "uploads/Feeder_Cam.mp4" || video.Source != store.SourceCamera {
		t.Fatalf("unexpected ingested video: %+v", video)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.uploads, "Feeder_Cam.mp4")); err != nil {
		t.Fatalf("expected upload copy: %v", err)
	}

	h.runJobs(t, 3)

	want := []string{"frame_extraction:completed", "bird_identification:completed", "similarity_matching:completed"}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	done := h.video(t, video.ID)
	if done.Status != store.VideoCompleted || done.FrameCount != 3 || done.DurationSeconds != 5 {
		t.Fatalf("unexpected video: %+v", done)
	}
	if done.RecordedAtSource != store.RecordedAtMetadata || done.RecordedAt == nil {
		t.Fatalf("unexpected recorded at: %v %s", done.RecordedAt, done.RecordedAtSource)
	}

	manifest, err := h.st.ListFrames(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	if len(manifest) != 3 || manifest[0].Path != fmt.Sprintf("frames/%d/frame_0001.jpg", video.ID) || manifest[2].Timestamp != 2 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	detections, err := h.st.ListDetectionsByVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListDetectionsByVideo: %v", err)
	}
	if len(detections) != 1 || !detections[0].IsMatched || detections[0].FramePath != manifest[0].Path {
		t.Fatalf("unexpected detections: %+v", detections)
	}
	profile, err := h.st.GetProfileByIdentifier(ctx, "AMERICAN_ROBIN_001")
	if err != nil || profile == nil {
		t.Fatalf("GetProfileByIdentifier: %v %v", profile, err)
	}
	wantImage := fmt.Sprintf("bird-images/AMERICAN_ROBIN_001/detection_%d.jpg", detections[0].ID)
	if profile.TotalVisits != 1 || profile.RepresentativeImagePath != wantImage {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.birdImages, "AMERICAN_ROBIN_001", fmt.Sprintf("detection_%d.jpg", detections[0].ID))); err != nil {
		t.Fatalf("expected archived image: %v", err)
	}

	summary, err := h.st.SummarizeMetrics(ctx, video.ID)
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if summary.TotalFrames != 3 || summary.SkippedLowQualityDuplicate != 1 || summary.SkippedNoBirds != 1 {
		t.Fatalf("unexpected metrics: %+v", summary)
	}

	status, err := h.svc.ProcessingStatus(ctx, video.ID)
	if err != nil {
		t.Fatalf("ProcessingStatus: %v", err)
	}
	if status.OverallProgress != 100 || len(status.Jobs) != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestNoBirdsCompletesWithoutMatching(t *testing.T) {
	h := newHarness(t, "5.0")
	video := h.ingest(t, "quiet.mp4")

	h.runJobs(t, 3)

	want := []string{"frame_extraction:completed", "bird_identification:completed"}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	if got := h.video(t, video.ID); got.Status != store.VideoCompleted {
		t.Fatalf("expected completed video, got %s", got.Status)
	}
}

func TestUnresolvedDetectionStillCompletesVideo(t *testing.T) {
	h := newHarness(t, "5.0")
	h.fake.Birds("frame_0001.jpg",
		vision.Bird{Species: "American Robin", Gender: "female", ImageQuality: 8, Confidence: 92},
		vision.Bird{Species: "Blue Jay", Gender: "male", ImageQuality: 7, Confidence: 88},
	)
	ctx := context.Background()

	db, err := sql.Open("sqlite", h.dirs.database)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TRIGGER reject_blue_jay BEFORE INSERT ON bird_profiles
		WHEN NEW.species = 'Blue Jay' BEGIN SELECT RAISE(ABORT, 'profile rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	video := h.ingest(t, "pair.mp4")
	h.runJobs(t, 3)

	want := []string{"frame_extraction:completed", "bird_identification:completed", "similarity_matching:completed"}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	if got := h.video(t, video.ID); got.Status != store.VideoCompleted || got.ErrorMessage != "" {
		t.Fatalf("expected completed video, got %s %q", got.Status, got.ErrorMessage)
	}

	detections, err := h.st.ListDetectionsByVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListDetectionsByVideo: %v", err)
	}
	matched := map[string]bool{}
	for _, detection := range detections {
		matched[detection.Species] = detection.IsMatched
	}
	if len(detections) != 2 || !matched["American Robin"] || matched["Blue Jay"] {
		t.Fatalf("expected only the robin to be matched: %+v", detections)
	}
	if profile, err := h.st.GetProfileByIdentifier(ctx, "AMERICAN_ROBIN_001"); err != nil || profile == nil {
		t.Fatalf("GetProfileByIdentifier: %v %v", profile, err)
	}
}

func TestLongVideoUsesMotionSegments(t *testing.T) {
	h := newHarness(t, "40.0")
	video := h.ingest(t, "long.mp4")

	h.runJobs(t, 1)

	manifest, err := h.st.ListFrames(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	var timestamps []float64
	for _, frame := range manifest {
		timestamps = append(timestamps, frame.Timestamp)
	}
	if !reflect.DeepEqual(timestamps, []float64{4, 5}) {
		t.Fatalf("expected frames around the scene change, got %v", timestamps)
	}
	want := []string{"frame_extraction:completed", "bird_identification:pending"}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected jobs: %v", got)
	}
}

func TestExtractionFailureMarksVideoFailed(t *testing.T) {
	h := newHarness(t, "", "#!/bin/sh\necho 'moov atom not found' >&2\nexit 1\n")
	video := h.ingest(t, "broken.mp4")

	h.runJobs(t, 2)

	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, []string{"frame_extraction:failed"}) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	failed := h.video(t, video.ID)
	if failed.Status != store.VideoFailed || failed.ErrorMessage == "" {
		t.Fatalf("expected failed video with message, got %+v", failed)
	}

	jobs, err := h.st.ListJobs(context.Background(), store.JobFilter{VideoID: video.ID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if err := h.svc.RetryJob(context.Background(), jobs[0].ID); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if got := h.video(t, video.ID); got.Status != store.VideoProcessing || got.ErrorMessage != "" {
		t.Fatalf("expected processing video after retry, got %+v", got)
	}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, []string{"frame_extraction:pending"}) {
		t.Fatalf("unexpected jobs after retry: %v", got)
	}
}

func TestCancelDropsPendingWorkAndSkipsQueuedJobs(t *testing.T) {
	h := newHarness(t, "5.0")
	ctx := context.Background()
	video := h.ingest(t, "cancel.mp4")

	h.runJobs(t, 1)
	removed, err := h.svc.Cancel(ctx, video.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the identification job to be removed, got %d", removed)
	}
	cancelled := h.video(t, video.ID)
	if cancelled.Status != store.VideoFailed || cancelled.ErrorMessage != pipeline.CancelledMessage {
		t.Fatalf("unexpected cancelled video: %+v", cancelled)
	}
	if !h.svc.Cancelled(ctx, video.ID) {
		t.Fatal("expected Cancelled to report true")
	}

	if _, err := h.st.EnqueueJob(ctx, video.ID, store.JobBirdIdentification); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	h.runJobs(t, 2)
	want := []string{"frame_extraction:completed", "bird_identification:completed"}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	if detect, _, _ := h.fake.Calls(); len(detect) != 0 {
		t.Fatalf("expected no vision calls for a cancelled video, got %v", detect)
	}
	status, err := h.svc.ProcessingStatus(ctx, video.ID)
	if err != nil {
		t.Fatalf("ProcessingStatus: %v", err)
	}
	if status.OverallProgress != 0 {
		t.Fatalf("expected 0 progress for failed video, got %d", status.OverallProgress)
	}
}

func TestProcessingStatusAveragesJobs(t *testing.T) {
	h := newHarness(t, "5.0")
	ctx := context.Background()
	video := h.ingest(t, "progress.mp4")

	h.runJobs(t, 1)
	jobs, err := h.st.ListJobs(ctx, store.JobFilter{VideoID: video.ID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if err := h.st.UpdateJobProgress(ctx, jobs[1].ID, 40); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	status, err := h.svc.ProcessingStatus(ctx, video.ID)
	if err != nil {
		t.Fatalf("ProcessingStatus: %v", err)
	}
	if status.OverallProgress != 70 {
		t.Fatalf("expected mean of 100 and 40, got %d", status.OverallProgress)
	}
}

func TestProcessVideoRules(t *testing.T) {
	h := newHarness(t, "5.0")
	ctx := context.Background()

	if err := h.svc.ProcessVideo(ctx, 999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	video := h.ingest(t, "twice.mp4")
	if err := h.svc.ProcessVideo(ctx, video.ID); err != nil {
		t.Fatalf("ProcessVideo on processing video: %v", err)
	}
	if got := h.jobTypes(t, video.ID); len(got) != 1 {
		t.Fatalf("expected a single extraction job, got %v", got)
	}
}

func TestReprocessFromIdentificationReusesFrames(t *testing.T) {
	h := newHarness(t, "5.0")
	ctx := context.Background()
	video := h.ingest(t, "again.mp4")

	if err := h.svc.Reprocess(ctx, video.ID, store.JobBirdIdentification); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected processing video to be rejected, got %v", err)
	}
	h.runJobs(t, 2)

	if err := h.svc.Reprocess(ctx, video.ID, store.JobSimilarityMatching); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected unsupported stage to be rejected, got %v", err)
	}
	if err := h.svc.Reprocess(ctx, video.ID, store.JobBirdIdentification); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if got := h.jobTypes(t, video.ID); !reflect.DeepEqual(got, []string{"bird_identification:pending"}) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	manifest, err := h.st.ListFrames(ctx, video.ID)
	if err != nil || len(manifest) != 3 {
		t.Fatalf("expected frames kept, got %d (%v)", len(manifest), err)
	}
	if got := h.video(t, video.ID); got.Status != store.VideoProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
}

func TestReprocessRejectsMatchedVideo(t *testing.T) {
	h := newHarness(t, "5.0")
	h.fake.Birds("frame_0001.jpg", vision.Bird{Species: "Blue Jay", ImageQuality: 8, Confidence: 90})
	video := h.ingest(t, "matched.mp4")
	h.runJobs(t, 3)

	err := h.svc.Reprocess(context.Background(), video.ID, store.JobFrameExtraction)
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestDeleteVideoRemovesFiles(t *testing.T) {
	h := newHarness(t, "5.0")
	ctx := context.Background()
	video := h.ingest(t, "gone.mp4")
	h.runJobs(t, 2)

	if err := h.svc.DeleteVideo(ctx, video.ID); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if got, err := h.st.GetVideo(ctx, video.ID); err != nil || got != nil {
		t.Fatalf("expected video removed, got %v %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.uploads, "gone.mp4")); !os.IsNotExist(err) {
		t.Fatalf("expected upload removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.frames, fmt.Sprint(video.ID))); !os.IsNotExist(err) {
		t.Fatalf("expected frames removed, stat err=%v", err)
	}
}
