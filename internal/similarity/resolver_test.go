package similarity_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"birdwatcher/internal/config"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/services"
	"birdwatcher/internal/similarity"
	"birdwatcher/internal/store"
	"birdwatcher/internal/testsupport"
)

type harness struct {
	cfg      *config.Config
	st       *store.Store
	fake     *testsupport.FakeVision
	resolver *similarity.Resolver
	video    *store.Video
	frame    int
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeVision()
	return &harness{
		cfg:      cfg,
		st:       st,
		fake:     fake,
		resolver: similarity.NewResolver(cfg, st, fake, logging.NewNop()),
		video:    testsupport.NewVideo(t, st, "feeder.mp4"),
	}
}

// detect writes a frame image and records a detection of species for it.
func (h *harness) detect(t *testing.T, species string, pattern testsupport.Pattern) *store.Detection {
	t.Helper()
	h.frame++
	path := filepath.Join(h.cfg.Paths.FramesDir, fmt.Sprint(h.video.ID), fmt.Sprintf("frame_%04d.jpg", h.frame))
	testsupport.WriteJPEG(t, path, 64, pattern)
	detection, err := h.st.CreateDetection(context.Background(), store.NewDetection{
		VideoID:          h.video.ID,
		FrameNumber:      h.frame,
		TimestampInVideo: float64(h.frame - 1),
		Species:          species,
		Gender:           "female",
		ConfidenceScore:  90,
		FramePath:        path,
		AIAnalysis:       `{"common_name":"Robin","image_quality":8}`,
		DetectedAt:       time.Date(2024, 5, 1, 7, 0, h.frame, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateDetection: %v", err)
	}
	return detection
}

func (h *harness) resolve(t *testing.T, id int64) similarity.Result {
	t.Helper()
	result, err := h.resolver.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("Resolve(%d): %v", id, err)
	}
	return result
}

func (h *harness) profile(t *testing.T, id int64) *store.BirdProfile {
	t.Helper()
	profile, err := h.st.GetProfile(context.Background(), id)
	if err != nil || profile == nil {
		t.Fatalf("GetProfile(%d): %v %v", id, profile, err)
	}
	return profile
}

var checker = testsupport.Checker(8, 20, 230)

func TestIdentifier(t *testing.T) {
	cases := map[string]string{
		"Northern  Cardinal":      "NORTHERN_CARDINAL_003",
		" black-capped chickadee": "BLACK-CAPPED_CHICKADEE_003",
		"Turdus migratorius":      "TURDUS_MIGRATORIUS_003",
	}
	for species, want := range cases {
		if got := similarity.Identifier(species, 3); got != want {
			t.Fatalf("Identifier(%q) = %q, want %q", species, got, want)
		}
	}
	if got := similarity.Identifier("Blue Jay", 1234); got != "BLUE_JAY_1234" {
		t.Fatalf("unexpected wide sequence: %q", got)
	}
}

func TestFirstDetectionFoundsProfileWithArchivedImage(t *testing.T) {
	h := newHarness(t)
	d := h.detect(t, "American Robin", checker)

	result := h.resolve(t, d.ID)
	if !result.Matched || !result.IsNewBird || result.Confidence != 100 {
		t.Fatalf("unexpected result: %+v", result)
	}
	profile := h.profile(t, result.ProfileID)
	if profile.UniqueIdentifier != "AMERICAN_ROBIN_001" || profile.CommonName != "Robin" || profile.PrimaryGender != store.GenderFemale {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	wantImage := filepath.Join(h.cfg.Paths.BirdImagesDir, "AMERICAN_ROBIN_001", fmt.Sprintf("detection_%d.jpg", d.ID))
	if profile.RepresentativeImagePath != wantImage {
		t.Fatalf("expected archived image %q, got %q", wantImage, profile.RepresentativeImagePath)
	}
	images, err := h.st.ListRepresentativeImages(context.Background(), profile.ID)
	if err != nil || len(images) != 1 || !images[0].IsPrimary || images[0].ImagePath != wantImage {
		t.Fatalf("unexpected images: %+v err=%v", images, err)
	}
	if _, _, compares := h.fake.Calls(); len(compares) != 0 {
		t.Fatalf("expected no comparisons for first bird, got %v", compares)
	}
}

func TestMatchLinksAndAddsRepresentativeImage(t *testing.T) {
	h := newHarness(t)
	first := h.detect(t, "American Robin", checker)
	founded := h.resolve(t, first.ID)

	second := h.detect(t, "American Robin", checker)
	h.fake.Same("frame_0002.jpg", fmt.Sprintf("detection_%d.jpg", first.ID), true, 90)

	result := h.resolve(t, second.ID)
	if !result.Matched || result.IsNewBird || result.ProfileID != founded.ProfileID || result.Confidence != 90 {
		t.Fatalf("unexpected match result: %+v", result)
	}
	profile := h.profile(t, founded.ProfileID)
	if profile.TotalVisits != 2 {
		t.Fatalf("expected 2 visits, got %d", profile.TotalVisits)
	}
	images, err := h.st.ListRepresentativeImages(context.Background(), profile.ID)
	if err != nil || len(images) != 2 {
		t.Fatalf("expected a second representative image, got %+v err=%v", images, err)
	}
	linked, err := h.st.GetDetection(context.Background(), second.ID)
	if err != nil || !linked.IsMatched || linked.MatchConfidence == nil || *linked.MatchConfidence != 90 {
		t.Fatalf("unexpected linked detection: %+v err=%v", linked, err)
	}

	again := h.resolve(t, second.ID)
	if again.ProfileID != founded.ProfileID || again.IsNewBird {
		t.Fatalf("expected resolve of matched detection to be stable, got %+v", again)
	}
	if profile := h.profile(t, founded.ProfileID); profile.TotalVisits != 2 {
		t.Fatalf("re-resolving must not add visits, got %d", profile.TotalVisits)
	}
}

func TestLowConfidenceCreatesNewProfile(t *testing.T) {
	h := newHarness(t)
	first := h.detect(t, "American Robin", checker)
	h.resolve(t, first.ID)

	second := h.detect(t, "American Robin", checker)
	h.fake.Same("frame_0002.jpg", fmt.Sprintf("detection_%d.jpg", first.ID), true, 70)

	result := h.resolve(t, second.ID)
	if !result.IsNewBird {
		t.Fatalf("expected new bird below threshold, got %+v", result)
	}
	if profile := h.profile(t, result.ProfileID); profile.UniqueIdentifier != "AMERICAN_ROBIN_002" {
		t.Fatalf("unexpected identifier: %s", profile.UniqueIdentifier)
	}
	if _, _, compares := h.fake.Calls(); len(compares) != 1 {
		t.Fatalf("expected one comparison, got %v", compares)
	}
}

func TestPrefilterSkipsDissimilarCandidates(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Similarity.PrefilterMinSimilarity = 90 })
	first := h.detect(t, "American Robin", checker)
	h.resolve(t, first.ID)

	second := h.detect(t, "American Robin", testsupport.HalfSplit(20, 230))
	result := h.resolve(t, second.ID)
	if !result.IsNewBird {
		t.Fatalf("expected new bird, got %+v", result)
	}
	if _, _, compares := h.fake.Calls(); len(compares) != 0 {
		t.Fatalf("prefilter should have prevented comparisons, got %v", compares)
	}
}

func TestCompareErrorMovesToNextCandidate(t *testing.T) {
	h := newHarness(t)
	older := h.detect(t, "Blue Jay", checker)
	olderResult := h.resolve(t, older.ID)
	newer := h.detect(t, "Blue Jay", checker)
	h.fake.Same("frame_0002.jpg", fmt.Sprintf("detection_%d.jpg", older.ID), false, 95)
	newerResult := h.resolve(t, newer.ID)
	if !newerResult.IsNewBird {
		t.Fatalf("expected second jay to be a new bird, got %+v", newerResult)
	}

	third := h.detect(t, "Blue Jay", checker)
	h.fake.Errors[fmt.Sprintf("frame_0003.jpg|detection_%d.jpg", newer.ID)] = errors.New("timeout")
	h.fake.Same("frame_0003.jpg", fmt.Sprintf("detection_%d.jpg", older.ID), true, 88)

	result := h.resolve(t, third.ID)
	if result.IsNewBird || result.ProfileID != olderResult.ProfileID {
		t.Fatalf("expected match with older profile after error, got %+v", result)
	}
	_, _, compares := h.fake.Calls()
	last := compares[len(compares)-2:]
	want := []string{
		fmt.Sprintf("frame_0003.jpg|detection_%d.jpg", newer.ID),
		fmt.Sprintf("frame_0003.jpg|detection_%d.jpg", older.ID),
	}
	if strings.Join(last, ",") != strings.Join(want, ",") {
		t.Fatalf("expected most recently seen candidate first, got %v", compares)
	}
}

// visitSequence resolves a fixed mix of new birds and matches and returns the
// identifier each detection was assigned to, in detection order.
func (h *harness) visitSequence(t *testing.T) []string {
	t.Helper()
	robin := h.detect(t, "American Robin", checker)
	assigned := []string{h.identifierOf(t, h.resolve(t, robin.ID))}

	repeat := h.detect(t, "American Robin", checker)
	h.fake.Same("frame_0002.jpg", fmt.Sprintf("detection_%d.jpg", robin.ID), true, 90)
	assigned = append(assigned, h.identifierOf(t, h.resolve(t, repeat.ID)))

	stranger := h.detect(t, "American Robin", checker)
	assigned = append(assigned, h.identifierOf(t, h.resolve(t, stranger.ID)))

	jay := h.detect(t, "Blue Jay", checker)
	assigned = append(assigned, h.identifierOf(t, h.resolve(t, jay.ID)))

	back := h.detect(t, "American Robin", checker)
	h.fake.Same("frame_0005.jpg", fmt.Sprintf("detection_%d.jpg", stranger.ID), true, 92)
	assigned = append(assigned, h.identifierOf(t, h.resolve(t, back.ID)))
	return assigned
}

func (h *harness) identifierOf(t *testing.T, result similarity.Result) string {
	t.Helper()
	return h.profile(t, result.ProfileID).UniqueIdentifier
}

func (h *harness) visitsByIdentifier(t *testing.T) map[string]int {
	t.Helper()
	profiles, err := h.st.ListProfiles(context.Background(), store.ProfileFilter{})
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	visits := make(map[string]int, len(profiles))
	for _, profile := range profiles {
		visits[profile.UniqueIdentifier] = profile.TotalVisits
	}
	return visits
}

func (h *harness) requireVisitsMatchLinks(t *testing.T) {
	t.Helper()
	profiles, err := h.st.ListProfiles(context.Background(), store.ProfileFilter{})
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	for _, profile := range profiles {
		linked, err := h.st.CountDetectionsForProfile(context.Background(), profile.ID)
		if err != nil {
			t.Fatalf("CountDetectionsForProfile: %v", err)
		}
		if profile.TotalVisits != linked {
			t.Fatalf("%s: total_visits %d but %d linked detections", profile.UniqueIdentifier, profile.TotalVisits, linked)
		}
	}
}

func TestResolutionIsDeterministic(t *testing.T) {
	first := newHarness(t)
	second := newHarness(t)

	assignedFirst := first.visitSequence(t)
	assignedSecond := second.visitSequence(t)

	want := []string{"AMERICAN_ROBIN_001", "AMERICAN_ROBIN_001", "AMERICAN_ROBIN_002", "BLUE_JAY_001", "AMERICAN_ROBIN_002"}
	if !reflect.DeepEqual(assignedFirst, want) {
		t.Fatalf("unexpected assignment: %v", assignedFirst)
	}
	if !reflect.DeepEqual(assignedFirst, assignedSecond) {
		t.Fatalf("assignments differ between runs: %v vs %v", assignedFirst, assignedSecond)
	}
	visitsFirst := first.visitsByIdentifier(t)
	if !reflect.DeepEqual(visitsFirst, second.visitsByIdentifier(t)) {
		t.Fatalf("visit counts differ between runs: %v vs %v", visitsFirst, second.visitsByIdentifier(t))
	}
	if visitsFirst["AMERICAN_ROBIN_001"] != 2 || visitsFirst["AMERICAN_ROBIN_002"] != 2 || visitsFirst["BLUE_JAY_001"] != 1 {
		t.Fatalf("unexpected visits: %v", visitsFirst)
	}
}

func TestTotalVisitsMatchLinkedDetections(t *testing.T) {
	h := newHarness(t)
	h.visitSequence(t)
	h.requireVisitsMatchLinks(t)

	ctx := context.Background()
	source, err := h.st.GetProfileByIdentifier(ctx, "AMERICAN_ROBIN_002")
	if err != nil || source == nil {
		t.Fatalf("GetProfileByIdentifier: %v %v", source, err)
	}
	target, err := h.st.GetProfileByIdentifier(ctx, "AMERICAN_ROBIN_001")
	if err != nil || target == nil {
		t.Fatalf("GetProfileByIdentifier: %v %v", target, err)
	}
	if err := h.resolver.MergeChecked(ctx, source.ID, target.ID); err != nil {
		t.Fatalf("MergeChecked: %v", err)
	}
	h.requireVisitsMatchLinks(t)
	if merged := h.profile(t, target.ID); merged.TotalVisits != 4 {
		t.Fatalf("expected 4 visits after merge, got %d", merged.TotalVisits)
	}

	late := h.detect(t, "American Robin", checker)
	h.fake.Same("frame_0006.jpg", filepath.Base(target.RepresentativeImagePath), true, 95)
	if got := h.identifierOf(t, h.resolve(t, late.ID)); got != "AMERICAN_ROBIN_001" {
		t.Fatalf("expected match with merged profile, got %s", got)
	}
	h.requireVisitsMatchLinks(t)
}

func TestResolveAllContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	a := h.detect(t, "House Finch", checker)
	b := h.detect(t, "Mourning Dove", checker)

	batch := h.resolver.ResolveAll(context.Background(), []int64{a.ID, 9999, b.ID})
	if batch.New != 2 || batch.Matched != 0 || batch.Failed != 1 || len(batch.Results) != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestResolveMissingDetection(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), 12345)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMergeCheckedRequiresSameSpecies(t *testing.T) {
	h := newHarness(t)
	robin := h.resolve(t, h.detect(t, "American Robin", checker).ID)
	jay := h.resolve(t, h.detect(t, "Blue Jay", checker).ID)
	otherRobin := h.resolve(t, h.detect(t, "American Robin", testsupport.HalfSplit(20, 230)).ID)

	err := h.resolver.MergeChecked(context.Background(), jay.ProfileID, robin.ProfileID)
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if err := h.resolver.MergeChecked(context.Background(), otherRobin.ProfileID, robin.ProfileID); err != nil {
		t.Fatalf("MergeChecked: %v", err)
	}
	if profile := h.profile(t, robin.ProfileID); profile.TotalVisits != 2 {
		t.Fatalf("expected merged visits 2, got %d", profile.TotalVisits)
	}
	if err := h.resolver.Merge(context.Background(), jay.ProfileID, robin.ProfileID); err != nil {
		t.Fatalf("unchecked Merge: %v", err)
	}
}

func TestSetPrimaryImageRejectsForeignImage(t *testing.T) {
	h := newHarness(t)
	robin := h.resolve(t, h.detect(t, "American Robin", checker).ID)
	jay := h.resolve(t, h.detect(t, "Blue Jay", checker).ID)
	jayImages, err := h.st.ListRepresentativeImages(context.Background(), jay.ProfileID)
	if err != nil || len(jayImages) != 1 {
		t.Fatalf("ListRepresentativeImages: %+v %v", jayImages, err)
	}
	err = h.resolver.SetPrimaryImage(context.Background(), robin.ProfileID, jayImages[0].ID)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := h.resolver.SetPrimaryImage(context.Background(), jay.ProfileID, jayImages[0].ID); err != nil {
		t.Fatalf("SetPrimaryImage: %v", err)
	}
}
