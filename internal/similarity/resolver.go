// Package similarity resolves detections to persistent bird identities.
//
// A detection is compared against the most recently seen profiles of the same
// species. A perceptual-hash pre-filter drops obviously different candidates
// before the vision model is asked, and the first candidate the model accepts
// with enough confidence wins. Otherwise a new profile is founded.
package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"birdwatcher/internal/config"
	"birdwatcher/internal/fileutil"
	"birdwatcher/internal/imagehash"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/paths"
	"birdwatcher/internal/services"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
)

var whitespace = regexp.MustCompile(`\s+`)

var upper = cases.Upper(language.Und)

// Result reports how one detection was resolved.
type Result struct {
	DetectionID int64
	Matched     bool
	ProfileID   int64
	Confidence  float64
	IsNewBird   bool
}

// BatchResult aggregates ResolveAll.
type BatchResult struct {
	Results []Result
	Matched int
	New     int
	Failed  int
}

// Resolver matches detections to bird profiles.
type Resolver struct {
	store   *store.Store
	vision  vision.Service
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	paths   *paths.Resolver

	threshold             float64
	maxComparisons        int
	prefilterMin          float64
	representativeQuality int
	imagesDir             string
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithMetrics records comparisons and resolutions on m.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithPaths stores archived images in relative form and resolves stored
// frame paths before reading them.
func WithPaths(p *paths.Resolver) Option {
	return func(r *Resolver) { r.paths = p }
}

// NewResolver builds a resolver from configuration.
func NewResolver(cfg *config.Config, st *store.Store, svc vision.Service, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:                 st,
		vision:                svc,
		logger:                logging.NewComponentLogger(logger, "similarity"),
		threshold:             cfg.Similarity.Threshold,
		maxComparisons:        cfg.Similarity.MaxComparisons,
		prefilterMin:          cfg.Similarity.PrefilterMinSimilarity,
		representativeQuality: cfg.Processing.RepresentativeQuality,
		imagesDir:             cfg.Paths.BirdImagesDir,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identifier renders the unique identifier for the sequence-th bird of species,
// e.g. "Northern Cardinal", 3 -> "NORTHERN_CARDINAL_003".
func Identifier(species string, sequence int) string {
	name := whitespace.ReplaceAllString(upper.String(strings.TrimSpace(species)), "_")
	return fmt.Sprintf("%s_%03d", name, sequence)
}

// Resolve links the detection to a matching profile or founds a new one.
// Already matched detections are reported as they stand.
func (r *Resolver) Resolve(ctx context.Context, detectionID int64) (Result, error) {
	detection, err := r.store.GetDetection(ctx, detectionID)
	if err != nil {
		return Result{}, err
	}
	if detection == nil {
		return Result{}, services.Wrap(services.ErrNotFound, "similarity", "resolve", fmt.Sprintf("detection %d not found", detectionID), nil)
	}
	if detection.IsMatched && detection.BirdProfileID != nil {
		result := Result{DetectionID: detectionID, Matched: true, ProfileID: *detection.BirdProfileID}
		if detection.MatchConfidence != nil {
			result.Confidence = *detection.MatchConfidence
		}
		return result, nil
	}
	logger := r.logger.With(
		logging.Int64("detection_id", detectionID),
		logging.Int64(logging.FieldVideoID, detection.VideoID),
		logging.String("species", detection.Species),
	)

	candidates, err := r.store.FindSameSpeciesProfiles(ctx, detection.Species, r.maxComparisons)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) > 0 {
		survivors := r.prefilter(logger, detection, candidates)
		if match, ok := r.findMatch(ctx, logger, detection, survivors); ok {
			if err := r.link(ctx, logger, detection, match); err != nil {
				return Result{}, err
			}
			r.metrics.RecordResolution("matched")
			return Result{
				DetectionID: detectionID,
				Matched:     true,
				ProfileID:   match.profile.ID,
				Confidence:  match.confidence,
			}, nil
		}
	}

	profile, err := r.found(ctx, logger, detection)
	if err != nil {
		return Result{}, err
	}
	r.metrics.RecordResolution("new")
	return Result{
		DetectionID: detectionID,
		Matched:     true,
		ProfileID:   profile.ID,
		Confidence:  100,
		IsNewBird:   true,
	}, nil
}

// ResolveAll resolves ids in order, continuing past individual failures.
func (r *Resolver) ResolveAll(ctx context.Context, ids []int64) BatchResult {
	var batch BatchResult
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result, err := r.Resolve(ctx, id)
		if err != nil {
			batch.Failed++
			r.metrics.RecordResolution("failed")
			logging.WarnWithContext(r.logger, "detection resolution failed", "resolution_failed",
				logging.Int64("detection_id", id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "detection stays unmatched"),
			)
			continue
		}
		batch.Results = append(batch.Results, result)
		if result.IsNewBird {
			batch.New++
		} else {
			batch.Matched++
		}
	}
	r.logger.Info("resolution batch complete",
		logging.Int("detections", len(ids)),
		logging.Int("matched", batch.Matched),
		logging.Int("new_birds", batch.New),
		logging.Int("failed", batch.Failed),
	)
	return batch
}

type candidate struct {
	profile *store.BirdProfile
	image   string
}

type match struct {
	profile    *store.BirdProfile
	confidence float64
}

// prefilter keeps candidates whose representative image is perceptually close
// to the detection frame. Candidates without an image, or whose hash
// comparison fails, are kept.
func (r *Resolver) prefilter(logger *slog.Logger, detection *store.Detection, profiles []*store.BirdProfile) []candidate {
	kept := make([]candidate, 0, len(profiles))
	for _, profile := range profiles {
		c := candidate{profile: profile, image: profile.RepresentativeImagePath}
		if c.image == "" {
			r.metrics.RecordComparison("prefilter", "no_image")
			kept = append(kept, c)
			continue
		}
		score, err := imagehash.Similarity(r.paths.ToAbsolute(detection.FramePath), r.paths.ToAbsolute(c.image))
		if err != nil {
			r.metrics.RecordComparison("prefilter", "error")
			logger.Warn("perceptual hash comparison failed; keeping candidate",
				logging.String(logging.FieldEventType, "prefilter_failed"),
				logging.String("profile", profile.UniqueIdentifier),
				logging.Error(err),
			)
			kept = append(kept, c)
			continue
		}
		if score > r.prefilterMin {
			r.metrics.RecordComparison("prefilter", "pass")
			kept = append(kept, c)
			continue
		}
		r.metrics.RecordComparison("prefilter", "reject")
		logger.Debug("candidate rejected by prefilter",
			logging.String("profile", profile.UniqueIdentifier),
			logging.Float64("similarity", score),
		)
	}
	return kept
}

func (r *Resolver) findMatch(ctx context.Context, logger *slog.Logger, detection *store.Detection, candidates []candidate) (match, bool) {
	for _, c := range candidates {
		image := c.image
		if image == "" {
			image = r.fallbackImage(ctx, c.profile.ID)
		}
		if image == "" {
			r.metrics.RecordComparison("vision", "no_image")
			logger.Debug("candidate has no image to compare", logging.String("profile", c.profile.UniqueIdentifier))
			continue
		}
		verdict, err := r.vision.Compare(ctx, r.paths.ToAbsolute(detection.FramePath), r.paths.ToAbsolute(image))
		if err != nil {
			r.metrics.RecordComparison("vision", "error")
			logging.WarnWithContext(logger, "vision comparison failed", "compare_failed",
				logging.String("profile", c.profile.UniqueIdentifier),
				logging.Error(err),
				logging.String(logging.FieldImpact, "candidate skipped"),
			)
			continue
		}
		if verdict.IsSameBird && verdict.Confidence >= r.threshold {
			r.metrics.RecordComparison("vision", "match")
			logger.Info("detection matched existing bird",
				logging.String(logging.FieldDecisionType, "identity_match"),
				logging.String("profile", c.profile.UniqueIdentifier),
				logging.Float64("confidence", verdict.Confidence),
			)
			return match{profile: c.profile, confidence: verdict.Confidence}, true
		}
		r.metrics.RecordComparison("vision", "mismatch")
		logger.Debug("candidate did not match",
			logging.String("profile", c.profile.UniqueIdentifier),
			logging.Bool("same_bird", verdict.IsSameBird),
			logging.Float64("confidence", verdict.Confidence),
		)
	}
	return match{}, false
}

func (r *Resolver) fallbackImage(ctx context.Context, profileID int64) string {
	images, err := r.store.ListRepresentativeImages(ctx, profileID)
	if err != nil || len(images) == 0 {
		return ""
	}
	return images[0].ImagePath
}

func (r *Resolver) link(ctx context.Context, logger *slog.Logger, detection *store.Detection, m match) error {
	input := store.LinkInput{
		DetectionID:     detection.ID,
		ProfileID:       m.profile.ID,
		MatchConfidence: m.confidence,
		SeenAt:          detection.DetectedAt,
	}
	quality := r.quality(logger, r.paths.ToAbsolute(detection.FramePath))
	if quality >= r.representativeQuality {
		path, err := r.archive(detection, m.profile.UniqueIdentifier)
		if err != nil {
			logging.WarnWithContext(logger, "representative image copy failed", "image_copy_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "image references the frame directory"),
			)
			path = detection.FramePath
		}
		input.ImagePath = path
		input.ImageQuality = quality
	}
	return r.store.LinkDetectionToProfile(ctx, input)
}

func (r *Resolver) found(ctx context.Context, logger *slog.Logger, detection *store.Detection) (*store.BirdProfile, error) {
	quality := r.quality(logger, r.paths.ToAbsolute(detection.FramePath))
	profile, err := r.store.CreateProfileFromDetection(ctx, store.NewProfile{
		Species:       detection.Species,
		CommonName:    commonName(detection.AIAnalysis),
		PrimaryGender: detection.Gender,
		Identifier: func(sequence int) string {
			return Identifier(detection.Species, sequence)
		},
		DetectionID:  detection.ID,
		SeenAt:       detection.DetectedAt,
		ImagePath:    detection.FramePath,
		ImageQuality: quality,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("new bird profile created",
		logging.String(logging.FieldDecisionType, "identity_new"),
		logging.String("profile", profile.UniqueIdentifier),
	)

	images, err := r.store.ListRepresentativeImages(ctx, profile.ID)
	if err != nil || len(images) == 0 {
		return profile, nil
	}
	path, err := r.archive(detection, profile.UniqueIdentifier)
	if err == nil {
		err = r.store.MoveRepresentativeImage(ctx, images[0].ID, path)
	}
	if err != nil {
		logging.WarnWithContext(logger, "representative image copy failed", "image_copy_failed",
			logging.String("profile", profile.UniqueIdentifier),
			logging.Error(err),
			logging.String(logging.FieldImpact, "image references the frame directory"),
		)
		return profile, nil
	}
	return r.store.GetProfile(ctx, profile.ID)
}

// archive copies the detection frame under the profile's image directory so
// profile references survive frame cleanup.
func (r *Resolver) archive(detection *store.Detection, identifier string) (string, error) {
	ext := filepath.Ext(detection.FramePath)
	if ext == "" {
		ext = ".jpg"
	}
	dst := filepath.Join(r.imagesDir, identifier, fmt.Sprintf("detection_%d%s", detection.ID, ext))
	if err := fileutil.CopyFileVerified(r.paths.ToAbsolute(detection.FramePath), dst); err != nil {
		return "", err
	}
	return r.paths.ToRelative(dst), nil
}

func (r *Resolver) quality(logger *slog.Logger, path string) int {
	score, err := imagehash.AssessQuality(path)
	if err != nil {
		logger.Warn("quality assessment failed",
			logging.String(logging.FieldEventType, "quality_failed"),
			logging.String("path", path),
			logging.Error(err),
		)
		return 0
	}
	return score
}

func commonName(analysis string) string {
	if analysis == "" {
		return ""
	}
	var payload struct {
		CommonName string `json:"common_name"`
	}
	if err := json.Unmarshal([]byte(analysis), &payload); err != nil {
		return ""
	}
	return payload.CommonName
}

// Merge folds source into target without checking species.
func (r *Resolver) Merge(ctx context.Context, sourceID, targetID int64) error {
	if err := r.store.MergeProfiles(ctx, sourceID, targetID); err != nil {
		return err
	}
	r.logger.Info("bird profiles merged",
		logging.Int64("source_profile_id", sourceID),
		logging.Int64("target_profile_id", targetID),
	)
	return nil
}

// MergeChecked merges only profiles of the same species.
func (r *Resolver) MergeChecked(ctx context.Context, sourceID, targetID int64) error {
	source, err := r.store.GetProfile(ctx, sourceID)
	if err != nil {
		return err
	}
	target, err := r.store.GetProfile(ctx, targetID)
	if err != nil {
		return err
	}
	if source == nil || target == nil {
		missing := sourceID
		if source != nil {
			missing = targetID
		}
		return fmt.Errorf("bird profile %d: %w", missing, store.ErrNotFound)
	}
	if !strings.EqualFold(source.Species, target.Species) {
		return services.Wrap(services.ErrIntegrity, "similarity", "merge",
			fmt.Sprintf("cannot merge %s (%s) into %s (%s)", source.UniqueIdentifier, source.Species, target.UniqueIdentifier, target.Species), nil)
	}
	return r.Merge(ctx, sourceID, targetID)
}

// SetPrimaryImage makes imageID the profile's single primary image.
func (r *Resolver) SetPrimaryImage(ctx context.Context, profileID, imageID int64) error {
	if err := r.store.SetPrimaryImage(ctx, profileID, imageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return services.Wrap(services.ErrNotFound, "similarity", "set primary image",
				fmt.Sprintf("image %d does not belong to profile %d", imageID, profileID), err)
		}
		return err
	}
	return nil
}
