package vision

import (
	"context"
	"time"
)

// Operation names a vision call. It labels cache keys, metrics and logs.
type Operation string

const (
	OpDetect   Operation = "detect"
	OpIdentify Operation = "identify"
	OpCompare  Operation = "compare"
	OpHealth   Operation = "health"
)

// Detail is the image detail level sent with each image part.
type Detail string

const (
	DetailLow  Detail = "low"
	DetailHigh Detail = "high"
	DetailAuto Detail = "auto"
)

// DetectResult is the cheap "are there birds?" answer.
type DetectResult struct {
	BirdsDetected int     `json:"birds_detected" validate:"gte=0"`
	Confidence    float64 `json:"confidence" validate:"gte=0,lte=100"`
}

// Bird is one bird reported by an identify call.
type Bird struct {
	Species      string  `json:"species" validate:"required"`
	CommonName   string  `json:"common_name"`
	Gender       string  `json:"gender"`
	Features     string  `json:"features"`
	ImageQuality int     `json:"image_quality" validate:"gte=0,lte=10"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=100"`
}

// IdentifyResult lists every bird the model identified in a frame.
type IdentifyResult struct {
	BirdsDetected int    `json:"birds_detected" validate:"gte=0"`
	Birds         []Bird `json:"birds"`
}

// CompareResult is the model's verdict on whether two images show one individual.
type CompareResult struct {
	IsSameBird       bool     `json:"is_same_bird"`
	Confidence       float64  `json:"confidence" validate:"gte=0,lte=100"`
	Reasoning        string   `json:"reasoning"`
	MatchingFeatures []string `json:"matching_features"`
	DifferencesNoted []string `json:"differences_noted"`
}

// CacheStats reports response cache occupancy and effectiveness.
type CacheStats struct {
	Entries    int           `json:"entries"`
	MaxEntries int           `json:"max_entries"`
	Hits       uint64        `json:"hits"`
	Misses     uint64        `json:"misses"`
	TTL        time.Duration `json:"ttl"`
	TokensUsed int           `json:"tokens_used"`
}

// Service is the vision surface consumed by the pipeline stages.
type Service interface {
	Detect(ctx context.Context, imagePath string) (DetectResult, error)
	Identify(ctx context.Context, imagePath string, detail Detail) (IdentifyResult, error)
	Compare(ctx context.Context, imagePathA, imagePathB string) (CompareResult, error)
}
