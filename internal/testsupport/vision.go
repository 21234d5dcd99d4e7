package testsupport

import (
	"context"
	"path/filepath"
	"sync"

	"birdwatcher/internal/services/vision"
)

// FakeVision is a scripted vision.Service. Responses are looked up by the
// base name of the image path; unknown frames report no birds and compares
// report a mismatch.
type FakeVision struct {
	mu sync.Mutex

	DetectResults   map[string]vision.DetectResult
	IdentifyResults map[string]vision.IdentifyResult
	// HighDetailResults overrides IdentifyResults for high detail calls.
	HighDetailResults map[string]vision.IdentifyResult
	// CompareResults is keyed by "<base A>|<base B>".
	CompareResults map[string]vision.CompareResult
	Errors         map[string]error

	DetectCalls   []string
	IdentifyCalls []string
	CompareCalls  []string
}

// NewFakeVision returns an empty fake.
func NewFakeVision() *FakeVision {
	return &FakeVision{
		DetectResults:     make(map[string]vision.DetectResult),
		IdentifyResults:   make(map[string]vision.IdentifyResult),
		HighDetailResults: make(map[string]vision.IdentifyResult),
		CompareResults:    make(map[string]vision.CompareResult),
		Errors:            make(map[string]error),
	}
}

// Birds scripts a frame that passes the detect gate and identifies birds.
func (f *FakeVision) Birds(frame string, birds ...vision.Bird) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DetectResults[frame] = vision.DetectResult{BirdsDetected: len(birds), Confidence: 90}
	f.IdentifyResults[frame] = vision.IdentifyResult{BirdsDetected: len(birds), Birds: birds}
}

// Same scripts a compare verdict between two images.
func (f *FakeVision) Same(a, b string, same bool, confidence float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompareResults[a+"|"+b] = vision.CompareResult{IsSameBird: same, Confidence: confidence}
}

// Detect implements vision.Service.
func (f *FakeVision) Detect(_ context.Context, imagePath string) (vision.DetectResult, error) {
	key := filepath.Base(imagePath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DetectCalls = append(f.DetectCalls, key)
	if err := f.Errors[key]; err != nil {
		return vision.DetectResult{}, err
	}
	return f.DetectResults[key], nil
}

// Identify implements vision.Service.
func (f *FakeVision) Identify(_ context.Context, imagePath string, detail vision.Detail) (vision.IdentifyResult, error) {
	key := filepath.Base(imagePath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IdentifyCalls = append(f.IdentifyCalls, key+"@"+string(detail))
	if detail == vision.DetailHigh {
		if result, ok := f.HighDetailResults[key]; ok {
			return result, nil
		}
	}
	return f.IdentifyResults[key], nil
}

// Compare implements vision.Service.
func (f *FakeVision) Compare(_ context.Context, imagePathA, imagePathB string) (vision.CompareResult, error) {
	key := filepath.Base(imagePathA) + "|" + filepath.Base(imagePathB)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompareCalls = append(f.CompareCalls, key)
	if err := f.Errors[key]; err != nil {
		return vision.CompareResult{}, err
	}
	return f.CompareResults[key], nil
}

// Calls returns copies of the recorded call lists.
func (f *FakeVision) Calls() (detect, identify, compare []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.DetectCalls...),
		append([]string(nil), f.IdentifyCalls...),
		append([]string(nil), f.CompareCalls...)
}

var _ vision.Service = (*FakeVision)(nil)
