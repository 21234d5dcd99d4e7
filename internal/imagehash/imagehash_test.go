package imagehash_test

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdwatcher/internal/imagehash"
	"birdwatcher/internal/testsupport"
)

func render(size int, pattern testsupport.Pattern) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, pattern(x, y, size, size))
		}
	}
	return img
}

func TestComputeHashImage(t *testing.T) {
	t.Parallel()

	solid := imagehash.ComputeHashImage(render(64, testsupport.Solid(128)))
	assert.Equal(t, "0000000000000000", solid, "no pixel is strictly above the mean")

	split := imagehash.ComputeHashImage(render(64, testsupport.HalfSplit(0, 255)))
	assert.Equal(t, "0f0f0f0f0f0f0f0f", split)
	assert.Len(t, split, imagehash.HashLength)
}

func TestComputeHashIsDeterministicForFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	testsupport.WriteJPEG(t, a, 64, testsupport.Checker(8, 20, 230))
	testsupport.WriteJPEG(t, b, 64, testsupport.Checker(8, 20, 230))

	hashA, err := imagehash.ComputeHash(a)
	require.NoError(t, err)
	hashB, err := imagehash.ComputeHash(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	score, err := imagehash.Similarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, score, 0.0001)
}

func TestComputeHashMissingFile(t *testing.T) {
	t.Parallel()

	_, err := imagehash.ComputeHash(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "0f0f0f0f0f0f0f0f", "0f0f0f0f0f0f0f0f", 0},
		{"one char", "0f0f0f0f0f0f0f0f", "1f0f0f0f0f0f0f0f", 1},
		{"every other char", "0000000000000000", "0f0f0f0f0f0f0f0f", 8},
		{"all chars", "0000000000000000", "ffffffffffffffff", 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := imagehash.HammingDistance(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			reverse, err := imagehash.HammingDistance(tt.b, tt.a)
			require.NoError(t, err)
			assert.Equal(t, got, reverse, "distance must be symmetric")
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, len(tt.a))
		})
	}
}

func TestHammingDistanceRejectsLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := imagehash.HammingDistance("abc", "abcd")
	require.ErrorIs(t, err, imagehash.ErrLengthMismatch)

	_, err = imagehash.SimilarityFromHashes("abc", "abcd")
	require.ErrorIs(t, err, imagehash.ErrLengthMismatch)
}

func TestSimilarityFromHashes(t *testing.T) {
	t.Parallel()

	score, err := imagehash.SimilarityFromHashes("0000000000000000", "0f0f0f0f0f0f0f0f")
	require.NoError(t, err)
	assert.InDelta(t, 87.5, score, 0.0001)

	score, err = imagehash.SimilarityFromHashes("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.InDelta(t, 75.0, score, 0.0001)
}

func TestAssessQualityImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		img  image.Image
		want int
	}{
		{"flat mid gray", render(32, testsupport.Solid(128)), 8},
		{"too dark and flat", render(32, testsupport.Solid(10)), 5},
		{"too bright and flat", render(32, testsupport.Solid(240)), 5},
		{"contrasty", render(32, testsupport.Checker(4, 0, 255)), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, imagehash.AssessQualityImage(tt.img))
		})
	}
}

func TestAssessQualityGrayImageUsesSingleChannel(t *testing.T) {
	t.Parallel()

	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	img.SetGray(0, 0, color.Gray{Y: 100})
	assert.Equal(t, 8, imagehash.AssessQualityImage(img))
}

func TestAssessQualityFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frame.jpg")
	testsupport.WriteJPEG(t, path, 64, testsupport.Checker(8, 0, 255))
	score, err := imagehash.AssessQuality(path)
	require.NoError(t, err)
	assert.Equal(t, 10, score)
}
