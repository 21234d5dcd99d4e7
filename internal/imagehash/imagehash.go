// Package imagehash computes average-threshold perceptual hashes and a coarse
// brightness/sharpness quality score for still frames. Both gate expensive
// vision calls, so they stay pure and deterministic.
package imagehash

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
)

const (
	hashSide = 8
	// HashLength is the hex width of a hash (64 bits).
	HashLength = hashSide * hashSide / 4
)

// ErrLengthMismatch is returned when two hashes of different widths are compared.
var ErrLengthMismatch = errors.New("hashes must be the same length")

// Load decodes a JPEG or PNG image from disk.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// ComputeHash loads path and returns its perceptual hash.
func ComputeHash(path string) (string, error) {
	img, err := Load(path)
	if err != nil {
		return "", err
	}
	return ComputeHashImage(img), nil
}

// ComputeHashImage downsamples img to 8x8 grayscale and sets one bit per pixel
// that is strictly brighter than the mean. The result is 16 lowercase hex chars.
func ComputeHashImage(img image.Image) string {
	small := image.NewGray(image.Rect(0, 0, hashSide, hashSide))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range small.Pix {
		sum += int(p)
	}
	mean := float64(sum) / float64(len(small.Pix))

	var hash uint64
	for _, p := range small.Pix {
		hash <<= 1
		if float64(p) > mean {
			hash |= 1
		}
	}
	return fmt.Sprintf("%0*x", HashLength, hash)
}

// HammingDistance counts positions at which two equal-length hashes differ.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	distance := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			distance++
		}
	}
	return distance, nil
}

// SimilarityFromHashes converts the distance between two hashes into a 0..100
// score where each hex character accounts for four bits.
func SimilarityFromHashes(a, b string) (float64, error) {
	distance, err := HammingDistance(a, b)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 100, nil
	}
	score := (1 - float64(distance)/float64(len(a)*4)) * 100
	return math.Max(0, math.Min(100, score)), nil
}

// Similarity hashes both images and returns their similarity score.
func Similarity(pathA, pathB string) (float64, error) {
	a, err := ComputeHash(pathA)
	if err != nil {
		return 0, err
	}
	b, err := ComputeHash(pathB)
	if err != nil {
		return 0, err
	}
	return SimilarityFromHashes(a, b)
}
