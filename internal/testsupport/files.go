package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes size filler bytes to path, creating parent directories.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(max(size, 1))), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Pattern paints the pixel at (x, y) of a w×h test image.
type Pattern func(x, y, w, h int) color.Color

// Solid paints every pixel with the same gray level.
func Solid(level uint8) Pattern {
	return func(int, int, int, int) color.Color { return color.Gray{Y: level} }
}

// Checker paints alternating dark and light squares of size cell.
func Checker(cell int, dark, light uint8) Pattern {
	if cell <= 0 {
		cell = 1
	}
	return func(x, y, _, _ int) color.Color {
		if (x/cell+y/cell)%2 == 0 {
			return color.Gray{Y: dark}
		}
		return color.Gray{Y: light}
	}
}

// HalfSplit paints the left half dark and the right half light.
func HalfSplit(dark, light uint8) Pattern {
	return func(x, _, w, _ int) color.Color {
		if x < w/2 {
			return color.Gray{Y: dark}
		}
		return color.Gray{Y: light}
	}
}

// WriteJPEG renders a size×size image with pattern and writes it to path.
func WriteJPEG(t testing.TB, path string, size int, pattern Pattern) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.Set(x, y, pattern(x, y, size, size))
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
