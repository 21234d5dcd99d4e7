// Package paths converts between absolute media paths and the root-tagged
// relative form stored in the database ("frames/12/frame_0001.jpg",
// "uploads/clip.mp4", "bird-images/AMERICAN_ROBIN_001/detection_5.jpg").
// Stored paths therefore survive moving the data directories.
package paths

import (
	"path/filepath"
	"strings"

	"birdwatcher/internal/config"
)

// Root markers used as the first element of stored relative paths.
const (
	Frames     = "frames"
	Uploads    = "uploads"
	BirdImages = "bird-images"
)

type root struct {
	marker string
	dir    string
}

// Resolver maps stored paths onto the configured directories.
type Resolver struct {
	roots   []root
	dataDir string
}

// NewResolver builds a resolver from the configured path section.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		roots: []root{
			{marker: Frames, dir: filepath.Clean(cfg.Paths.FramesDir)},
			{marker: Uploads, dir: filepath.Clean(cfg.Paths.UploadsDir)},
			{marker: BirdImages, dir: filepath.Clean(cfg.Paths.BirdImagesDir)},
		},
		dataDir: filepath.Clean(cfg.Paths.DataDir),
	}
}

// ToRelative returns the stored form of path. Paths outside every managed
// root, and paths that are already relative, are returned unchanged.
func (r *Resolver) ToRelative(path string) string {
	if r == nil || path == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	clean := filepath.Clean(path)
	for _, rt := range r.roots {
		rel, err := filepath.Rel(rt.dir, clean)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return rt.marker + "/" + filepath.ToSlash(rel)
	}
	return clean
}

// ToAbsolute resolves a stored path. Absolute paths are returned unchanged;
// untagged relative paths resolve against the data directory.
func (r *Resolver) ToAbsolute(path string) string {
	if r == nil || path == "" || filepath.IsAbs(path) {
		return path
	}
	slashed := filepath.ToSlash(path)
	for _, rt := range r.roots {
		if rest, ok := strings.CutPrefix(slashed, rt.marker+"/"); ok {
			return filepath.Join(rt.dir, filepath.FromSlash(rest))
		}
	}
	return filepath.Join(r.dataDir, filepath.FromSlash(slashed))
}
