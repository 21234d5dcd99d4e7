// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and returns a Result; helpers expose the first video
// stream, its frame rate, the container duration and tag lookups across the
// format and video stream.
package ffprobe
