// Package identification turns extracted frames into detections.
//
// Frames pass through a cheap local filter (quality score and perceptual-hash
// duplicate check), then a low-cost vision "detect" gate, and only then the
// full species identification call. Each identified bird becomes one
// detection row stamped with the video's recording time plus the frame offset.
// A per-batch summary row is written so skipped work stays visible.
package identification
