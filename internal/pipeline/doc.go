// Package pipeline wires the processing stages into workflow job handlers.
//
// A video moves through three jobs, each enqueued by the previous one on
// success:
//
//   - frame_extraction probes the file, picks motion-guided or full-rate
//     extraction, persists the frame manifest and video metadata.
//   - bird_identification streams the manifest through the identification
//     stage in fixed-size batches.
//   - similarity_matching resolves every unmatched detection to a bird profile.
//
// Cancellation marks the video failed and drops its pending jobs. Handlers
// re-read the video between batches and stop enqueuing follow-up work once it
// has failed.
package pipeline
