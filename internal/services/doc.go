// Package services defines shared utilities consumed by the job handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp video IDs, job IDs, job types, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry a stable
//     classification (Tag) alongside a readable message.
//
// Use these helpers when wiring new handler logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
