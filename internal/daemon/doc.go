// Package daemon coordinates the long-running birdwatcher process.
//
// It wires the workflow manager, the camera watch folder and the metrics
// endpoint into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon also exposes the status and cache
// maintenance helpers served over IPC.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown and high level coordination.
package daemon
