// Package main hosts the birdwatcher CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground, talks to a
// running daemon over IPC for status and cache maintenance, and works on the
// SQLite store directly for video, job and bird profile management. Jobs
// queued from the CLI are picked up by the daemon's polling loop.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
