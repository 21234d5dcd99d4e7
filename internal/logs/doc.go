// Package logs reads the daemon log file for `birdwatcher logs`.
//
// Last returns the trailing lines with bounded memory. Follow watches the
// file with fsnotify and streams appended lines until the context ends,
// restarting from the top when the file is truncated or recreated. Filter
// narrows output to one video in either the JSON or console log format.
package logs
