// Package deps checks that the external binaries the pipeline executes are
// installed. Results feed handler health checks and the daemon's startup log.
package deps
