// Package daemonrun assembles the long-running birdwatcher process: logger,
// store, vision client, pipeline handlers, watch folder, metrics endpoint and
// the IPC socket.
package daemonrun
