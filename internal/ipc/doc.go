// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Keep the
// wire types flat so older CLI builds can still read daemon responses.
package ipc
