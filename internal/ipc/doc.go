// Package ipc is the control channel between kontextd and the CLI: a
// JSON-RPC service on a Unix socket plus the client that dials it.
//
// The wire types cover daemon status, queue listing and clearing, the kill
// switch, generation history, log tailing, notification tests, and shutdown.
// The server owns the socket lifecycle and answers from daemon state; the
// client applies a short dial timeout so commands fail fast when no daemon
// is listening.
package ipc
