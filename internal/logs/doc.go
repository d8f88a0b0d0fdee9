// Package logs provides file tailing and offset helpers shared by the CLI
// and the daemon's IPC log endpoint.
//
// It reads log files with bounded memory, supports negative offsets for
// "tail last N lines" requests, and powers follow mode for `kontext log -f`.
// Callers supply context deadlines so background polling shuts down cleanly
// when the CLI exits.
package logs
