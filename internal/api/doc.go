// Package api defines the transport-friendly view types shared between the
// daemon's IPC responses and the CLI's rendering. Conversions live here so
// both sides agree on field names and timestamp formats.
package api
