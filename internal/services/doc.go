// Package services carries the cross-cutting plumbing shared by the worker
// loop and the integrations it drives.
//
// Two things live here. Context helpers stamp job, chat, component, and
// correlation identifiers onto a context.Context so downstream loggers pick
// them up automatically. The error marker vocabulary (ErrExecution,
// ErrCancelled, ErrStartupTimeout, and the rest) is attached to failures by
// Wrap; FailureStatus and UserMessage read the markers back to choose a
// terminal queue status and a requester-facing message.
//
// New job logic should route failures through Wrap so classification works
// without string matching.
package services
