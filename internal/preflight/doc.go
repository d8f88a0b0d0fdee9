// Package preflight checks the filesystem paths, external binaries, and Bot
// API credentials kontext depends on.
//
// The daemon runs RunAll once at startup and logs every result; failures are
// warnings rather than fatal, so operators can inspect status and queue state
// while repairing the reported issue. The CLI "kontext daemon status" command
// calls the individual checks (CheckDirectoryAccess, CheckSystemDeps) to
// render environment health.
package preflight
