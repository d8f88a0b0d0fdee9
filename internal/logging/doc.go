// Package logging builds the slog stack every kontext process logs through.
//
// New constructs the root logger from Options: console or JSON format, file
// and stderr routing, level parsing. WithContext and NewComponentLogger
// derive scoped loggers that tag records with job, chat, and component
// attributes, and the Field constants pin the attribute names those tags
// use. A no-op logger backs tests and wiring paths that must not fail, a
// ProgressSampler throttles generation progress records, and
// PruneExpiredLogs ages out the daemon's log directory.
//
// Components should obtain loggers here rather than assembling their own
// handlers so records keep the same shape across the daemon and CLI.
package logging
