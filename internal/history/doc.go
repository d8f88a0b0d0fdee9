// Package history persists the append-only generation log in SQLite.
//
// One record is written per successful generation. The log feeds the CLI
// history table, daemon status counters, and the rolling-duration window the
// queue uses to estimate wait times. The live queue itself is memory-resident;
// this store never influences scheduling.
package history
