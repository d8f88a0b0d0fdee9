// Package worker runs the single consumer that turns queued jobs into
// delivered images.
//
// The Loop dequeues one job at a time, boots or reuses the compute server,
// submits the job and relays throttled progress to the requester, then
// delivers the artifact, records history, and cleans the staged files. A
// failing job is settled and reported individually; the loop itself only
// stops with its context. When the queue stays empty past the idle grace
// period the loop shuts the server down.
//
// Exactly one Loop instance runs per daemon. That bound, not anything inside
// the compute server, is what keeps generation at one job at a time.
package worker
