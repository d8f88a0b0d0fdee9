// Package admin implements the operations reserved for the administrator:
// the kill switch that tears down the compute server and every pending job
// at once, and the readout of recent generation history.
//
// The kill switch has a strict internal order. The server is force-stopped
// before any job is touched, the queue is drained before the running job is
// interrupted, and only then are requesters and the operator notified. That
// order is what prevents the worker from restarting the server for a job
// that was cancelled a moment earlier.
package admin
