// Package daemon assembles the long-running kontext process: the Telegram
// poller feeding the dispatcher, the job queue drained by the worker loop,
// the managed ComfyUI server, and the generation history store. A flock file
// lock keeps the daemon single-instance per log directory.
package daemon
