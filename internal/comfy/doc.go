// Package comfy manages the ComfyUI server process and drives generations
// through its HTTP and websocket API.
//
// The ServerController owns the conda-launched server as a process group:
// it adopts an externally started instance when one already answers, spawns
// and health-polls a fresh one otherwise, and tears the group down with a
// SIGTERM-then-SIGKILL escalation. The Client uploads staged input images,
// binds them with the prompt into the workflow template, queues the result,
// and follows execution events over the websocket until the output image can
// be pulled from history into the staging directory.
//
// Keep protocol knowledge here so the worker loop only sees handles, progress
// reports, and classified errors.
package comfy
