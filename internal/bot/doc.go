// Package bot is the chat-facing brain of the daemon. It receives events
// from the transport poller, walks each requester through assembling an
// image-plus-prompt submission, answers the command surface (/start, /help,
// /status, and the admin-only /log and /kill), and hands completed
// submissions to the job queue.
//
// The dispatcher holds no state of its own. Partial submissions live in the
// conversation tracker, pending work in the queue, and the in-flight job in
// the worker; the dispatcher only reads them to phrase replies.
package bot
