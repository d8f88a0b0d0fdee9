// Package telegram is the Bot API transport. The Client covers the handful
// of methods the daemon needs (getMe, getUpdates, sendMessage, sendPhoto,
// getFile plus the file download path) and implements chat.Sink; the Poller
// long-polls for updates, stages photo attachments into the staging
// directory, and hands transport-neutral chat events to the dispatcher in
// arrival order.
//
// Bot tokens are redacted from transport errors before they can reach logs.
package telegram
