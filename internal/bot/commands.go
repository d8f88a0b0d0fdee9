package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"kontext/internal/admin"
	"kontext/internal/chat"
	"kontext/internal/conversation"
	"kontext/internal/history"
	"kontext/internal/logging"
)

// Requester-facing texts. The submission texts must stay stable; requesters
// learn the two-step flow from them.
const (
	welcomeTemplate = "Hi %s!\n\nI am a bot that can reimagine an image based on your text prompt, using a FLUX workflow.\n\nTo get started, please send me an image with your prompt written in the caption. You can also send an image and a prompt separately."

	helpText = "How to use this bot:\n\n1. **Easiest way:** Send an image and type your creative prompt in the image caption.\n\n2. **Alternate way:** Send an image first, and I will ask for a prompt. Then, send the prompt in a separate message.\n\n3. **Another way:** Send a text prompt first, and I will ask for an image. Then, send the image in a separate message."

	askForPromptText = "Got your image! Now, please send me a text prompt for it."
	askForImageText  = "Got your prompt! Now, please send me the image you want me to work on."

	startingText   = "✅ Image and prompt received. Starting generation process... This may take a moment."
	queuedTemplate = "✅ Image and prompt received. You are number %d in the queue. Estimated wait: about %s."

	notAdminText       = "Sorry, that command is only available to the administrator."
	unknownCommandText = "Unknown command. Send /help to see what I can do."
)

// historyLines is how many generation log entries /log returns.
const historyLines = 20

// parseCommand extracts a slash command from a text-only event. The
// @botname suffix Telegram appends in group chats is dropped and the
// command is lowercased.
func parseCommand(event chat.Event) (string, bool) {
	if event.HasImage() || !event.HasText() {
		return "", false
	}
	text := strings.TrimSpace(event.Text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := text[1:]
	if i := strings.IndexAny(cmd, " \t\n"); i >= 0 {
		cmd = cmd[:i]
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "" {
		return "", false
	}
	return cmd, true
}

func (d *Dispatcher) handleCommand(ctx context.Context, logger *slog.Logger, event chat.Event, cmd string) {
	switch cmd {
	case "start":
		d.reply(ctx, logger, event.ChatID, fmt.Sprintf(welcomeTemplate, event.DisplayName()))
	case "help":
		d.reply(ctx, logger, event.ChatID, helpText)
	case "status":
		d.reply(ctx, logger, event.ChatID, d.statusText(ctx, event.ChatID))
	case "log":
		d.handleLog(ctx, logger, event)
	case "kill":
		d.handleKill(ctx, logger, event)
	default:
		d.reply(ctx, logger, event.ChatID, unknownCommandText)
	}
}

// authorize gates a privileged command on the admin allowlist.
func (d *Dispatcher) authorize(ctx context.Context, logger *slog.Logger, event chat.Event, cmd string) bool {
	if d.cfg.IsAdmin(event.ChatID) {
		return true
	}
	logger.Warn("privileged command refused",
		logging.String("command", cmd),
		logging.String(logging.FieldEventType, "command_refused"),
	)
	d.reply(ctx, logger, event.ChatID, notAdminText)
	return false
}

func (d *Dispatcher) handleLog(ctx context.Context, logger *slog.Logger, event chat.Event) {
	if !d.authorize(ctx, logger, event, "log") {
		return
	}
	records, err := d.admin.History(ctx, historyLines)
	if err != nil {
		logger.Error("history lookup failed", logging.Error(err))
		d.reply(ctx, logger, event.ChatID, "Sorry, the generation log could not be read.")
		return
	}
	d.reply(ctx, logger, event.ChatID, formatHistory(records))
}

func (d *Dispatcher) handleKill(ctx context.Context, logger *slog.Logger, event chat.Event) {
	if !d.authorize(ctx, logger, event, "kill") {
		return
	}
	result := d.admin.KillAll(ctx, requesterName(event))
	d.reply(ctx, logger, event.ChatID, killSummary(result))
}

// statusText composes the public /status reply: server phase, current job,
// queue depth, and the asking requester's own standing.
func (d *Dispatcher) statusText(ctx context.Context, chatID int64) string {
	current, running := d.worker.Current()
	waiting := d.queue.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s.\n", d.server.Phase())

	if running {
		fmt.Fprintf(&b, "Generating for %s", current.Requester())
		if current.StartedAt != nil {
			fmt.Fprintf(&b, " (%s elapsed)", time.Since(*current.StartedAt).Round(time.Second))
		}
		b.WriteString(".\n")
	} else {
		b.WriteString("No job is running.\n")
	}

	switch len(waiting) {
	case 0:
		b.WriteString("The queue is empty.")
	case 1:
		b.WriteString("1 job is waiting.")
	default:
		fmt.Fprintf(&b, "%d jobs are waiting.", len(waiting))
	}

	if running && current.ChatID == chatID {
		b.WriteString("\nYour image is being generated right now.")
		return b.String()
	}
	for i, job := range waiting {
		if job.ChatID != chatID {
			continue
		}
		position := i + 1
		if running {
			position++
		}
		wait := d.estimator.ForPosition(ctx, position)
		fmt.Fprintf(&b, "\nYou are number %d in the queue. Estimated wait: about %s.", position, chat.FormatWait(wait))
		break
	}

	switch d.tracker.StateOf(chatID) {
	case conversation.StateImagePending:
		b.WriteString("\nI still have your image and am waiting for a prompt.")
	case conversation.StatePromptPending:
		b.WriteString("\nI still have your prompt and am waiting for an image.")
	}
	return b.String()
}

func formatHistory(records []history.Record) string {
	if len(records) == 0 {
		return "No generations recorded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d generations:", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "\n%s  %s: %s (%s)",
			rec.FinishedAt.Local().Format("Jan 02 15:04"),
			rec.Requester(),
			rec.PromptExcerpt(60),
			rec.Duration.Round(time.Second),
		)
	}
	return b.String()
}

func killSummary(result admin.KillResult) string {
	if result.Total() == 0 {
		return "🛑 Kill switch engaged. Nothing was running; the server is stopped."
	}
	noun := "jobs"
	if result.Total() == 1 {
		noun = "job"
	}
	return fmt.Sprintf("🛑 Kill switch engaged. Cancelled %d %s; the server is stopped.", result.Total(), noun)
}

// requesterName identifies the sender for operator-facing records.
func requesterName(event chat.Event) string {
	if event.Username != "" {
		return event.Username
	}
	if event.FirstName != "" {
		return event.FirstName
	}
	return "chat " + strconv.FormatInt(event.ChatID, 10)
}
