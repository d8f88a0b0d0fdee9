package bot

import (
	"context"
	"fmt"
	"log/slog"

	"kontext/internal/admin"
	"kontext/internal/chat"
	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/conversation"
	"kontext/internal/history"
	"kontext/internal/logging"
	"kontext/internal/queue"
	"kontext/internal/services"
)

// Admin is the slice of the administrator controller the dispatcher invokes
// on behalf of privileged chat commands.
type Admin interface {
	KillAll(ctx context.Context, requestedBy string) admin.KillResult
	History(ctx context.Context, limit int) ([]history.Record, error)
}

// Worker exposes the in-flight job, if any. Reported queue positions count
// it: a requester behind one queued job and one generating job is number 3,
// and nobody is told they are number 1 while another image is still
// rendering.
type Worker interface {
	Current() (queue.Job, bool)
}

// Server exposes the compute server lifecycle phase for status output.
type Server interface {
	Phase() comfy.Phase
}

// Dispatcher routes inbound chat events: slash commands to their handlers,
// submission pieces through the conversation tracker, and completed
// image-plus-prompt pairs onto the job queue. It runs on the poll goroutine,
// so handling is strictly one event at a time.
type Dispatcher struct {
	cfg       *config.Config
	tracker   *conversation.Tracker
	queue     *queue.Queue
	estimator *queue.Estimator
	sink      chat.Sink
	admin     Admin
	worker    Worker
	server    Server
	logger    *slog.Logger
}

// NewDispatcher wires the chat-facing request router.
func NewDispatcher(cfg *config.Config, tracker *conversation.Tracker, q *queue.Queue, estimator *queue.Estimator, sink chat.Sink, adm Admin, worker Worker, server Server, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		tracker:   tracker,
		queue:     q,
		estimator: estimator,
		sink:      sink,
		admin:     adm,
		worker:    worker,
		server:    server,
		logger:    logging.ComponentLogger(cfg, logger, "bot"),
	}
}

// Handle consumes one inbound event. It matches the transport's Handler
// signature and never returns an error; every failure is reported to the
// requester or logged.
func (d *Dispatcher) Handle(ctx context.Context, event chat.Event) {
	ctx = services.WithChatID(ctx, event.ChatID)
	logger := logging.WithContext(ctx, d.logger)

	if cmd, ok := parseCommand(event); ok {
		d.handleCommand(ctx, logger, event, cmd)
		return
	}

	switch {
	case event.HasImage() && event.HasText():
		d.applyUpdate(ctx, logger, event, d.tracker.AddCombined(event.ChatID, event.ImagePath, event.Text))
	case event.HasImage():
		d.applyUpdate(ctx, logger, event, d.tracker.AddImage(event.ChatID, event.ImagePath))
	case event.HasText():
		d.applyUpdate(ctx, logger, event, d.tracker.AddPrompt(event.ChatID, event.Text))
	default:
		logger.Debug("ignoring event with no usable content")
	}
}

// applyUpdate turns a tracker outcome into the next reply: enqueue when the
// pair is complete, otherwise prompt for the missing half.
func (d *Dispatcher) applyUpdate(ctx context.Context, logger *slog.Logger, event chat.Event, update conversation.Update) {
	if update.Complete {
		d.enqueue(ctx, logger, event, update)
		return
	}
	switch update.State {
	case conversation.StateImagePending:
		d.reply(ctx, logger, event.ChatID, askForPromptText)
	case conversation.StatePromptPending:
		d.reply(ctx, logger, event.ChatID, askForImageText)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, logger *slog.Logger, event chat.Event, update conversation.Update) {
	job, position := d.queue.Enqueue(event.ChatID, event.Username, update.Prompt, update.ImagePath)
	if _, running := d.worker.Current(); running {
		position++
	}

	logger.Info("job enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("requester", job.Requester()),
		logging.Int("position", position),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)

	if position == 1 {
		d.reply(ctx, logger, event.ChatID, startingText)
		return
	}
	wait := d.estimator.ForPosition(ctx, position)
	d.reply(ctx, logger, event.ChatID, fmt.Sprintf(queuedTemplate, position, chat.FormatWait(wait)))
}

func (d *Dispatcher) reply(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	if err := d.sink.SendText(ctx, chatID, text); err != nil {
		logger.Warn("reply failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "chat_send_failed"),
		)
	}
}
