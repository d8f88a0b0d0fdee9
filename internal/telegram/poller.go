package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"kontext/internal/chat"
	"kontext/internal/config"
	"kontext/internal/logging"
)

const pollRetryDelay = 3 * time.Second

// Handler consumes one inbound chat event. Handlers run on the poll
// goroutine, so message order within and across chats is preserved.
type Handler func(ctx context.Context, event chat.Event)

// Poller long-polls the Bot API and converts messages into chat events.
// Photo attachments are staged to disk before the handler sees them.
type Poller struct {
	client  *Client
	cfg     *config.Config
	handler Handler
	logger  *slog.Logger
	offset  int64
}

// NewPoller constructs a poller delivering events to handler.
func NewPoller(client *Client, cfg *config.Config, handler Handler, logger *slog.Logger) *Poller {
	return &Poller{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logging.ComponentLogger(cfg, logger, "telegram"),
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// after a delay; the API's retry_after hint is honoured when present.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling for updates",
		logging.Int("poll_timeout", p.cfg.Telegram.PollTimeout),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := p.client.GetUpdates(ctx, p.offset, p.cfg.Telegram.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := pollRetryDelay
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
			p.logger.Warn("poll failed",
				logging.Error(err),
				logging.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= p.offset {
				p.offset = update.UpdateID + 1
			}
			p.dispatch(ctx, update)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	event := chat.Event{ChatID: msg.Chat.ID}
	if msg.From != nil {
		event.Username = msg.From.Username
		event.FirstName = msg.From.FirstName
	}

	if len(msg.Photo) > 0 {
		staged, err := p.client.DownloadPhoto(ctx, largestPhoto(msg.Photo).FileID, p.cfg.Paths.StagingDir)
		if err != nil {
			p.logger.Error("photo download failed",
				logging.Int64(logging.FieldChatID, msg.Chat.ID),
				logging.Error(err),
			)
			if sendErr := p.client.SendText(ctx, msg.Chat.ID, "Sorry, I could not download your image. Please try sending it again."); sendErr != nil {
				p.logger.Warn("download apology failed",
					logging.Int64(logging.FieldChatID, msg.Chat.ID),
					logging.Error(sendErr),
				)
			}
			return
		}
		event.ImagePath = staged
		event.Text = strings.TrimSpace(msg.Caption)
	} else {
		event.Text = strings.TrimSpace(msg.Text)
	}

	// Stickers, voice notes and the like carry neither text nor photo.
	if !event.HasText() && !event.HasImage() {
		return
	}

	p.logger.Debug("event received",
		logging.Int64(logging.FieldChatID, event.ChatID),
		logging.Bool("has_image", event.HasImage()),
		logging.Bool("has_text", event.HasText()),
	)
	p.handler(ctx, event)
}
