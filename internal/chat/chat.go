// Package chat defines the transport-neutral types exchanged between the
// message transport and the dispatcher, plus the requester-facing texts
// shared by the components that send them. The Telegram client produces
// Events and implements Sink; nothing outside internal/telegram knows about
// the wire API.
package chat

import "context"

// Event is one inbound submission piece or command. ImagePath points at a
// staged local copy of any attached photo; Text carries message text or the
// photo caption.
type Event struct {
	ChatID    int64
	Username  string
	FirstName string
	Text      string
	ImagePath string
}

// DisplayName returns the friendliest available name for the sender.
func (e Event) DisplayName() string {
	if e.FirstName != "" {
		return e.FirstName
	}
	if e.Username != "" {
		return e.Username
	}
	return "there"
}

// HasImage reports whether the event carries a staged photo.
func (e Event) HasImage() bool { return e.ImagePath != "" }

// HasText reports whether the event carries non-empty text.
func (e Event) HasText() bool { return e.Text != "" }

// Sink delivers outbound messages to a requester.
type Sink interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoPath, caption string) error
}
