package chat

import (
	"fmt"
	"time"

	"kontext/internal/queue"
)

// CancelMessage renders the requester-facing text for a cancelled job. The
// reason is one of the queue cancellation constants; unknown reasons fall
// back to a generic notice.
func CancelMessage(reason string) string {
	switch reason {
	case queue.KillSwitchReason:
		return "🛑 Your generation was cancelled by the administrator."
	case queue.ShutdownReason:
		return "🛑 The bot is shutting down. Please resubmit your request later."
	default:
		return "🛑 Your generation was cancelled."
	}
}

// FormatWait renders a duration as a rough human estimate for chat replies.
// Short waits are given in seconds with a five second floor, anything from
// ninety seconds up in rounded minutes.
func FormatWait(d time.Duration) string {
	if d < 5*time.Second {
		d = 5 * time.Second
	}
	if d < 90*time.Second {
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second).Seconds()))
	}
	minutes := int(d.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%d minutes", minutes)
}
