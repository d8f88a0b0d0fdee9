package chat_test

import (
	"strings"
	"testing"
	"time"

	"kontext/internal/chat"
	"kontext/internal/queue"
)

func TestCancelMessageMatchesReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"kill switch", queue.KillSwitchReason, "cancelled by the administrator"},
		{"daemon shutdown", queue.ShutdownReason, "shutting down"},
		{"unknown reason", "timeout budget exceeded", "was cancelled."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chat.CancelMessage(tt.reason)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("CancelMessage(%q) = %q, want substring %q", tt.reason, got, tt.want)
			}
		})
	}
}

func TestFormatWaitRounds(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"tiny wait clamps to floor", 200 * time.Millisecond, "5 seconds"},
		{"short wait in seconds", 45 * time.Second, "45 seconds"},
		{"just under the minute cutover", 89 * time.Second, "89 seconds"},
		{"ninety seconds rounds to minutes", 90 * time.Second, "2 minutes"},
		{"three minutes", 180 * time.Second, "3 minutes"},
		{"half minutes round away", 150 * time.Second, "3 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chat.FormatWait(tt.d); got != tt.want {
				t.Fatalf("FormatWait(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}
