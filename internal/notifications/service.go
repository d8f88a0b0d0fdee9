package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kontext/internal/config"
)

const userAgent = "Kontext/0.1.0"

// Service is the out-of-band operator alert surface. Requester-facing
// messages always travel over the chat transport; these fire to the
// configured ntfy topic so the operator hears about daemon lifecycle, job
// failures, and kill-switch use without watching the chat.
type Service interface {
	NotifyDaemonStarted(ctx context.Context, version string) error
	NotifyDaemonStopped(ctx context.Context) error
	NotifyServerStartupFailed(ctx context.Context, err error) error
	NotifyJobFailed(ctx context.Context, requester, prompt string, err error) error
	NotifyKillSwitch(ctx context.Context, requester string, cancelledJobs int) error
	TestNotification(ctx context.Context) error
}

// NewService returns an ntfy-backed service, or a noop one when the config
// names no topic so callers never need a nil check.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		events:   cfg.Notifications,
		client:   &http.Client{Timeout: timeout},
	}
}

type note struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	events   config.Notifications
	client   *http.Client
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, version string) error {
	if !n.events.Lifecycle {
		return nil
	}
	version = strings.TrimSpace(version)
	if version == "" {
		version = "unknown"
	}
	return n.send(ctx, note{
		title: "Kontext - Daemon Started",
		body:  fmt.Sprintf("Daemon %s is up and polling for requests", version),
		tags:  []string{"kontext", "daemon", "started"},
	})
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context) error {
	if !n.events.Lifecycle {
		return nil
	}
	return n.send(ctx, note{
		title: "Kontext - Daemon Stopped",
		body:  "Daemon shut down",
		tags:  []string{"kontext", "daemon", "stopped"},
	})
}

func (n *ntfyService) NotifyServerStartupFailed(ctx context.Context, err error) error {
	if !n.events.Failures {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	return n.send(ctx, note{
		title:    "Kontext - Server Startup Failed",
		body:     fmt.Sprintf("❌ ComfyUI did not become ready: %s", detail),
		tags:     []string{"kontext", "server", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, requester, prompt string, err error) error {
	if !n.events.Failures {
		return nil
	}
	requester = strings.TrimSpace(requester)
	if requester == "" {
		requester = "unknown requester"
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	body := fmt.Sprintf("❌ Job for %s failed: %s", requester, detail)
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		body = fmt.Sprintf("%s\nPrompt: %s", body, truncate(prompt, 120))
	}
	return n.send(ctx, note{
		title:    "Kontext - Job Failed",
		body:     body,
		tags:     []string{"kontext", "job", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyKillSwitch(ctx context.Context, requester string, cancelledJobs int) error {
	if !n.events.KillSwitch {
		return nil
	}
	requester = strings.TrimSpace(requester)
	if requester == "" {
		requester = "an admin"
	}
	return n.send(ctx, note{
		title:    "Kontext - Kill Switch",
		body:     fmt.Sprintf("🛑 Kill switch pulled by %s: server stopped, %d job(s) cancelled", requester, cancelledJobs),
		tags:     []string{"kontext", "kill"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, note{
		title:    "Kontext - Test",
		body:     "🧪 Notification system test",
		tags:     []string{"kontext", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, msg note) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("new ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to ntfy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ntfy rejected the notification (%d): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

type noopService struct{}

func (noopService) NotifyDaemonStarted(context.Context, string) error            { return nil }
func (noopService) NotifyDaemonStopped(context.Context) error                    { return nil }
func (noopService) NotifyServerStartupFailed(context.Context, error) error       { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyKillSwitch(context.Context, string, int) error          { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
