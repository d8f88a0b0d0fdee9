package telegram_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"kontext/internal/chat"
	"kontext/internal/config"
	"kontext/internal/logging"
	"kontext/internal/telegram"
	"kontext/internal/testsupport"
)

// updateFeed serves canned getUpdates batches in order, then idles like a
// real long poll. It records the offsets the poller acknowledged with.
type updateFeed struct {
	mu      sync.Mutex
	batches []string
	offsets []int64
}

func (f *updateFeed) handle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offset int64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		f.mu.Lock()
		f.offsets = append(f.offsets, body.Offset)
		f.mu.Unlock()
	}

	f.mu.Lock()
	var batch string
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	if batch == "" {
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
		batch = "[]"
	}
	writeResult(w, batch)
}

func (f *updateFeed) recordedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

func runPoller(t *testing.T, cfg *config.Config) <-chan chat.Event {
	t.Helper()

	events := make(chan chat.Event, 8)
	client := telegram.NewClient(cfg)
	poller := telegram.NewPoller(client, cfg, func(_ context.Context, event chat.Event) {
		events <- event
	}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("poller did not stop")
		}
	})
	return events
}

func waitEvent(t *testing.T, events <-chan chat.Event) chat.Event {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return chat.Event{}
	}
}

func TestPollerDispatchesTextAndAdvancesOffset(t *testing.T) {
	feed := &updateFeed{batches: []string{
		`[{"update_id": 7, "message": {"message_id": 1, "from": {"id": 5, "first_name": "Dux", "username": "duxon"}, "chat": {"id": 42, "type": "private"}, "text": "  a castle at dawn  "}}]`,
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getUpdates", feed.handle)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.PollTimeout = 1

	events := runPoller(t, cfg)

	event := waitEvent(t, events)
	if event.ChatID != 42 {
		t.Fatalf("ChatID = %d", event.ChatID)
	}
	if event.Text != "a castle at dawn" {
		t.Fatalf("Text = %q, want trimmed prompt", event.Text)
	}
	if event.Username != "duxon" || event.FirstName != "Dux" {
		t.Fatalf("sender = %q/%q", event.Username, event.FirstName)
	}
	if event.HasImage() {
		t.Fatal("text message should not carry an image")
	}

	// The next poll must acknowledge past update 7.
	deadline := time.Now().Add(5 * time.Second)
	for {
		offsets := feed.recordedOffsets()
		if len(offsets) >= 2 {
			if offsets[1] != 8 {
				t.Fatalf("second poll offset = %d, want 8", offsets[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second poll never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPollerStagesLargestPhotoWithCaption(t *testing.T) {
	feed := &updateFeed{batches: []string{
		`[{"update_id": 11, "message": {"message_id": 2, "from": {"id": 5, "first_name": "Dux"}, "chat": {"id": 42, "type": "private"}, "caption": " neon city ", "photo": [{"file_id": "photo-small", "width": 90, "height": 90}, {"file_id": "photo-large", "width": 1280, "height": 1280}]}}]`,
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getUpdates", feed.handle)
	mux.HandleFunc("/bottest-token/getFile", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode getFile body: %v", err)
		}
		if body["file_id"] != "photo-large" {
			t.Errorf("downloaded file_id = %v, want the largest variant", body["file_id"])
		}
		writeResult(w, `{"file_id": "photo-large", "file_path": "photos/file_9.jpg"}`)
	})
	mux.HandleFunc("/file/bottest-token/photos/file_9.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("JPEGDATA"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.PollTimeout = 1
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	events := runPoller(t, cfg)

	event := waitEvent(t, events)
	if !event.HasImage() {
		t.Fatal("expected staged image")
	}
	if event.Text != "neon city" {
		t.Fatalf("Text = %q, want trimmed caption", event.Text)
	}
	data, err := os.ReadFile(event.ImagePath)
	if err != nil {
		t.Fatalf("read staged image: %v", err)
	}
	if string(data) != "JPEGDATA" {
		t.Fatalf("staged content = %q", data)
	}
}

func TestPollerSkipsContentlessMessages(t *testing.T) {
	// A sticker-style message with neither text nor photo arrives alongside
	// a real one; only the real one should reach the handler.
	feed := &updateFeed{batches: []string{
		`[{"update_id": 20, "message": {"message_id": 3, "chat": {"id": 42, "type": "private"}}},
		  {"update_id": 21, "message": {"message_id": 4, "chat": {"id": 42, "type": "private"}, "text": "real prompt"}}]`,
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getUpdates", feed.handle)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.PollTimeout = 1

	events := runPoller(t, cfg)

	event := waitEvent(t, events)
	if event.Text != "real prompt" {
		t.Fatalf("Text = %q", event.Text)
	}
	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPollerHonoursRetryAfterAndRecovers(t *testing.T) {
	var calls int
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		call := calls
		mu.Unlock()
		switch call {
		case 1:
			io.WriteString(w, `{"ok": false, "error_code": 429, "description": "Too Many Requests", "parameters": {"retry_after": 1}}`)
		case 2:
			writeResult(w, `[{"update_id": 30, "message": {"message_id": 5, "chat": {"id": 42, "type": "private"}, "text": "after backoff"}}]`)
		default:
			select {
			case <-r.Context().Done():
			case <-time.After(200 * time.Millisecond):
			}
			writeResult(w, `[]`)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.PollTimeout = 1

	events := runPoller(t, cfg)

	start := time.Now()
	event := waitEvent(t, events)
	if event.Text != "after backoff" {
		t.Fatalf("Text = %q", event.Text)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("recovered after %v, expected ~1s retry_after pause", elapsed)
	}
}
