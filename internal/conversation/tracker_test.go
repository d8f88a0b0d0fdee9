package conversation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kontext/internal/logging"
)

func stagedFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func newTracker(ttl time.Duration) *Tracker {
	return New(logging.NewNop(), ttl)
}

func TestImageThenPromptCompletes(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	first := tr.AddImage(1001, image)
	if first.Complete {
		t.Fatal("image alone should not complete")
	}
	if first.State != StateImagePending {
		t.Fatalf("expected image_pending, got %s", first.State)
	}
	if got := tr.StateOf(1001); got != StateImagePending {
		t.Fatalf("StateOf = %s, want image_pending", got)
	}

	second := tr.AddPrompt(1001, "make it night")
	if !second.Complete {
		t.Fatal("prompt after image should complete")
	}
	if second.ImagePath != image || second.Prompt != "make it night" {
		t.Fatalf("unexpected pair: %q %q", second.ImagePath, second.Prompt)
	}
	if got := tr.StateOf(1001); got != StateEmpty {
		t.Fatalf("entry should be cleared after completion, got %s", got)
	}
}

func TestPromptThenImageCompletes(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	first := tr.AddPrompt(1001, "make it night")
	if first.Complete || first.State != StatePromptPending {
		t.Fatalf("prompt alone should wait for image, got %+v", first)
	}

	second := tr.AddImage(1001, image)
	if !second.Complete {
		t.Fatal("image after prompt should complete")
	}
	if second.ImagePath != image || second.Prompt != "make it night" {
		t.Fatalf("unexpected pair: %q %q", second.ImagePath, second.Prompt)
	}
}

func TestCombinedSubmissionCompletesDirectly(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	update := tr.AddCombined(1001, image, "  make it night  ")
	if !update.Complete {
		t.Fatal("combined submission should complete in one transition")
	}
	if update.Prompt != "make it night" {
		t.Fatalf("prompt should be trimmed, got %q", update.Prompt)
	}
	if tr.PendingCount() != 0 {
		t.Fatal("no entry should remain after combined completion")
	}
}

func TestSubmissionOrdersConverge(t *testing.T) {
	image1 := stagedFile(t, "a.jpg")
	image2 := stagedFile(t, "b.jpg")
	image3 := stagedFile(t, "c.jpg")
	const prompt = "reimagine as watercolor"

	tr := newTracker(time.Minute)
	tr.AddImage(1, image1)
	viaImageFirst := tr.AddPrompt(1, prompt)

	tr.AddPrompt(2, prompt)
	viaPromptFirst := tr.AddImage(2, image2)

	viaCombined := tr.AddCombined(3, image3, prompt)

	for name, u := range map[string]Update{
		"image-first":  viaImageFirst,
		"prompt-first": viaPromptFirst,
		"combined":     viaCombined,
	} {
		if !u.Complete {
			t.Fatalf("%s: expected completion", name)
		}
		if u.Prompt != prompt {
			t.Fatalf("%s: prompt = %q, want %q", name, u.Prompt, prompt)
		}
		if u.ImagePath == "" {
			t.Fatalf("%s: missing image path", name)
		}
	}
}

func TestDuplicateImageReplacesAndDeletesStaged(t *testing.T) {
	tr := newTracker(time.Minute)
	old := stagedFile(t, "old.jpg")
	replacement := stagedFile(t, "new.jpg")

	tr.AddImage(1001, old)
	update := tr.AddImage(1001, replacement)
	if update.Complete {
		t.Fatal("second image should not complete")
	}
	if !update.Replaced {
		t.Fatal("expected Replaced flag on duplicate image")
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("replaced staged image should be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(replacement); err != nil {
		t.Fatalf("new staged image should remain: %v", err)
	}

	done := tr.AddPrompt(1001, "p")
	if done.ImagePath != replacement {
		t.Fatalf("completion should use the replacement image, got %q", done.ImagePath)
	}
}

func TestDuplicatePromptLastWriteWins(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	tr.AddPrompt(1001, "first")
	update := tr.AddPrompt(1001, "second")
	if update.Complete {
		t.Fatal("prompt rewrite should not complete")
	}
	if !update.Replaced {
		t.Fatal("expected Replaced flag on rewritten prompt")
	}

	done := tr.AddImage(1001, image)
	if done.Prompt != "second" {
		t.Fatalf("completion should use the latest prompt, got %q", done.Prompt)
	}
}

func TestExpiryDiscardsStaleEntry(t *testing.T) {
	tr := newTracker(10 * time.Minute)
	image := stagedFile(t, "in.jpg")

	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	tr.AddImage(1001, image)

	current = current.Add(11 * time.Minute)
	if got := tr.StateOf(1001); got != StateEmpty {
		t.Fatalf("expired entry should read as empty, got %s", got)
	}
	if _, err := os.Stat(image); !os.IsNotExist(err) {
		t.Fatalf("expired staged image should be deleted, stat err = %v", err)
	}

	// A prompt arriving after expiry starts a fresh entry instead of
	// completing against the discarded image.
	update := tr.AddPrompt(1001, "late prompt")
	if update.Complete {
		t.Fatal("prompt after expiry should not complete")
	}
	if update.State != StatePromptPending {
		t.Fatalf("expected prompt_pending, got %s", update.State)
	}
}

func TestExpiryDisabledWhenTTLZero(t *testing.T) {
	tr := newTracker(0)
	image := stagedFile(t, "in.jpg")

	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	tr.AddImage(1001, image)
	current = current.Add(1000 * time.Hour)

	if got := tr.StateOf(1001); got != StateImagePending {
		t.Fatalf("ttl=0 should disable expiry, got %s", got)
	}
}

func TestClearRemovesEntryAndFile(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	tr.AddImage(1001, image)
	tr.Clear(1001)

	if got := tr.StateOf(1001); got != StateEmpty {
		t.Fatalf("cleared entry should be empty, got %s", got)
	}
	if _, err := os.Stat(image); !os.IsNotExist(err) {
		t.Fatalf("cleared staged image should be deleted, stat err = %v", err)
	}
	// Clearing an absent entry is a no-op.
	tr.Clear(424242)
}

func TestPendingCountSkipsExpired(t *testing.T) {
	tr := newTracker(10 * time.Minute)

	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	tr.AddPrompt(1, "one")
	current = current.Add(8 * time.Minute)
	tr.AddPrompt(2, "two")

	if got := tr.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}

	current = current.Add(5 * time.Minute)
	if got := tr.PendingCount(); got != 1 {
		t.Fatalf("PendingCount after expiry = %d, want 1", got)
	}
}

func TestPromptNormalizedToNFC(t *testing.T) {
	tr := newTracker(time.Minute)
	image := stagedFile(t, "in.jpg")

	// "é" as 'e' + combining acute accent.
	decomposed := "café scene"
	tr.AddImage(1001, image)
	done := tr.AddPrompt(1001, decomposed)

	if done.Prompt != "café scene" {
		t.Fatalf("prompt should be NFC-normalized, got %q", done.Prompt)
	}
}
