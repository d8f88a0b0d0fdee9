package conversation

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"kontext/internal/logging"
)

// State describes what a requester's entry is waiting on.
type State string

const (
	// StateEmpty means no partial submission is held for the requester.
	StateEmpty State = "empty"
	// StateImagePending means an image is staged and a prompt is awaited.
	StateImagePending State = "image_pending"
	// StatePromptPending means a prompt is held and an image is awaited.
	StatePromptPending State = "prompt_pending"
)

// Update reports the outcome of feeding one submission piece to the tracker.
// When Complete is set, ImagePath and Prompt carry the assembled pair and the
// requester's entry has been cleared.
type Update struct {
	State     State
	Complete  bool
	ImagePath string
	Prompt    string
	Replaced  bool
}

type entry struct {
	imagePath string
	prompt    string
	updatedAt time.Time
}

// Tracker assembles image+prompt pairs per requester. One entry per chat ID;
// duplicate pieces overwrite (last-write-wins) and entries expire after the
// staleness window. Replaced or expired staged images are removed from disk.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]*entry
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a tracker with the provided staleness window.
func New(logger *slog.Logger, ttl time.Duration) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		entries: make(map[int64]*entry),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// AddImage records a staged image for the requester. If a prompt is already
// held the pair completes; otherwise the entry waits for a prompt.
func (t *Tracker) AddImage(chatID int64, imagePath string) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveEntry(chatID)
	replaced := false
	if e.imagePath != "" && e.imagePath != imagePath {
		t.removeStaged(chatID, e.imagePath)
		replaced = true
	}
	e.imagePath = imagePath
	e.updatedAt = t.now()

	if e.prompt != "" {
		return t.complete(chatID, e, replaced)
	}

	t.entries[chatID] = e
	t.logger.Debug("image staged, awaiting prompt",
		logging.Int64(logging.FieldChatID, chatID),
		logging.Bool("replaced", replaced),
	)
	return Update{State: StateImagePending, Replaced: replaced}
}

// AddPrompt records prompt text for the requester. If an image is already
// staged the pair completes; otherwise the entry waits for an image.
func (t *Tracker) AddPrompt(chatID int64, prompt string) Update {
	prompt = normalizePrompt(prompt)

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveEntry(chatID)
	replaced := e.prompt != "" && e.prompt != prompt
	e.prompt = prompt
	e.updatedAt = t.now()

	if e.imagePath != "" {
		return t.complete(chatID, e, replaced)
	}

	t.entries[chatID] = e
	t.logger.Debug("prompt held, awaiting image",
		logging.Int64(logging.FieldChatID, chatID),
		logging.Bool("replaced", replaced),
	)
	return Update{State: StatePromptPending, Replaced: replaced}
}

// AddCombined handles an image submitted together with caption text, which
// completes in a single transition. A previously staged image is discarded.
func (t *Tracker) AddCombined(chatID int64, imagePath, prompt string) Update {
	prompt = normalizePrompt(prompt)

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveEntry(chatID)
	replaced := false
	if e.imagePath != "" && e.imagePath != imagePath {
		t.removeStaged(chatID, e.imagePath)
		replaced = true
	}
	e.imagePath = imagePath
	e.prompt = prompt
	e.updatedAt = t.now()

	return t.complete(chatID, e, replaced)
}

// Clear discards the requester's entry and any staged image.
func (t *Tracker) Clear(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[chatID]
	if !ok {
		return
	}
	if e.imagePath != "" {
		t.removeStaged(chatID, e.imagePath)
	}
	delete(t.entries, chatID)
}

// StateOf reports the requester's current state, expiring stale entries.
func (t *Tracker) StateOf(chatID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[chatID]
	if !ok {
		return StateEmpty
	}
	if t.expired(e) {
		t.discard(chatID, e, "stale entry expired")
		return StateEmpty
	}
	switch {
	case e.imagePath != "" && e.prompt == "":
		return StateImagePending
	case e.prompt != "" && e.imagePath == "":
		return StatePromptPending
	default:
		// An entry holding both pieces should have completed; resolve the
		// inconsistency by resetting rather than guessing.
		t.discard(chatID, e, "inconsistent entry reset")
		return StateEmpty
	}
}

// PendingCount returns the number of live partial submissions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for chatID, e := range t.entries {
		if t.expired(e) {
			t.discard(chatID, e, "stale entry expired")
			continue
		}
		count++
	}
	return count
}

// liveEntry returns the requester's entry, discarding it first when expired.
// Caller holds the lock.
func (t *Tracker) liveEntry(chatID int64) *entry {
	e, ok := t.entries[chatID]
	if !ok {
		return &entry{}
	}
	if t.expired(e) {
		t.discard(chatID, e, "stale entry expired")
		return &entry{}
	}
	return e
}

func (t *Tracker) expired(e *entry) bool {
	if t.ttl <= 0 {
		return false
	}
	return t.now().Sub(e.updatedAt) > t.ttl
}

// discard removes an entry and its staged file. Caller holds the lock.
func (t *Tracker) discard(chatID int64, e *entry, reason string) {
	if e.imagePath != "" {
		t.removeStaged(chatID, e.imagePath)
	}
	delete(t.entries, chatID)
	t.logger.Debug(reason, logging.Int64(logging.FieldChatID, chatID))
}

// complete clears the entry and returns the assembled pair. Caller holds the lock.
func (t *Tracker) complete(chatID int64, e *entry, replaced bool) Update {
	delete(t.entries, chatID)
	t.logger.Debug("submission complete",
		logging.Int64(logging.FieldChatID, chatID),
	)
	return Update{
		Complete:  true,
		ImagePath: e.imagePath,
		Prompt:    e.prompt,
		Replaced:  replaced,
	}
}

func (t *Tracker) removeStaged(chatID int64, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(t.logger, "staged image removal failed; file remains", "staged_image_remove_failed",
			logging.Int64(logging.FieldChatID, chatID),
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned file in staging directory"),
		)
	}
}

func normalizePrompt(prompt string) string {
	return norm.NFC.String(strings.TrimSpace(prompt))
}
