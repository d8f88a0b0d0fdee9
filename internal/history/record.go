package history

import (
	"strconv"
	"strings"
	"time"
)

// Record is one completed generation. Records are append-only; the store
// never mutates or deletes them.
type Record struct {
	ID           int64
	JobID        int64
	ChatID       int64
	Username     string
	Prompt       string
	ImageFile    string
	ArtifactFile string
	PromptID     string
	Duration     time.Duration
	FinishedAt   time.Time
}

// Requester returns the username when known, otherwise the chat identifier.
func (r Record) Requester() string {
	if r.Username != "" {
		return r.Username
	}
	return "chat " + strconv.FormatInt(r.ChatID, 10)
}

// PromptExcerpt returns the prompt trimmed to max runes for listings.
func (r Record) PromptExcerpt(max int) string {
	prompt := strings.TrimSpace(r.Prompt)
	if max <= 0 {
		return prompt
	}
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

// Stats summarizes the generation log for status output.
type Stats struct {
	Count          int
	MeanDuration   time.Duration
	LastFinishedAt time.Time
}
