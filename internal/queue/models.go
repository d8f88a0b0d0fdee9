package queue

import (
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle of a queued job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// KillSwitchReason is the error message recorded when jobs are cancelled by
// the admin kill switch.
const KillSwitchReason = "Cancelled by kill switch"

// ShutdownReason is the error message recorded when jobs are cancelled by
// daemon shutdown.
const ShutdownReason = "Daemon stopped"

// Job is one unit of generation work: a staged input image plus a prompt,
// destined for the compute server. Jobs live in memory only; the queue is
// intentionally not persisted across restarts.
type Job struct {
	ID           int64
	ChatID       int64
	Username     string
	Prompt       string
	ImagePath    string
	SubmittedAt  time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Status       Status
	ErrorMessage string
}

// Requester returns the display identity for notifications and listings.
func (j Job) Requester() string {
	if name := strings.TrimSpace(j.Username); name != "" {
		return name
	}
	return "chat " + strconv.FormatInt(j.ChatID, 10)
}

// PromptExcerpt returns the prompt trimmed to max runes for table output.
func (j Job) PromptExcerpt(max int) string {
	prompt := strings.TrimSpace(j.Prompt)
	if max <= 0 {
		return prompt
	}
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

// SetRunning marks the job in flight and stamps its start time.
func (j *Job) SetRunning(now time.Time) {
	j.Status = StatusRunning
	j.StartedAt = &now
}

// SetSucceeded marks the job complete and stamps its finish time.
func (j *Job) SetSucceeded(now time.Time) {
	j.Status = StatusSucceeded
	j.FinishedAt = &now
	j.ErrorMessage = ""
}

// SetFailed marks the job failed with the given error message.
func (j *Job) SetFailed(now time.Time, message string) {
	j.Status = StatusFailed
	j.FinishedAt = &now
	j.ErrorMessage = message
}

// SetCancelled marks the job cancelled with the given reason.
func (j *Job) SetCancelled(now time.Time, reason string) {
	j.Status = StatusCancelled
	j.FinishedAt = &now
	j.ErrorMessage = reason
}

// Duration returns the wall-clock run time for finished jobs.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0, false
	}
	d := j.FinishedAt.Sub(*j.StartedAt)
	if d < 0 {
		return 0, false
	}
	return d, true
}

