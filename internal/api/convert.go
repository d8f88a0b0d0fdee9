package api

import (
	"time"

	"kontext/internal/history"
	"kontext/internal/queue"
)

// FromJob converts a queue job to its API representation. position is the
// 1-based display position; eta is the estimated wait for that position.
func FromJob(job queue.Job, position int, eta time.Duration) QueueRow {
	row := QueueRow{
		ID:        job.ID,
		Position:  position,
		Requester: job.Requester(),
		ChatID:    job.ChatID,
		Prompt:    job.Prompt,
		Status:    string(job.Status),
	}
	if !job.SubmittedAt.IsZero() {
		row.SubmittedAt = job.SubmittedAt.UTC().Format(dateTimeFormat)
	}
	if job.StartedAt != nil && !job.StartedAt.IsZero() {
		row.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
	}
	if eta > 0 {
		row.ETASeconds = int64(eta.Round(time.Second) / time.Second)
	}
	return row
}

// FromJobs converts a queue snapshot into display rows. Positions are
// 1-based and count the running job as position one; each waiting row's ETA
// is its position times the per-job estimate. The running row carries no
// estimate of its own.
func FromJobs(jobs []queue.Job, perJob time.Duration) []QueueRow {
	if len(jobs) == 0 {
		return nil
	}
	rows := make([]QueueRow, 0, len(jobs))
	for i, job := range jobs {
		position := i + 1
		eta := time.Duration(position) * perJob
		if job.Status == queue.StatusRunning {
			eta = 0
		}
		rows = append(rows, FromJob(job, position, eta))
	}
	return rows
}

// FromRecord converts a generation-log record to its API representation.
func FromRecord(rec history.Record) HistoryRow {
	row := HistoryRow{
		ID:              rec.ID,
		Requester:       rec.Requester(),
		ChatID:          rec.ChatID,
		Prompt:          rec.Prompt,
		ArtifactFile:    rec.ArtifactFile,
		DurationSeconds: int64(rec.Duration.Round(time.Second) / time.Second),
	}
	if !rec.FinishedAt.IsZero() {
		row.FinishedAt = rec.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return row
}

// FromRecords converts a slice of generation-log records into API rows.
func FromRecords(recs []history.Record) []HistoryRow {
	if len(recs) == 0 {
		return nil
	}
	out := make([]HistoryRow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FormatTime converts a time to the payload timestamp format, or returns an
// empty string for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses a payload timestamp for consumers that need display
// formatting. Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
