package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueRow describes one queued or running job in a transport-friendly
// format. Position is 1-based and counts the running job as position one.
type QueueRow struct {
	ID          int64  `json:"id"`
	Position    int    `json:"position"`
	Requester   string `json:"requester"`
	ChatID      int64  `json:"chatId"`
	Prompt      string `json:"prompt"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submittedAt,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	ETASeconds  int64  `json:"etaSeconds,omitempty"`
}

// HistoryRow describes one recorded generation.
type HistoryRow struct {
	ID              int64  `json:"id"`
	Requester       string `json:"requester"`
	ChatID          int64  `json:"chatId"`
	Prompt          string `json:"prompt"`
	ArtifactFile    string `json:"artifactFile,omitempty"`
	DurationSeconds int64  `json:"durationSeconds"`
	FinishedAt      string `json:"finishedAt,omitempty"`
}

// StatusLine is one labelled row in an environment health report. Severity
// is "ok", "warn", "error", or "info" and drives how the CLI renders the row.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}
