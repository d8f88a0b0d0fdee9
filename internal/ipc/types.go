package ipc

import "kontext/internal/api"

// QueueRow is the wire representation of a queued or running job.
type QueueRow = api.QueueRow

// HistoryRow is the wire representation of a completed generation.
type HistoryRow = api.HistoryRow

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon runtime information.
type StatusRequest struct{}

// StatusResponse describes the daemon's current state.
type StatusResponse struct {
	Running          bool      `json:"running"`
	PID              int       `json:"pid"`
	Version          string    `json:"version"`
	ServerPhase      string    `json:"server_phase"`
	QueueLength      int       `json:"queue_length"`
	Current          *QueueRow `json:"current,omitempty"`
	PendingChats     int       `json:"pending_chats"`
	Generations      int       `json:"generations"`
	MeanJobSeconds   int64     `json:"mean_job_seconds"`
	LastGenerationAt string    `json:"last_generation_at,omitempty"`
	LockPath         string    `json:"lock_path"`
	HistoryDBPath    string    `json:"history_db_path"`
	LogPath          string    `json:"log_path"`
}

// QueueListRequest fetches the queue contents.
type QueueListRequest struct{}

// QueueListResponse lists the running and waiting jobs in dispatch order.
type QueueListResponse struct {
	Rows []QueueRow `json:"rows"`
}

// QueueClearRequest cancels every waiting job.
type QueueClearRequest struct{}

// QueueClearResponse reports how many jobs were cancelled.
type QueueClearResponse struct {
	Cancelled int `json:"cancelled"`
}

// KillRequest engages the kill switch.
type KillRequest struct {
	RequestedBy string `json:"requested_by"`
}

// KillResponse reports what the kill switch stopped.
type KillResponse struct {
	RunningCancelled bool `json:"running_cancelled"`
	QueuedCancelled  int  `json:"queued_cancelled"`
}

// HistoryRequest fetches recent generation records.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists generation records, newest first.
type HistoryResponse struct {
	Rows []HistoryRow `json:"rows"`
}

// LogTailRequest reads daemon log lines from an offset, optionally waiting
// for new ones.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next read offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification delivery test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
