package main

import (
	"strconv"
	"strings"
	"time"

	"kontext/internal/ipc"
)

// buildQueueStatusRows summarizes queue occupancy for the status table.
// A nil slice means the queue is idle.
func buildQueueStatusRows(status *ipc.StatusResponse) [][]string {
	if status == nil {
		return nil
	}
	var rows [][]string
	if status.Current != nil {
		rows = append(rows, []string{"Running", "1"})
	}
	if status.QueueLength > 0 {
		rows = append(rows, []string{"Waiting", strconv.Itoa(status.QueueLength)})
	}
	if status.PendingChats > 0 {
		rows = append(rows, []string{"Pending prompts", strconv.Itoa(status.PendingChats)})
	}
	return rows
}

func buildGenerationRows(status *ipc.StatusResponse) [][]string {
	if status == nil {
		return nil
	}
	mean := "n/a"
	if status.MeanJobSeconds > 0 {
		mean = (time.Duration(status.MeanJobSeconds) * time.Second).String()
	}
	last := "never"
	if strings.TrimSpace(status.LastGenerationAt) != "" {
		last = status.LastGenerationAt
	}
	return [][]string{
		{"Total", strconv.Itoa(status.Generations)},
		{"Mean duration", mean},
		{"Last finished", last},
	}
}
