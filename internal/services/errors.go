package services

import (
	"errors"
	"fmt"
	"strings"

	"kontext/internal/queue"
)

// Job failures carry one of these markers so the worker loop and the
// notifier can classify them without parsing message text.
var (
	ErrStartupTimeout     = errors.New("server startup timeout")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrExecution          = errors.New("execution error")
	ErrCancelled          = errors.New("cancelled")

	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("invalid configuration")
	ErrTransient     = errors.New("transient error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	text := buildDetail(component, operation, message)
	if err == nil {
		return fmt.Errorf("%w: %s", marker, text)
	}
	return fmt.Errorf("%w: %s: %w", marker, text, err)
}

// FailureStatus maps a job error to the terminal status the worker loop
// should record after the job fails.
func FailureStatus(err error) queue.Status {
	if errors.Is(err, ErrCancelled) {
		return queue.StatusCancelled
	}
	return queue.StatusFailed
}

// UserMessage renders a short human-readable reason suitable for sending back
// to the requester. Internal detail stays in the daemon log.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrStartupTimeout):
		return "the image server failed to start; your job was skipped"
	case errors.Is(err, ErrSubmissionRejected):
		return "the image server rejected the submission"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the image server was lost mid-job"
	case errors.Is(err, ErrExecution):
		return "the image server reported an error while generating"
	case errors.Is(err, ErrCancelled):
		return "the job was cancelled"
	case err == nil:
		return ""
	default:
		return "an unexpected error occurred"
	}
}

func buildDetail(component, operation, message string) string {
	var parts []string
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "unspecified failure"
	}
	return strings.Join(parts, ": ")
}
