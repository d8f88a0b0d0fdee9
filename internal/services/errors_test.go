package services_test

import (
	"errors"
	"strings"
	"testing"

	"kontext/internal/queue"
	"kontext/internal/services"
)

func TestWrapCarriesMarkerAndDetail(t *testing.T) {
	base := errors.New("root cause")
	err := services.Wrap(services.ErrExecution, "comfy", "await", "generation failed", base)
	if err == nil {
		t.Fatal("Wrap returned nil")
	}
	if !errors.Is(err, services.ErrExecution) {
		t.Fatalf("marker lost: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("base error lost: %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"comfy", "await", "generation failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("error string %q is missing %q", msg, fragment)
		}
	}
}

func TestFailureStatusClassification(t *testing.T) {
	cancelled := services.Wrap(services.ErrCancelled, "worker", "run", "kill switch", nil)
	if status := services.FailureStatus(cancelled); status != queue.StatusCancelled {
		t.Fatalf("expected cancelled for cancel error, got %s", status)
	}

	execErr := services.Wrap(services.ErrExecution, "comfy", "await", "node crashed", errors.New("oom"))
	if status := services.FailureStatus(execErr); status != queue.StatusFailed {
		t.Fatalf("expected failed for execution error, got %s", status)
	}

	if status := services.FailureStatus(errors.New("plain")); status != queue.StatusFailed {
		t.Fatalf("expected failed for plain error, got %s", status)
	}
}

func TestUserMessagePerCategory(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		fragment string
	}{
		{"startup", services.Wrap(services.ErrStartupTimeout, "comfy", "start", "probe timed out", nil), "failed to start"},
		{"rejected", services.Wrap(services.ErrSubmissionRejected, "comfy", "submit", "bad node", nil), "rejected"},
		{"connection", services.Wrap(services.ErrConnectionLost, "comfy", "await", "ws closed", nil), "connection"},
		{"execution", services.Wrap(services.ErrExecution, "comfy", "await", "exception", nil), "error while generating"},
		{"cancelled", services.Wrap(services.ErrCancelled, "admin", "killall", "", nil), "cancelled"},
		{"unknown", errors.New("mystery"), "unexpected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := services.UserMessage(tc.err)
			if !strings.Contains(msg, tc.fragment) {
				t.Fatalf("expected %q in %q", tc.fragment, msg)
			}
		})
	}
	if msg := services.UserMessage(nil); msg != "" {
		t.Fatalf("expected empty message for nil error, got %q", msg)
	}
}
