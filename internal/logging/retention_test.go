package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kontext/internal/logging"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("log line\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestPruneExpiredLogsRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := writeAged(t, dir, "kontext-20260101T000000.000Z.log", 90*24*time.Hour)
	recent := writeAged(t, dir, "kontext-20260820T120000.000Z.log", 24*time.Hour)
	current := writeAged(t, dir, "kontext-20260825T080000.000Z.log", 90*24*time.Hour)
	unrelated := writeAged(t, dir, "history.db", 90*24*time.Hour)

	logging.PruneExpiredLogs(logging.NewNop(), 30, logging.PruneScope{
		Dir:     dir,
		Pattern: "kontext-*.log",
		Keep:    []string{current},
	})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected expired log to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent log should survive: %v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("excluded log should survive: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("non-matching file should survive: %v", err)
	}
}

func TestPruneExpiredLogsDisabledByZeroRetention(t *testing.T) {
	dir := t.TempDir()
	old := writeAged(t, dir, "kontext-20250101T000000.000Z.log", 365*24*time.Hour)

	logging.PruneExpiredLogs(logging.NewNop(), 0, logging.PruneScope{Dir: dir, Pattern: "kontext-*.log"})

	if _, err := os.Stat(old); err != nil {
		t.Fatalf("retention disabled, file should survive: %v", err)
	}
}
