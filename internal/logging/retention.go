package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneScope names one directory of log files eligible for pruning. Pattern
// is a filepath.Match glob applied inside Dir; an empty pattern matches
// every file. Paths listed in Keep survive regardless of age.
type PruneScope struct {
	Dir     string
	Pattern string
	Keep    []string
}

// PruneExpiredLogs deletes files in the scopes whose modification time is
// older than retentionDays. Zero or negative retention disables pruning.
// Unreadable scopes are skipped; a failed removal is logged and the file
// left in place.
func PruneExpiredLogs(logger *slog.Logger, retentionDays int, scopes ...PruneScope) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	kept := keptPaths(scopes)
	for _, scope := range scopes {
		pruneDir(logger, scope, cutoff, kept)
	}
}

// keptPaths collects every Keep entry across scopes, resolved to an absolute
// path so exclusions hold no matter which scope's directory a file is found
// under.
func keptPaths(scopes []PruneScope) map[string]struct{} {
	kept := make(map[string]struct{})
	for _, scope := range scopes {
		for _, path := range scope.Keep {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			kept[path] = struct{}{}
		}
	}
	return kept
}

func pruneDir(logger *slog.Logger, scope PruneScope, cutoff time.Time, kept map[string]struct{}) {
	dir := strings.TrimSpace(scope.Dir)
	if dir == "" {
		return
	}
	pattern := strings.TrimSpace(scope.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	candidates, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return
	}

	for _, path := range candidates {
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		if _, retained := kept[path]; retained {
			continue
		}
		info, statErr := os.Stat(path)
		if statErr != nil || info.IsDir() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if removeErr := os.Remove(path); removeErr != nil {
			WarnWithContext(logger, "log retention could not remove file", "log_retention_failed",
				String("path", path),
				Error(removeErr),
				String(FieldErrorHint, "check log_dir permissions and ownership"),
				String(FieldImpact, "expired log file remains on disk"),
			)
			continue
		}
		if logger != nil {
			logger.Info("expired log removed",
				String("path", path),
				String(FieldEventType, "log_expired"),
			)
		}
	}
}
