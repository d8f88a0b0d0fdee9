// Package staging maintains the directory that holds downloaded chat images
// and generated artifacts between submission and delivery. Jobs remove their
// own files on the happy path; these helpers reclaim what crashes and
// cancellations leave behind.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kontext/internal/logging"
)

// CleanResult contains the outcome of a staged-file cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a staged file path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

// FileInfo contains metadata about one staged file.
type FileInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanStale removes staged files older than maxAge. A maxAge of zero removes
// every staged file. It returns the removed paths and any errors encountered.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	var result CleanResult
	files, err := snapshot(stagingDir)
	if err != nil {
		result.record(strings.TrimSpace(stagingDir), err)
		return result
	}
	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		if file.ModTime.Before(cutoff) {
			result.reap(file.Path, "stale", time.Since(file.ModTime), logger)
		}
	}
	return result
}

// CleanOrphaned removes staged files that no live job references. keep holds
// the paths still owned by queued or running jobs; everything else in the
// staging directory is a leftover from an earlier run and is deleted.
func CleanOrphaned(ctx context.Context, stagingDir string, keep map[string]struct{}, logger *slog.Logger) CleanResult {
	var result CleanResult
	files, err := snapshot(stagingDir)
	if err != nil {
		result.record(strings.TrimSpace(stagingDir), err)
		return result
	}
	for _, file := range files {
		if _, active := keep[file.Path]; active {
			continue
		}
		result.reap(file.Path, "orphaned", 0, logger)
	}
	return result
}

// ListFiles returns the staged files with their metadata, newest first.
func ListFiles(stagingDir string) ([]FileInfo, error) {
	files, err := snapshot(stagingDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// snapshot lists the regular files in stagingDir with their metadata. A blank
// or absent directory yields a nil snapshot; entries that vanish between
// listing and stat are skipped.
func snapshot(stagingDir string) ([]FileInfo, error) {
	dir := strings.TrimSpace(stagingDir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

func (r *CleanResult) record(path string, err error) {
	r.Errors = append(r.Errors, CleanupError{Path: path, Error: err})
}

// reap deletes one staged file and records the outcome. label names the
// cleanup motive in log lines; a positive age is attached for stale files.
func (r *CleanResult) reap(path, label string, age time.Duration, logger *slog.Logger) {
	if err := os.Remove(path); err != nil {
		r.record(path, err)
		logging.WarnWithContext(logger, "could not delete "+label+" staged file", "staging_cleanup_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify write access to the staging directory"),
			logging.String(logging.FieldImpact, "disk space stays allocated"),
		)
		return
	}
	r.Removed = append(r.Removed, path)
	if logger == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String("path", path),
		logging.String(logging.FieldEventType, "staging_cleanup"),
	}
	if age > 0 {
		attrs = append(attrs, logging.Duration("age", age))
	}
	logger.Info("deleted "+label+" staged file", logging.Args(attrs...)...)
}
