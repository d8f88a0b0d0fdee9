package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kontext/internal/config"
)

// Store manages the generation log backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the generation log database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.HistoryDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Append records one completed generation. The record's ID is populated on
// success; a zero FinishedAt is replaced with the current time.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO generations (
            job_id, chat_id, username, prompt, image_file,
            artifact_file, prompt_id, duration_seconds, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID,
		rec.ChatID,
		nullableString(rec.Username),
		rec.Prompt,
		nullableString(rec.ImageFile),
		nullableString(rec.ArtifactFile),
		nullableString(rec.PromptID),
		rec.Duration.Seconds(),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append generation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

const recordColumns = "id, job_id, chat_id, username, prompt, image_file, artifact_file, prompt_id, duration_seconds, finished_at"

// Recent returns the newest records first, at most limit rows. A limit <= 0
// means no cap.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordColumns + ` FROM generations ORDER BY id DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentDurations returns the durations of the newest n records, newest
// first. It backs queue wait estimation.
func (s *Store) RecentDurations(ctx context.Context, n int) ([]time.Duration, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT duration_seconds FROM generations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query durations: %w", err)
	}
	defer rows.Close()

	var durations []time.Duration
	for rows.Next() {
		var seconds float64
		if err := rows.Scan(&seconds); err != nil {
			return nil, err
		}
		durations = append(durations, time.Duration(seconds*float64(time.Second)))
	}
	return durations, rows.Err()
}

// Stats aggregates the generation log for status output.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(AVG(duration_seconds), 0), COALESCE(MAX(finished_at), '') FROM generations`)

	var (
		count       int
		meanSeconds float64
		lastRaw     string
	)
	if err := row.Scan(&count, &meanSeconds, &lastRaw); err != nil {
		return Stats{}, fmt.Errorf("generation stats: %w", err)
	}

	stats := Stats{
		Count:        count,
		MeanDuration: time.Duration(meanSeconds * float64(time.Second)),
	}
	if lastRaw != "" {
		if last, err := time.Parse(time.RFC3339Nano, lastRaw); err == nil {
			stats.LastFinishedAt = last
		}
	}
	return stats, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		id          int64
		jobID       int64
		chatID      int64
		username    sql.NullString
		prompt      string
		imageFile   sql.NullString
		artifact    sql.NullString
		promptID    sql.NullString
		seconds     float64
		finishedRaw string
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&chatID,
		&username,
		&prompt,
		&imageFile,
		&artifact,
		&promptID,
		&seconds,
		&finishedRaw,
	); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:           id,
		JobID:        jobID,
		ChatID:       chatID,
		Username:     username.String,
		Prompt:       prompt,
		ImageFile:    imageFile.String,
		ArtifactFile: artifact.String,
		PromptID:     promptID.String,
		Duration:     time.Duration(seconds * float64(time.Second)),
	}
	if finished, err := time.Parse(time.RFC3339Nano, finishedRaw); err == nil {
		rec.FinishedAt = finished
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
