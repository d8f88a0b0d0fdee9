package history_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"kontext/internal/history"
	"kontext/internal/testsupport"
)

func TestAppendAssignsIDAndDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	ctx := context.Background()
	rec := &history.Record{
		JobID:    1,
		ChatID:   1001,
		Username: "ada",
		Prompt:   "a lighthouse in fog",
		Duration: 42 * time.Second,
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected record ID to be assigned")
	}
	if rec.FinishedAt.IsZero() {
		t.Fatal("expected FinishedAt to be defaulted")
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		rec := &history.Record{
			JobID:    int64(i),
			ChatID:   1001,
			Prompt:   fmt.Sprintf("prompt %d", i),
			Duration: time.Duration(i) * time.Second,
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	records, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].JobID != 4 || records[2].JobID != 2 {
		t.Fatalf("expected newest-first ordering, got job IDs %d, %d, %d",
			records[0].JobID, records[1].JobID, records[2].JobID)
	}
	if records[0].Prompt != "prompt 4" {
		t.Fatalf("unexpected prompt on newest record: %q", records[0].Prompt)
	}
}

func TestRecentDurations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	ctx := context.Background()
	for _, seconds := range []int{30, 60, 90} {
		rec := &history.Record{
			JobID:    int64(seconds),
			ChatID:   7,
			Prompt:   "p",
			Duration: time.Duration(seconds) * time.Second,
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	durations, err := store.RecentDurations(ctx, 2)
	if err != nil {
		t.Fatalf("RecentDurations failed: %v", err)
	}
	if len(durations) != 2 {
		t.Fatalf("expected 2 durations, got %d", len(durations))
	}
	if durations[0] != 90*time.Second || durations[1] != 60*time.Second {
		t.Fatalf("expected newest-first durations, got %v", durations)
	}

	none, err := store.RecentDurations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentDurations(0) failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for n<=0, got %v", none)
	}
}

func TestStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	ctx := context.Background()
	empty, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty store failed: %v", err)
	}
	if empty.Count != 0 || empty.MeanDuration != 0 {
		t.Fatalf("unexpected stats for empty store: %+v", empty)
	}

	finished := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i, seconds := range []int{20, 40} {
		rec := &history.Record{
			JobID:      int64(i + 1),
			ChatID:     7,
			Prompt:     "p",
			Duration:   time.Duration(seconds) * time.Second,
			FinishedAt: finished.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Count != 2 {
		t.Fatalf("expected count 2, got %d", stats.Count)
	}
	if stats.MeanDuration != 30*time.Second {
		t.Fatalf("expected mean 30s, got %v", stats.MeanDuration)
	}
	if !stats.LastFinishedAt.Equal(finished.Add(time.Minute)) {
		t.Fatalf("unexpected last finished time: %v", stats.LastFinishedAt)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	ctx := context.Background()
	rec := &history.Record{JobID: 1, ChatID: 9, Prompt: "survives reopen", Duration: time.Second}
	if err := first.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer second.Close()

	records, err := second.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 || records[0].Prompt != "survives reopen" {
		t.Fatalf("expected persisted record, got %+v", records)
	}
}
