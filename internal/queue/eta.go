package queue

import (
	"context"
	"time"
)

// DurationSource supplies recent successful job durations, most recent first.
// The history store implements it.
type DurationSource interface {
	RecentDurations(ctx context.Context, n int) ([]time.Duration, error)
}

// Estimator converts a queue position into an estimated wait using a rolling
// mean of recently completed job durations. With no history it falls back to
// a configured baseline so the very first requester still gets a number.
type Estimator struct {
	source   DurationSource
	window   int
	baseline time.Duration
}

// NewEstimator builds an estimator over the given source. A nil source or
// non-positive window degrades to the baseline.
func NewEstimator(source DurationSource, window int, baseline time.Duration) *Estimator {
	if baseline <= 0 {
		baseline = 90 * time.Second
	}
	return &Estimator{source: source, window: window, baseline: baseline}
}

// PerJob returns the expected duration of a single job.
func (e *Estimator) PerJob(ctx context.Context) time.Duration {
	if e == nil {
		return 90 * time.Second
	}
	if e.source == nil || e.window <= 0 {
		return e.baseline
	}
	durations, err := e.source.RecentDurations(ctx, e.window)
	if err != nil || len(durations) == 0 {
		return e.baseline
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	mean := total / time.Duration(len(durations))
	if mean <= 0 {
		return e.baseline
	}
	return mean
}

// ForPosition returns the estimated wait for a job at the given 1-based
// queue position, including the job itself.
func (e *Estimator) ForPosition(ctx context.Context, position int) time.Duration {
	if position < 1 {
		position = 1
	}
	return time.Duration(position) * e.PerJob(ctx)
}
