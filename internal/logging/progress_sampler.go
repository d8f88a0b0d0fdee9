package logging

import "strings"

// ProgressSampler rate-limits progress logs. A progress event is worth
// emitting when the executing node changes or when the percentage moves
// into a higher bucket; everything in between is noise.
type ProgressSampler struct {
	bucketSize float64
	prevNode   string
	prevBucket int
}

// NewProgressSampler returns a sampler with the given bucket width in
// percentage points. Widths <= 0 fall back to 5.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	s := &ProgressSampler{bucketSize: bucketSize, prevBucket: -1}
	if s.bucketSize <= 0 {
		s.bucketSize = 5
	}
	return s
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means the caller does not know the completion ratio; node is
// trimmed before comparison.
func (s *ProgressSampler) ShouldLog(percent float64, node string) bool {
	if s == nil {
		return true
	}
	emit := s.trackNode(node)
	if percent >= 0 {
		if bucket := s.bucketFor(percent); bucket > s.prevBucket {
			s.prevBucket = bucket
			emit = true
		}
	}
	return emit
}

// trackNode records the executing node and reports whether it changed. A
// node change restarts bucket tracking so the next percentage is always
// reported.
func (s *ProgressSampler) trackNode(node string) bool {
	node = strings.TrimSpace(node)
	if node == "" || node == s.prevNode {
		return false
	}
	s.prevNode = node
	s.prevBucket = -1
	return true
}

// bucketFor maps a percentage onto its bucket index, clamping overshoot
// past 100 into the final bucket.
func (s *ProgressSampler) bucketFor(percent float64) int {
	return int(min(percent, 100) / s.bucketSize)
}

// Reset clears the sampler state when a new job starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.prevNode = ""
	s.prevBucket = -1
}
