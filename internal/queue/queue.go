package queue

import (
	"sync"
	"time"
)

// Queue is the in-memory FIFO of submitted jobs. Producers (chat handlers,
// IPC) append concurrently; a single worker loop drains it. All operations
// are atomic under one mutex so readers never observe partial state.
type Queue struct {
	mu     sync.Mutex
	jobs   []*Job
	nextID int64
	wake   chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a new job in submission order and returns it together with
// its 1-based queue position. The worker is woken if it is idle.
func (q *Queue) Enqueue(chatID int64, username, prompt, imagePath string) (*Job, int) {
	q.mu.Lock()
	q.nextID++
	job := &Job{
		ID:          q.nextID,
		ChatID:      chatID,
		Username:    username,
		Prompt:      prompt,
		ImagePath:   imagePath,
		SubmittedAt: time.Now().UTC(),
		Status:      StatusQueued,
	}
	q.jobs = append(q.jobs, job)
	position := len(q.jobs)
	q.mu.Unlock()

	q.signal()
	return job, position
}

// Dequeue removes and returns the head job, or nil when the queue is empty.
// It never blocks; the worker parks on Wake instead.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job
}

// Wake returns the channel the worker selects on while idle. Enqueue and
// CancelAll perform a non-blocking send so a parked worker reconsiders the
// queue without polling.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot returns a copy of all queued jobs in FIFO order. The copies are
// detached; mutating them does not affect the queue.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	return out
}

// Position returns the 1-based position of a queued job, or 0 when the job
// is no longer queued.
func (q *Queue) Position(jobID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.ID == jobID {
			return i + 1
		}
	}
	return 0
}

// CancelAll drains the queue, marks every drained job cancelled with the
// given reason, and returns them so callers can notify each requester.
func (q *Queue) CancelAll(reason string) []*Job {
	q.mu.Lock()
	drained := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	now := time.Now().UTC()
	for _, job := range drained {
		job.SetCancelled(now, reason)
	}
	if len(drained) > 0 {
		q.signal()
	}
	return drained
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
