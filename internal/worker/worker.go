package worker

import (
	"context"
	"log/slog"
	"sync"

	"kontext/internal/chat"
	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/history"
	"kontext/internal/logging"
	"kontext/internal/notifications"
	"kontext/internal/queue"
)

// Server is the slice of the compute server lifecycle the loop drives.
// comfy.ServerController implements it.
type Server interface {
	EnsureReady(ctx context.Context) error
	Shutdown(ctx context.Context, force bool) error
	Ready() bool
}

// Engine submits generation jobs to the compute server and follows them to
// their artifact. comfy.Client implements it.
type Engine interface {
	Submit(ctx context.Context, imagePath, prompt string) (comfy.Handle, error)
	AwaitResult(ctx context.Context, handle comfy.Handle, onProgress func(comfy.Progress)) (comfy.Result, error)
}

// Loop drains the job queue one job at a time. It owns the compute server's
// lifecycle while jobs are flowing and tears it down after the configured
// idle grace period.
type Loop struct {
	cfg       *config.Config
	queue     *queue.Queue
	server    Server
	engine    Engine
	sink      chat.Sink
	history   *history.Store
	estimator *queue.Estimator
	notifier  notifications.Service
	logger    *slog.Logger

	mu           sync.Mutex
	current      *queue.Job
	cancelJob    context.CancelFunc
	cancelReason string
}

// New constructs the worker loop. The history store may be nil, in which
// case completed generations are not recorded.
func New(
	cfg *config.Config,
	q *queue.Queue,
	server Server,
	engine Engine,
	sink chat.Sink,
	hist *history.Store,
	estimator *queue.Estimator,
	notifier notifications.Service,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		cfg:       cfg,
		queue:     q,
		server:    server,
		engine:    engine,
		sink:      sink,
		history:   hist,
		estimator: estimator,
		notifier:  notifier,
		logger:    logging.ComponentLogger(cfg, logger, "worker"),
	}
}

// Current returns a snapshot of the in-flight job, if any.
func (w *Loop) Current() (queue.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return queue.Job{}, false
	}
	return *w.current, true
}

// CancelRunning interrupts the in-flight job, recording reason as its
// cancellation cause. It reports whether a job was running.
func (w *Loop) CancelRunning(reason string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelJob == nil {
		return false
	}
	w.cancelReason = reason
	w.cancelJob()
	w.cancelJob = nil
	return true
}

func (w *Loop) setCurrent(job *queue.Job, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = job
	w.cancelJob = cancel
	w.cancelReason = ""
}

// clearCurrent detaches the finished job and returns any cancellation reason
// recorded while it ran.
func (w *Loop) clearCurrent() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	reason := w.cancelReason
	w.current = nil
	w.cancelJob = nil
	w.cancelReason = ""
	return reason
}
