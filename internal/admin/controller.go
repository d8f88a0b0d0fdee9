package admin

import (
	"context"
	"log/slog"
	"os"

	"kontext/internal/chat"
	"kontext/internal/config"
	"kontext/internal/history"
	"kontext/internal/logging"
	"kontext/internal/notifications"
	"kontext/internal/queue"
)

// Worker is the slice of the worker loop the controller drives: interrupting
// whatever job is currently generating.
type Worker interface {
	// CancelRunning interrupts the in-flight job with the given reason.
	// It reports whether a job was actually running.
	CancelRunning(reason string) bool
}

// Server is the slice of the compute server controller the kill switch
// needs: forcing the process down.
type Server interface {
	Shutdown(ctx context.Context, force bool) error
}

// KillResult summarizes what a kill-switch invocation tore down.
type KillResult struct {
	// RunningCancelled reports whether a job was generating when the switch
	// was pulled.
	RunningCancelled bool
	// QueuedCancelled is the number of jobs drained from the queue.
	QueuedCancelled int
}

// Total returns the number of jobs the kill switch cancelled.
func (r KillResult) Total() int {
	total := r.QueuedCancelled
	if r.RunningCancelled {
		total++
	}
	return total
}

// Controller implements the administrator operations: the kill switch and
// the generation history readout. It owns the ordering guarantees of the
// kill switch; callers (the chat dispatcher, IPC handlers) only relay the
// request.
type Controller struct {
	cfg      *config.Config
	queue    *queue.Queue
	worker   Worker
	server   Server
	sink     chat.Sink
	notifier notifications.Service
	history  *history.Store
	logger   *slog.Logger
}

// NewController wires the administrator surface. history may be nil when the
// generation log is unavailable; History then returns no records.
func NewController(cfg *config.Config, q *queue.Queue, worker Worker, server Server, sink chat.Sink, notifier notifications.Service, hist *history.Store, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		queue:    q,
		worker:   worker,
		server:   server,
		sink:     sink,
		notifier: notifier,
		history:  hist,
		logger:   logging.ComponentLogger(cfg, logger, "admin"),
	}
}

// KillAll is the kill switch. It force-stops the compute server first so the
// in-flight generation dies at the source, then drains the queue, then
// interrupts the worker. Stopping the server before cancelling the job means
// the worker observes its own context cancellation rather than a confusing
// transport error, and draining the queue before the interrupt means the
// worker finds nothing to start when the cancelled job unwinds.
//
// Every drained requester is told their job was cancelled; the requester of
// the running job is notified by the worker as part of normal terminal
// handling. requestedBy is only used for the operator alert.
func (c *Controller) KillAll(ctx context.Context, requestedBy string) KillResult {
	c.logger.Warn("kill switch engaged",
		slog.String("requested_by", requestedBy),
		slog.Int("queued_jobs", c.queue.Len()),
		logging.Alert("kill_switch"),
		logging.String(logging.FieldEventType, "kill_switch"),
		logging.String(logging.FieldImpact, "all pending generations will be cancelled"),
	)

	if err := c.server.Shutdown(ctx, true); err != nil {
		c.logger.Error("forced server shutdown failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the leftover process manually before the next job starts it again"),
		)
	}

	drained := c.queue.CancelAll(queue.KillSwitchReason)
	result := KillResult{
		RunningCancelled: c.worker.CancelRunning(queue.KillSwitchReason),
		QueuedCancelled:  len(drained),
	}

	for _, job := range drained {
		c.discardStaged(job)
		if err := c.sink.SendText(ctx, job.ChatID, chat.CancelMessage(queue.KillSwitchReason)); err != nil {
			c.logger.Warn("cancellation notice failed",
				logging.Int64(logging.FieldChatID, job.ChatID),
				logging.Error(err),
			)
		}
	}

	if err := c.notifier.NotifyKillSwitch(ctx, requestedBy, result.Total()); err != nil {
		c.logger.Warn("kill switch alert failed", logging.Error(err))
	}

	c.logger.Info("kill switch complete",
		slog.Bool("running_cancelled", result.RunningCancelled),
		slog.Int("queued_cancelled", result.QueuedCancelled),
	)
	return result
}

// ClearQueue drains every queued job without touching the running one or
// the server. Each drained requester is notified and their staged input
// removed. It returns the number of jobs cancelled.
func (c *Controller) ClearQueue(ctx context.Context) int {
	drained := c.queue.CancelAll(queue.KillSwitchReason)
	for _, job := range drained {
		c.discardStaged(job)
		if err := c.sink.SendText(ctx, job.ChatID, chat.CancelMessage(queue.KillSwitchReason)); err != nil {
			c.logger.Warn("cancellation notice failed",
				logging.Int64(logging.FieldChatID, job.ChatID),
				logging.Error(err),
			)
		}
	}
	if len(drained) > 0 {
		c.logger.Info("queue cleared",
			slog.Int("cancelled", len(drained)),
			logging.String(logging.FieldEventType, "queue_cleared"),
		)
	}
	return len(drained)
}

// History returns the most recent completed generations, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]history.Record, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.Recent(ctx, limit)
}

// discardStaged removes the staged input of a job that will never run.
func (c *Controller) discardStaged(job *queue.Job) {
	if job.ImagePath == "" {
		return
	}
	if err := os.Remove(job.ImagePath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("staged file cleanup failed",
			slog.String("path", job.ImagePath),
			logging.Error(err),
		)
	}
}
