package worker

import (
	"context"
	"fmt"
	"time"

	"kontext/internal/chat"
	"kontext/internal/logging"
)

// Run drains the queue until ctx is cancelled. Each job runs to a terminal
// status before the next is considered; a failing job never stops the loop.
func (w *Loop) Run(ctx context.Context) error {
	w.logger.Info("worker loop started",
		logging.Int("idle_grace_period", w.cfg.Workflow.IdleGracePeriod),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job := w.queue.Dequeue()
		if job == nil {
			if err := w.idleWait(ctx); err != nil {
				return err
			}
			continue
		}
		w.runJob(ctx, job)
		w.refreshQueueOutlook(ctx)
	}
}

// idleWait blocks until new work arrives or ctx ends. The idle teardown
// timer is armed only while the server is ready; an idle stretch with the
// server already down just waits for work.
func (w *Loop) idleWait(ctx context.Context) error {
	var idleC <-chan time.Time
	if w.server.Ready() {
		timer := time.NewTimer(time.Duration(w.cfg.Workflow.IdleGracePeriod) * time.Second)
		defer timer.Stop()
		idleC = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.queue.Wake():
		return nil
	case <-idleC:
		w.logger.Info("queue idle, stopping server",
			logging.Int("idle_grace_period", w.cfg.Workflow.IdleGracePeriod),
			logging.String(logging.FieldEventType, "idle_shutdown"),
		)
		if err := w.server.Shutdown(ctx, false); err != nil {
			w.logger.Warn("idle shutdown failed", logging.Error(err))
		}
		return nil
	}
}

// refreshQueueOutlook pushes updated position and wait estimates to every
// requester still queued. Called after each job reaches a terminal status.
func (w *Loop) refreshQueueOutlook(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	waiting := w.queue.Snapshot()
	if len(waiting) == 0 {
		return
	}
	perJob := w.estimator.PerJob(ctx)
	for i, queued := range waiting {
		text := fmt.Sprintf("Queue update: you are now number %d. Estimated wait: about %s.",
			i+1, chat.FormatWait(time.Duration(i+1)*perJob))
		if err := w.sink.SendText(ctx, queued.ChatID, text); err != nil {
			w.logger.Warn("queue update failed",
				logging.Int64(logging.FieldChatID, queued.ChatID),
				logging.Error(err),
			)
		}
	}
}
