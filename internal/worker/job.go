package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"kontext/internal/chat"
	"kontext/internal/comfy"
	"kontext/internal/history"
	"kontext/internal/logging"
	"kontext/internal/queue"
	"kontext/internal/services"
)

// terminalNotifyTimeout bounds the requester and operator notifications sent
// after a job ends. They use a detached context because the job's own
// context is already dead on the cancellation path.
const terminalNotifyTimeout = 15 * time.Second

// runJob drives one job to a terminal status. The job is only mutated before
// setCurrent and after clearCurrent, so Current always reads a quiescent
// snapshot.
func (w *Loop) runJob(ctx context.Context, job *queue.Job) {
	job.SetRunning(time.Now())

	jobCtx, cancel := context.WithCancel(ctx)
	w.setCurrent(job, cancel)
	defer cancel()

	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithChatID(jobCtx, job.ChatID)
	logger := logging.WithContext(jobCtx, w.logger)

	logger.Info("job started",
		logging.String("requester", job.Requester()),
		logging.String("prompt", job.PromptExcerpt(80)),
		logging.String(logging.FieldEventType, "job_start"),
	)

	var (
		handle       comfy.Handle
		artifactPath string
	)
	defer func() {
		w.removeStaged(logger, job.ImagePath)
		w.removeStaged(logger, artifactPath)
	}()

	err := func() error {
		if err := w.server.EnsureReady(jobCtx); err != nil {
			return err
		}
		var err error
		handle, err = w.engine.Submit(jobCtx, job.ImagePath, job.Prompt)
		if err != nil {
			return err
		}
		res, err := w.engine.AwaitResult(jobCtx, handle, w.progressRelay(jobCtx, logger, job))
		if err != nil {
			return err
		}
		artifactPath = res.ArtifactPath
		return w.deliver(jobCtx, logger, job, artifactPath)
	}()

	reason := w.clearCurrent()
	if err != nil {
		w.recordFailure(ctx, jobCtx, logger, job, err, reason)
		return
	}

	now := time.Now()
	job.SetSucceeded(now)
	duration, _ := job.Duration()
	logger.Info("job completed",
		logging.String(logging.FieldPromptID, handle.PromptID),
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	w.appendHistory(jobCtx, logger, job, handle, artifactPath, now, duration)
}

// progressRelay builds the AwaitResult callback. The debug log follows the
// server's node transitions; the requester only hears from us when progress
// crosses a configured step boundary.
func (w *Loop) progressRelay(ctx context.Context, logger *slog.Logger, job *queue.Job) func(comfy.Progress) {
	logSampler := logging.NewProgressSampler(0)
	chatSampler := logging.NewProgressSampler(float64(w.cfg.Workflow.ProgressStep))
	chatSampler.ShouldLog(0, "")

	return func(p comfy.Progress) {
		percent := p.Percent()
		if logSampler.ShouldLog(percent, p.Node) {
			logger.Debug("generation progress",
				logging.Float64("percent", percent),
				logging.String("node", p.Node),
			)
		}
		if chatSampler.ShouldLog(percent, "") {
			text := fmt.Sprintf("Generation progress: %d%%", int(math.Round(percent)))
			if err := w.sink.SendText(ctx, job.ChatID, text); err != nil {
				logger.Warn("progress update failed", logging.Error(err))
			}
		}
	}
}

func (w *Loop) deliver(ctx context.Context, logger *slog.Logger, job *queue.Job, artifactPath string) error {
	if err := w.sink.SendText(ctx, job.ChatID, "Generation complete! Sending your image..."); err != nil {
		logger.Warn("completion notice failed", logging.Error(err))
	}
	if err := w.sink.SendPhoto(ctx, job.ChatID, artifactPath, job.Prompt); err != nil {
		return services.Wrap(services.ErrTransient, "worker", "deliver artifact", "sending the generated image failed", err)
	}
	return nil
}

// appendHistory records the completed generation. The log is advisory, so a
// write failure is logged and otherwise ignored.
func (w *Loop) appendHistory(ctx context.Context, logger *slog.Logger, job *queue.Job, handle comfy.Handle, artifactPath string, finishedAt time.Time, duration time.Duration) {
	if w.history == nil {
		return
	}
	rec := &history.Record{
		JobID:        job.ID,
		ChatID:       job.ChatID,
		Username:     job.Username,
		Prompt:       job.Prompt,
		ImageFile:    filepath.Base(job.ImagePath),
		ArtifactFile: filepath.Base(artifactPath),
		PromptID:     handle.PromptID,
		Duration:     duration,
		FinishedAt:   finishedAt,
	}
	if err := w.history.Append(ctx, rec); err != nil {
		logger.Warn("history append failed", logging.Error(err))
	}
}

// recordFailure settles a job that did not succeed. The kill switch stops
// the server before cancelling the job, so the underlying failure often
// surfaces as a transport or startup error; a dead job context means the
// cancellation intent wins over the error's own classification.
func (w *Loop) recordFailure(parent, jobCtx context.Context, logger *slog.Logger, job *queue.Job, jobErr error, reason string) {
	now := time.Now()
	status := services.FailureStatus(jobErr)
	if jobCtx.Err() != nil {
		status = queue.StatusCancelled
	}

	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), terminalNotifyTimeout)
	defer cancelNotify()

	if status == queue.StatusCancelled {
		if reason == "" {
			if parent.Err() != nil {
				reason = queue.ShutdownReason
			} else {
				reason = queue.KillSwitchReason
			}
		}
		job.SetCancelled(now, reason)
		logger.Info("job cancelled",
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		w.sendTerminal(notifyCtx, logger, job.ChatID, chat.CancelMessage(reason))
		return
	}

	job.SetFailed(now, services.UserMessage(jobErr))
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(jobErr))
	w.sendTerminal(notifyCtx, logger, job.ChatID,
		fmt.Sprintf("Sorry, something went wrong during generation: %s.", services.UserMessage(jobErr)))

	if errors.Is(jobErr, services.ErrStartupTimeout) {
		if err := w.notifier.NotifyServerStartupFailed(notifyCtx, jobErr); err != nil {
			logger.Warn("startup failure notification failed", logging.Error(err))
		}
		return
	}
	if err := w.notifier.NotifyJobFailed(notifyCtx, job.Requester(), job.Prompt, jobErr); err != nil {
		logger.Warn("job failure notification failed", logging.Error(err))
	}
}

func (w *Loop) sendTerminal(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	if err := w.sink.SendText(ctx, chatID, text); err != nil {
		logger.Warn("requester notification failed", logging.Error(err))
	}
}

func (w *Loop) removeStaged(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("staged file cleanup failed",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}
