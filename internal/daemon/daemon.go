package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"kontext/internal/admin"
	"kontext/internal/bot"
	"kontext/internal/chat"
	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/conversation"
	"kontext/internal/history"
	"kontext/internal/logging"
	"kontext/internal/notifications"
	"kontext/internal/queue"
	"kontext/internal/staging"
	"kontext/internal/telegram"
	"kontext/internal/worker"
)

// stopTimeout bounds the outbound work done during shutdown: cancellation
// notices, the server teardown, and the operator notification.
const stopTimeout = 15 * time.Second

// Daemon wires the chat transport, conversation tracker, job queue, worker
// loop, and compute-server controller together and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string
	logPath string

	lockPath string
	lock     *flock.Flock

	store      *history.Store
	queue      *queue.Queue
	tracker    *conversation.Tracker
	estimator  *queue.Estimator
	notifier   notifications.Service
	server     *comfy.ServerController
	engine     *comfy.Client
	transport  *telegram.Client
	poller     *telegram.Poller
	worker     *worker.Loop
	admin      *admin.Controller
	dispatcher *bot.Dispatcher

	running      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Status is a point-in-time snapshot of the daemon for status reporting.
type Status struct {
	Running       bool
	PID           int
	Version       string
	ServerPhase   comfy.Phase
	QueueLength   int
	Current       *queue.Job
	PendingChats  int
	Generations   history.Stats
	LockFilePath  string
	HistoryDBPath string
	LogPath       string
}

// New assembles the daemon and everything it drives: history store, queue,
// conversation tracker, ComfyUI controller, Telegram transport, worker loop,
// and the admin surface.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	q := queue.New()
	tracker := conversation.New(logger, time.Duration(cfg.Workflow.ConversationTTL)*time.Second)
	estimator := queue.NewEstimator(store, cfg.Workflow.ETAWindow,
		time.Duration(cfg.Workflow.BaselineJobSeconds)*time.Second)
	notifier := notifications.NewService(cfg)
	server := comfy.NewServerController(cfg, logger)
	engine := comfy.NewClient(cfg, logger)
	transport := telegram.NewClient(cfg)
	loop := worker.New(cfg, q, server, engine, transport, store, estimator, notifier, logger)
	control := admin.NewController(cfg, q, loop, server, transport, notifier, store, logger)
	dispatcher := bot.NewDispatcher(cfg, tracker, q, estimator, transport, control, loop, server, logger)
	poller := telegram.NewPoller(transport, cfg, dispatcher.Handle, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		version:    version,
		logPath:    filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFileName),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		store:      store,
		queue:      q,
		tracker:    tracker,
		estimator:  estimator,
		notifier:   notifier,
		server:     server,
		engine:     engine,
		transport:  transport,
		poller:     poller,
		worker:     loop,
		admin:      control,
		dispatcher: dispatcher,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start acquires the daemon lock, reclaims staged files left by a previous
// run, and launches the poller and worker goroutines.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon is already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("take daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another kontext daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	cleaned := staging.CleanOrphaned(runCtx, d.cfg.Paths.StagingDir, nil, d.logger)
	if len(cleaned.Removed) > 0 {
		d.logger.Info("reclaimed staged files from previous run",
			logging.Int("removed", len(cleaned.Removed)),
		)
	}

	// Off the startup path; the Bot API probe can block for seconds.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logPreflight(runCtx)
	}()

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(d.logger, "worker loop exited", "worker_exit",
				logging.Error(err))
		}
	}()
	go func() {
		defer d.wg.Done()
		if err := d.poller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(d.logger, "update poller exited", "poller_exit",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new chat messages are no longer received"))
		}
	}()

	if err := d.notifier.NotifyDaemonStarted(runCtx, d.version); err != nil {
		d.logger.Warn("startup notification failed", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("kontext daemon started",
		logging.String("version", d.version),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop halts the poller and worker, cancels whatever is still queued, tears
// the compute server down, and releases the daemon lock. The in-flight job,
// if any, is cancelled by the worker itself and its requester notified there;
// Stop only settles what the worker never picked up.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, job := range d.queue.CancelAll(queue.ShutdownReason) {
		d.discardStaged(job.ImagePath)
		if err := d.transport.SendText(ctx, job.ChatID, chat.CancelMessage(queue.ShutdownReason)); err != nil {
			d.logger.Warn("shutdown notice failed",
				logging.Int64(logging.FieldChatID, job.ChatID),
				logging.Error(err),
			)
		}
	}

	if err := d.server.Shutdown(ctx, false); err != nil {
		d.logger.Warn("server shutdown failed", logging.Error(err))
	}

	if err := d.notifier.NotifyDaemonStopped(ctx); err != nil {
		d.logger.Warn("shutdown notification failed", logging.Error(err))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("kontext daemon stopped")
}

// Close stops the daemon if needed and closes the history store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestShutdown asks the process hosting the daemon to exit. Remote stop
// requests arriving over IPC use this to reach the run loop.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// ShutdownRequested is closed once a shutdown has been requested.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdownCh
}

func (d *Daemon) discardStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("staged file cleanup failed",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}

// QueueSnapshot returns the waiting jobs in dispatch order, preceded by the
// in-flight job when one is running.
func (d *Daemon) QueueSnapshot() []queue.Job {
	waiting := d.queue.Snapshot()
	current, running := d.worker.Current()
	if !running {
		return waiting
	}
	rows := make([]queue.Job, 0, len(waiting)+1)
	rows = append(rows, current)
	return append(rows, waiting...)
}

// PerJobEstimate returns the expected duration of a single generation.
func (d *Daemon) PerJobEstimate(ctx context.Context) time.Duration {
	return d.estimator.PerJob(ctx)
}

// ClearQueue cancels every waiting job and notifies the requesters. The
// running job is left alone.
func (d *Daemon) ClearQueue(ctx context.Context) int {
	return d.admin.ClearQueue(ctx)
}

// KillAll engages the kill switch: compute server down, queue flushed, the
// running job interrupted.
func (d *Daemon) KillAll(ctx context.Context, requestedBy string) admin.KillResult {
	return d.admin.KillAll(ctx, requestedBy)
}

// History returns the most recent generation-log records, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]history.Record, error) {
	if d.store == nil {
		return nil, errors.New("history store unavailable")
	}
	return d.store.Recent(ctx, limit)
}

// TestNotification pushes a test message through the configured ntfy topic
// and reports whether anything went out.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "no ntfy topic configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "notification send failed", err
	}
	return true, "test notification delivered", nil
}

// LogPath names the daemon log file the run loop writes to.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status collects the live snapshot served to CLI status requests.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Version:       d.version,
		ServerPhase:   d.server.Phase(),
		QueueLength:   d.queue.Len(),
		PendingChats:  d.tracker.PendingCount(),
		LockFilePath:  d.lockPath,
		HistoryDBPath: d.cfg.HistoryDBPath(),
		LogPath:       d.logPath,
	}
	if current, running := d.worker.Current(); running {
		status.Current = &current
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Generations = stats
	}
	return status
}
