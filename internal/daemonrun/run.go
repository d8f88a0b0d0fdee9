// Package daemonrun hosts the kontextd process: logging setup, pid file,
// daemon assembly, and the IPC socket.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"kontext/internal/config"
	"kontext/internal/daemon"
	"kontext/internal/ipc"
	"kontext/internal/logging"
)

// Options carries the process-level switches the CLI hands to a daemon run.
type Options struct {
	Version     string
	LogLevel    string
	Development bool
	// SocketPath overrides the config-derived IPC socket location.
	SocketPath string
}

// Run builds the logger and the daemon, starts processing, serves the IPC
// socket, and blocks until a signal or a stop request arrives.
func Run(parent context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, "kontext-"+stamp+".log")

	logger, err := logging.New(logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	logToolingSnapshot(logger, cfg)
	if err := refreshLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update kontext.log link: %v\n", err)
	}
	scope := logging.PruneScope{Dir: cfg.Paths.LogDir, Pattern: "kontext-*.log", Keep: []string{logPath}}
	logging.PruneExpiredLogs(logger, cfg.Logging.RetentionDays, scope)

	pidPath := cfg.PIDFilePath()
	if err := recordPID(pidPath); err != nil {
		return fmt.Errorf("record pid: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, opts.Version)
	if err != nil {
		return fmt.Errorf("assemble daemon: %w", err)
	}
	defer d.Close()

	// The instance lock is taken inside Start. The socket comes up only
	// afterwards, so a second kontextd cannot displace the socket of a
	// daemon that is already serving.
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and whether another kontextd is running"))
		return err
	}

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ctl, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("serve control socket: %w", err)
	}
	defer ctl.Close()
	ctl.Serve()

	select {
	case <-signalCtx.Done():
		logger.Info("kontext daemon shutting down", logging.String("reason", "signal"))
	case <-d.ShutdownRequested():
		logger.Info("kontext daemon shutting down", logging.String("reason", "stop request"))
	}
	return nil
}

// refreshLogPointer keeps the stable kontext.log name pointing at the
// newest per-run log file so tailing survives restarts. A symlink is
// preferred; a hard link covers filesystems without symlink support.
func refreshLogPointer(logDir, latest string) error {
	if logDir == "" || latest == "" {
		return nil
	}
	pointer := filepath.Join(logDir, logging.DaemonLogFileName)
	if err := os.Remove(pointer); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("drop old log pointer: %w", err)
	}
	if symlinkErr := os.Symlink(latest, pointer); symlinkErr != nil {
		if err := os.Link(latest, pointer); err != nil {
			return fmt.Errorf("relink log pointer: %w", err)
		}
	}
	return nil
}

func recordPID(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}

// logToolingSnapshot records what the daemon can see of its external pieces
// at startup, so a support log alone answers the usual "was it configured"
// questions.
func logToolingSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	conda := cfg.CondaBinary()
	_, mainErr := os.Stat(filepath.Join(cfg.ComfyUI.Dir, "main.py"))
	_, templateErr := os.Stat(cfg.Workflow.TemplatePath)
	logger.Info("external tooling snapshot",
		logging.String(logging.FieldEventType, "tooling_snapshot"),
		logging.Bool("telegram_token_present", strings.TrimSpace(cfg.Telegram.Token) != ""),
		logging.Bool("conda_available", commandExists(conda)),
		logging.String("conda_binary", conda),
		logging.Bool("comfyui_main_present", mainErr == nil),
		logging.String("comfyui_dir", cfg.ComfyUI.Dir),
		logging.Bool("workflow_template_present", templateErr == nil),
		logging.String("workflow_template", cfg.Workflow.TemplatePath),
		logging.Bool("ntfy_topic_present", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}

func commandExists(name string) bool {
	if name = strings.TrimSpace(name); name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
