// Package daemonctl orchestrates the kontextd process from the CLI: launch,
// readiness waits, stop with force-kill fallback, and status snapshots that
// work whether or not the daemon is up.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kontext/internal/api"
	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/history"
	"kontext/internal/ipc"
	"kontext/internal/logging"
	"kontext/internal/preflight"
)

// LaunchOptions carries the flags forwarded to the spawned daemon process.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult tells the caller whether a start actually launched anything.
type StartResult struct {
	State    StartState
	Launched bool
}

// args renders the flag list passed to the spawned `kontext daemon run`.
func (o LaunchOptions) args() []string {
	args := []string{"daemon", "run"}
	if socket := strings.TrimSpace(o.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if path := strings.TrimSpace(o.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	return args
}

// Launch spawns a detached kontextd process via `kontext daemon run`.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("spawn kontextd: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("spawn kontextd: %w", err)
	}
	// Release so the daemon outlives the CLI process.
	return proc.Process.Release()
}

// pollInterval is the delay between dial attempts while waiting for the
// daemon to come up or go away.
const pollInterval = 200 * time.Millisecond

// awaitCondition polls fn until it reports done or timeout elapses. The
// returned error is fn's last error, or a generic timeout when fn never
// reported one.
func awaitCondition(timeout time.Duration, fn func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	lastErr := errors.New("timed out")
	for time.Now().Before(deadline) {
		done, err := fn()
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		time.Sleep(pollInterval)
	}
	return lastErr
}

// WaitForClient blocks until the daemon socket accepts connections and
// returns the connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := awaitCondition(timeout, func() (bool, error) {
		c, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			return false, dialErr
		}
		client = c
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted launches the daemon process unless one is already serving.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		st, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && st != nil && st.Running {
			return StartResult{State: StartStateAlreadyRunning}, nil
		}
		// The socket answered but no daemon is serving behind it; treat it
		// as down and let the fresh launch replace it.
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon launched but status failed: %w", err)
	}
	if st == nil || !st.Running {
		return StartResult{}, errors.New("daemon socket is up but the daemon reports not running; check the daemon log")
	}
	return StartResult{State: StartStateStarted, Launched: true}, nil
}

// WaitForShutdown waits for the daemon socket to disappear. A stop request
// makes the kontextd process exit, so socket removal is the shutdown signal.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := awaitCondition(timeout, func() (bool, error) {
		client, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			if isDaemonUnavailable(dialErr) {
				return true, nil
			}
			return false, dialErr
		}
		_ = client.Close()
		return false, errors.New("daemon still running")
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// ProcessInfo reports whether daemon IPC answers and the PID it reports.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()

	status, err := client.Status()
	switch {
	case err != nil:
		return true, 0, err
	case status == nil:
		return true, 0, nil
	default:
		return true, status.PID, nil
	}
}

// DeriveLogDir resolves the daemon's log directory from whichever hint is
// available: the lock file location, then the history database location, then
// the configured log dir.
func DeriveLogDir(lockPath, historyDBPath string, cfg *config.Config) string {
	for _, anchor := range []string{lockPath, historyDBPath} {
		if anchor != "" {
			return filepath.Dir(anchor)
		}
	}
	if cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Paths.LogDir)
}

// readPIDFile parses a pid file. A missing file or unparseable content
// yields pid 0 so the caller can fall back to another source.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid
// and lock files. The pid file wins over fallbackPID when both are present.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("no usable daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill own process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon pid %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("clear pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// ErrDaemonNotRunning reports that nothing answered on the control socket.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// StopResult records how the daemon came down.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult pairs the stop and start halves of a restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate asks the daemon to stop and escalates to SIGKILL when the
// process is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	// Snapshot the paths before stopping; they locate the pid and lock files
	// if the graceful path fails.
	var lockPath, historyDBPath string
	var pid int
	if status, statusErr := client.Status(); statusErr == nil && status != nil {
		lockPath = status.LockPath
		historyDBPath = status.HistoryDBPath
		pid = status.PID
	}
	resp, stopErr := client.Stop()
	_ = client.Close()
	if stopErr != nil {
		return StopResult{}, stopErr
	}

	result := StopResult{PID: pid, StopAcknowledged: resp != nil && resp.Stopped}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}
	return escalateStop(socketPath, cfg, lockPath, historyDBPath, result)
}

// escalateStop force-kills a daemon that ignored the stop request.
func escalateStop(socketPath string, cfg *config.Config, lockPath, historyDBPath string, result StopResult) (StopResult, error) {
	alive, livePID, err := ProcessInfo(socketPath)
	if err != nil || !alive {
		return result, nil
	}
	pid := livePID
	if pid == 0 {
		pid = result.PID
	}

	logDir := DeriveLogDir(lockPath, historyDBPath, cfg)
	if logDir == "" {
		return result, errors.New("unable to determine daemon log directory")
	}
	killedPID, killErr := ForceKillProcess(
		filepath.Join(logDir, "kontextd.pid"),
		filepath.Join(logDir, "kontextd.lock"),
		pid,
	)
	if killErr != nil {
		return result, fmt.Errorf("force-stop daemon: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures a fresh one is serving.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopped, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	started, startErr := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if startErr != nil {
		return RestartResult{}, startErr
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopped,
		Start:      started,
	}, nil
}

// BuildStatusSnapshot collects daemon status over IPC and applies offline
// fallbacks from config and the history database when the daemon is down.
// The returned status lines cover the environment either way.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, []api.StatusLine, error) {
	if cfg == nil {
		return nil, nil, errors.New("configuration not available")
	}
	snap := &ipc.StatusResponse{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if got, statusErr := client.Status(); statusErr == nil && got != nil {
			snap = got
		}
	}

	if !snap.Running {
		if snap.LockPath == "" {
			snap.LockPath = cfg.LockPath()
		}
		if snap.HistoryDBPath == "" {
			snap.HistoryDBPath = cfg.HistoryDBPath()
		}
		if snap.LogPath == "" {
			snap.LogPath = filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFileName)
		}
		if snap.ServerPhase == "" {
			snap.ServerPhase = string(comfy.PhaseStopped)
		}
		fillHistoryStats(ctx, cfg, snap)
	}

	return snap, BuildSystemChecks(ctx, cfg, snap), nil
}

// fillHistoryStats reads generation statistics straight from the history
// database for status output while the daemon is down.
func fillHistoryStats(ctx context.Context, cfg *config.Config, snap *ipc.StatusResponse) {
	statsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	store, err := history.Open(cfg)
	if err != nil {
		return
	}
	defer store.Close()

	stats, err := store.Stats(statsCtx)
	if err != nil {
		return
	}
	snap.Generations = stats.Count
	snap.MeanJobSeconds = int64(stats.MeanDuration.Round(time.Second) / time.Second)
	snap.LastGenerationAt = api.FormatTime(stats.LastFinishedAt)
}

func isDaemonUnavailable(err error) bool {
	for _, absent := range []error{os.ErrNotExist, syscall.ENOENT, syscall.ECONNREFUSED} {
		if errors.Is(err, absent) {
			return true
		}
	}
	return false
}

// BuildSystemChecks resolves status lines that combine runtime state and
// environment checks.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, status *ipc.StatusResponse) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 9)

	if status.Running {
		lines = append(lines, api.StatusLine{Label: "Kontext", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.PID)})
	} else {
		lines = append(lines, api.StatusLine{Label: "Kontext", Severity: "warn", Detail: "Not running (run `kontext daemon start`)"})
	}

	lines = append(lines, serverPhaseLine(status))

	lines = append(lines, checkLine("ComfyUI Install", preflight.CheckComfyUIInstall(cfg.ComfyUI.Dir), "error"))
	lines = append(lines, checkLine("Workflow Template", preflight.CheckWorkflowTemplate(cfg), "error"))
	lines = append(lines, checkLine("Staging", preflight.CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir), "error"))
	lines = append(lines, checkLine("Logs", preflight.CheckDirectoryAccess("Log directory", cfg.Paths.LogDir), "error"))

	for _, dep := range preflight.CheckSystemDeps(ctx, cfg) {
		sev := "ok"
		detail := dep.Command
		if !dep.Available {
			sev = "error"
			if dep.Optional {
				sev = "warn"
			}
			detail = dep.Detail
		}
		lines = append(lines, api.StatusLine{Label: dep.Name, Severity: sev, Detail: detail})
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		lines = append(lines, api.StatusLine{Label: "Telegram", Severity: "error", Detail: "bot token missing"})
	} else {
		result := preflight.CheckTelegram(ctx, cfg)
		sev := "ok"
		if !result.Passed {
			sev = "warn"
		}
		lines = append(lines, api.StatusLine{Label: "Telegram", Severity: sev, Detail: result.Detail})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "ok", Detail: "ntfy topic set"})
	} else {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "warn", Detail: "No ntfy topic"})
	}

	return lines
}

func serverPhaseLine(status *ipc.StatusResponse) api.StatusLine {
	const label = "ComfyUI Server"
	switch comfy.Phase(status.ServerPhase) {
	case comfy.PhaseReady:
		return api.StatusLine{Label: label, Severity: "ok", Detail: "Ready"}
	case comfy.PhaseStarting:
		return api.StatusLine{Label: label, Severity: "info", Detail: "Starting"}
	case comfy.PhaseStopping:
		return api.StatusLine{Label: label, Severity: "info", Detail: "Stopping"}
	default:
		if status.Running {
			return api.StatusLine{Label: label, Severity: "info", Detail: "Stopped (launches on demand)"}
		}
		return api.StatusLine{Label: label, Severity: "info", Detail: "Stopped"}
	}
}

func checkLine(label string, result preflight.Result, failSeverity string) api.StatusLine {
	sev := "ok"
	if !result.Passed {
		sev = failSeverity
	}
	return api.StatusLine{Label: label, Severity: sev, Detail: result.Detail}
}
