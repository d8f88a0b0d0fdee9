package comfy

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"kontext/internal/config"
	"kontext/internal/logging"
	"kontext/internal/services"
)

// Phase describes the managed server lifecycle.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseStarting Phase = "starting"
	PhaseReady    Phase = "ready"
	PhaseStopping Phase = "stopping"
)

// ServerLogFileName is the file inside the log directory that receives the
// managed server's stdout and stderr.
const ServerLogFileName = "comfyui.log"

const probeTimeout = time.Second

// process tracks one spawned server instance. exited closes when the child
// has been reaped; waitErr is valid afterwards.
type process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	logFile *os.File
}

// ServerController owns the single managed server process. At most one child
// exists at a time; phase transitions are guarded by one mutex.
type ServerController struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	mu    sync.Mutex
	phase Phase
	proc  *process
}

// NewServerController constructs a controller in the Stopped phase.
func NewServerController(cfg *config.Config, logger *slog.Logger) *ServerController {
	return &ServerController{
		cfg:    cfg,
		logger: logging.ComponentLogger(cfg, logger, "comfy-server"),
		client: &http.Client{Timeout: probeTimeout},
		phase:  PhaseStopped,
	}
}

// Phase returns the current lifecycle phase.
func (c *ServerController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Ready reports whether the server is accepting work.
func (c *ServerController) Ready() bool {
	return c.Phase() == PhaseReady
}

// PID returns the managed process ID, or 0 when no child is running.
func (c *ServerController) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil && c.proc.cmd != nil && c.proc.cmd.Process != nil {
		return c.proc.cmd.Process.Pid
	}
	return 0
}

// EnsureReady makes the server reachable, spawning it when necessary. It is
// idempotent: a Ready server that still answers the probe returns
// immediately. Failures leave the phase at Stopped with no child running.
func (c *ServerController) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseReady:
		c.mu.Unlock()
		if c.probe(ctx) {
			return nil
		}
		// The server stopped answering underneath us. Tear down whatever
		// remains and restart from scratch.
		c.logger.Warn("ready server stopped answering, restarting",
			logging.String(logging.FieldEventType, "server_probe_lost"),
			logging.String(logging.FieldErrorHint, "see "+ServerLogFileName+" for server output"),
		)
		if err := c.Shutdown(ctx, true); err != nil {
			return err
		}
		c.mu.Lock()
	case PhaseStarting, PhaseStopping:
		// Single worker means no concurrent EnsureReady; a lingering
		// transitional phase indicates an interrupted attempt.
		c.mu.Unlock()
		return services.Wrap(services.ErrStartupTimeout, "comfy", "ensure ready",
			"server is mid-transition ("+string(c.Phase())+")", nil)
	}

	// Phase is Stopped here and the lock is held.
	if c.probe(ctx) {
		// An externally managed server is already listening. Adopt it
		// without owning a child process.
		c.phase = PhaseReady
		c.mu.Unlock()
		c.logger.Info("server already running, adopting",
			logging.String("address", c.cfg.ComfyUI.ServerAddress),
		)
		return nil
	}

	proc, err := c.spawnLocked()
	if err != nil {
		c.phase = PhaseStopped
		c.mu.Unlock()
		return err
	}
	c.phase = PhaseStarting
	c.proc = proc
	c.mu.Unlock()

	c.logger.Info("server starting",
		logging.Int("pid", proc.cmd.Process.Pid),
		logging.String("conda_env", c.cfg.ComfyUI.CondaEnv),
		logging.Duration("startup_timeout", c.startupTimeout()),
	)

	if err := c.awaitReadiness(ctx, proc); err != nil {
		return err
	}

	c.mu.Lock()
	if c.proc != proc {
		// Shutdown raced us and already reaped the child.
		c.mu.Unlock()
		return services.Wrap(services.ErrCancelled, "comfy", "ensure ready",
			"server was shut down while starting", nil)
	}
	c.phase = PhaseReady
	c.mu.Unlock()
	c.logger.Info("server ready", logging.String("address", c.cfg.ComfyUI.ServerAddress))
	return nil
}

// spawnLocked launches the conda-wrapped server process. Caller holds the lock.
func (c *ServerController) spawnLocked() (*process, error) {
	args := []string{"run", "-n", c.cfg.ComfyUI.CondaEnv, "python", "main.py"}
	args = append(args, c.cfg.ComfyUI.ExtraArgs...)
	args = append(args, "--listen", c.cfg.ComfyUI.ListenAddress)

	cmd := exec.Command(c.cfg.CondaBinary(), args...)
	cmd.Dir = c.cfg.ComfyUI.Dir
	// Own process group so shutdown reaches python children the conda
	// wrapper spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logPath := filepath.Join(c.cfg.Paths.LogDir, ServerLogFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, services.Wrap(services.ErrStartupTimeout, "comfy", "open server log", logPath, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, services.Wrap(services.ErrStartupTimeout, "comfy", "start server",
			"launching "+c.cfg.CondaBinary(), err)
	}

	proc := &process{cmd: cmd, exited: make(chan struct{}), logFile: logFile}
	go c.reap(proc)
	return proc, nil
}

// reap waits for the child and flips the controller back to Stopped when the
// exit was not initiated through Shutdown.
func (c *ServerController) reap(p *process) {
	p.waitErr = p.cmd.Wait()
	_ = p.logFile.Close()
	close(p.exited)

	c.mu.Lock()
	unexpected := c.proc == p && (c.phase == PhaseReady || c.phase == PhaseStarting)
	if c.proc == p {
		c.proc = nil
		c.phase = PhaseStopped
	}
	c.mu.Unlock()

	if unexpected {
		logging.WarnWithContext(c.logger, "server process exited unexpectedly", "server_exit_unexpected",
			logging.Error(p.waitErr),
			logging.String(logging.FieldErrorHint, "see "+ServerLogFileName+" for server output"),
			logging.String(logging.FieldImpact, "next job restarts the server"),
		)
	}
}

// awaitReadiness polls the HTTP surface until it answers, the child dies, the
// deadline passes, or the context is cancelled.
func (c *ServerController) awaitReadiness(ctx context.Context, proc *process) error {
	deadline := time.NewTimer(c.startupTimeout())
	defer deadline.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		if c.probe(ctx) {
			return nil
		}
		select {
		case <-proc.exited:
			return services.Wrap(services.ErrStartupTimeout, "comfy", "ensure ready",
				"server exited before becoming ready", proc.waitErr)
		case <-ctx.Done():
			c.killAbandoned(proc)
			return services.Wrap(services.ErrCancelled, "comfy", "ensure ready",
				"cancelled while waiting for server", ctx.Err())
		case <-deadline.C:
			c.killAbandoned(proc)
			return services.Wrap(services.ErrStartupTimeout, "comfy", "ensure ready",
				"server not ready within startup timeout", nil)
		case <-tick.C:
		}
	}
}

// killAbandoned force-kills a half-started child and resets the phase.
func (c *ServerController) killAbandoned(proc *process) {
	c.mu.Lock()
	c.phase = PhaseStopping
	c.mu.Unlock()

	signalGroup(proc.cmd, syscall.SIGKILL)
	<-proc.exited

	c.mu.Lock()
	if c.proc == proc {
		c.proc = nil
	}
	c.phase = PhaseStopped
	c.mu.Unlock()
}

// Shutdown stops the managed server. The process group receives SIGTERM and
// is escalated to SIGKILL when force is set or the grace window expires.
// Idempotent when already Stopped; an adopted external server is simply
// released.
func (c *ServerController) Shutdown(ctx context.Context, force bool) error {
	c.mu.Lock()
	proc := c.proc
	if proc == nil {
		c.phase = PhaseStopped
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseStopping
	c.mu.Unlock()

	c.logger.Info("server stopping",
		logging.Int("pid", proc.cmd.Process.Pid),
		logging.Bool("force", force),
	)

	signalGroup(proc.cmd, syscall.SIGTERM)

	if !force {
		grace := time.Duration(c.cfg.ComfyUI.ShutdownGrace) * time.Second
		select {
		case <-proc.exited:
		case <-time.After(grace):
		case <-ctx.Done():
		}
	}

	select {
	case <-proc.exited:
	default:
		signalGroup(proc.cmd, syscall.SIGKILL)
		<-proc.exited
	}

	c.mu.Lock()
	if c.proc == proc {
		c.proc = nil
	}
	c.phase = PhaseStopped
	c.mu.Unlock()

	c.logger.Info("server stopped")
	return nil
}

// probe reports whether the server's HTTP surface answers. Any 2xx from the
// history endpoint counts.
func (c *ServerController) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.ServerBaseURL()+"/history", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *ServerController) startupTimeout() time.Duration {
	return time.Duration(c.cfg.ComfyUI.StartupTimeout) * time.Second
}

// signalGroup delivers a signal to the child's process group, falling back to
// the child itself when the group lookup fails.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, sig)
		return
	}
	_ = cmd.Process.Signal(sig)
}
