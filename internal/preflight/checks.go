package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/deps"
	"kontext/internal/telegram"
)

// CheckTelegram verifies that the bot token authenticates against the Bot
// API. It uses a 10-second timeout and a single attempt (no retries).
func CheckTelegram(ctx context.Context, cfg *config.Config) Result {
	const name = "Telegram bot"

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return Result{Name: name, Detail: "bot token missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	me, err := telegram.NewClient(cfg).GetMe(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	if me.Username != "" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("authenticated as @%s", me.Username)}
	}
	return Result{Name: name, Passed: true, Detail: "authenticated"}
}

// CheckDirectoryAccess confirms the path is a directory this process can
// read, write, and traverse.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s: does not exist", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s: stat failed: %v", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s: not a directory", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: no read/write access: %v", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (writable)", path)}
}

// CheckComfyUIInstall verifies that the configured ComfyUI checkout contains
// the server entrypoint the daemon launches.
func CheckComfyUIInstall(dir string) Result {
	const name = "ComfyUI install"

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Result{Name: name, Detail: "comfyui dir not configured"}
	}
	info, err := os.Stat(filepath.Join(dir, "main.py"))
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s: main.py not found", dir)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s: stat failed: %v", dir, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s: main.py is not a file", dir)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (main.py present)", dir)}
}

// CheckWorkflowTemplate verifies that the workflow template parses and that
// the configured node slots accept inputs.
func CheckWorkflowTemplate(cfg *config.Config) Result {
	const name = "Workflow template"

	path := strings.TrimSpace(cfg.Workflow.TemplatePath)
	if path == "" {
		return Result{Name: name, Detail: "template path not configured"}
	}
	if err := comfy.ValidateTemplate(cfg); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (nodes ok)", path)}
}

// CheckSystemDeps evaluates all system-level dependencies for the given
// config. Both the daemon and the CLI status command use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Conda",
			Command:     cfg.CondaBinary(),
			Description: "Required to launch the managed ComfyUI server",
		},
	}
	return deps.CheckBinaries(requirements)
}

// summarizeNetworkError produces a human-readable summary for network check failures.
func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (Bot API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (Bot API unreachable)"
	}
	return err.Error()
}
