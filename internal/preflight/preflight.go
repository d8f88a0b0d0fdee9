package preflight

import (
	"context"

	"kontext/internal/config"
)

// Result captures one check's pass/fail verdict and a human-readable detail.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config. The checks are
// ordered cheapest first so an unconfigured install fails fast before the
// Telegram round trip.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckComfyUIInstall(cfg.ComfyUI.Dir),
		CheckWorkflowTemplate(cfg),
		CheckTelegram(ctx, cfg),
	}
}
