package daemon

import (
	"context"

	"kontext/internal/logging"
	"kontext/internal/preflight"
)

// logPreflight runs the startup checks and logs every result. Failures do
// not stop the daemon: status and queue handling stay available while the
// operator repairs the reported issue, and generation attempts surface
// their own errors.
func (d *Daemon) logPreflight(ctx context.Context) {
	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			d.logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
		)
	}
}
