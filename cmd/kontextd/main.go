// Command kontextd runs the kontext daemon in the foreground. The kontext
// CLI normally launches the daemon via `kontext daemon run`; this binary
// exists for service managers like systemd that supervise the process
// directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"kontext/internal/config"
	"kontext/internal/daemonrun"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		Version:  version,
		LogLevel: cfg.Logging.Level,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
