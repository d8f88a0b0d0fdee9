package comfy_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"kontext/internal/comfy"
	"kontext/internal/config"
	"kontext/internal/logging"
	"kontext/internal/services"
	"kontext/internal/testsupport"
)

// unusedAddress reserves a localhost port and releases it so probes against
// it are refused.
func unusedAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func TestEnsureReadyAdoptsExternalServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.ComfyUI.ServerAddress = strings.TrimPrefix(srv.URL, "http://")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctrl := comfy.NewServerController(cfg, logging.NewNop())
	if err := ctrl.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !ctrl.Ready() {
		t.Fatal("expected controller to report ready")
	}
	if pid := ctrl.PID(); pid != 0 {
		t.Fatalf("PID = %d, want 0 for adopted server", pid)
	}

	// A second call short-circuits on the live probe.
	if err := ctrl.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady again: %v", err)
	}

	if err := ctrl.Shutdown(context.Background(), false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
}

func TestShutdownIdempotentWithoutServer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctrl := comfy.NewServerController(cfg, logging.NewNop())

	if err := ctrl.Shutdown(context.Background(), true); err != nil {
		t.Fatalf("Shutdown on stopped controller: %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
}

// spawnConfig wires a long-lived stub child with a probe endpoint that fails
// once (forcing a spawn) and answers afterwards.
func spawnConfig(t *testing.T) *config.Config {
	t.Helper()

	var probes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&probes, 1) == 1 {
			http.Error(w, "booting", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "{}")
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithComfyUIDir(),
		testsupport.WithStubbedBinaryScript("conda", "#!/bin/sh\nsleep 30\n"),
	)
	cfg.ComfyUI.ServerAddress = strings.TrimPrefix(srv.URL, "http://")
	cfg.ComfyUI.StartupTimeout = 10
	cfg.ComfyUI.ShutdownGrace = 5
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

func TestEnsureReadySpawnsServerAndShutdownStopsIt(t *testing.T) {
	cfg := spawnConfig(t)
	ctrl := comfy.NewServerController(cfg, logging.NewNop())

	if err := ctrl.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	pid := ctrl.PID()
	if pid == 0 {
		t.Fatal("expected a managed child process")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, comfy.ServerLogFileName)); err != nil {
		t.Fatalf("server log missing: %v", err)
	}

	if err := ctrl.Shutdown(context.Background(), false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
	if got := ctrl.PID(); got != 0 {
		t.Fatalf("PID after shutdown = %d, want 0", got)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("child %d still alive after shutdown (signal err %v)", pid, err)
	}
}

func TestServerExitFlipsPhaseToStopped(t *testing.T) {
	cfg := spawnConfig(t)
	ctrl := comfy.NewServerController(cfg, logging.NewNop())

	if err := ctrl.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	pid := ctrl.PID()
	if pid == 0 {
		t.Fatal("expected a managed child process")
	}

	// Kill the whole group out-of-band, as a crash would.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill child group: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Phase() != comfy.PhaseStopped {
		if time.Now().After(deadline) {
			t.Fatalf("controller did not observe server exit, phase = %s", ctrl.Phase())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsureReadyFailsWhenServerExitsEarly(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComfyUIDir(),
		testsupport.WithStubbedBinaries(),
	)
	cfg.ComfyUI.ServerAddress = unusedAddress(t)
	cfg.ComfyUI.StartupTimeout = 10
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctrl := comfy.NewServerController(cfg, logging.NewNop())
	err := ctrl.EnsureReady(context.Background())
	if !errors.Is(err, services.ErrStartupTimeout) {
		t.Fatalf("expected startup timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "exited before becoming ready") {
		t.Fatalf("expected early-exit detail, got %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
}

func TestEnsureReadyTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComfyUIDir(),
		testsupport.WithStubbedBinaryScript("conda", "#!/bin/sh\nsleep 30\n"),
	)
	cfg.ComfyUI.ServerAddress = unusedAddress(t)
	cfg.ComfyUI.StartupTimeout = 1
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctrl := comfy.NewServerController(cfg, logging.NewNop())
	err := ctrl.EnsureReady(context.Background())
	if !errors.Is(err, services.ErrStartupTimeout) {
		t.Fatalf("expected startup timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "within startup timeout") {
		t.Fatalf("expected deadline detail, got %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
}

func TestEnsureReadyHonoursCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComfyUIDir(),
		testsupport.WithStubbedBinaryScript("conda", "#!/bin/sh\nsleep 30\n"),
	)
	cfg.ComfyUI.ServerAddress = unusedAddress(t)
	cfg.ComfyUI.StartupTimeout = 10
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	ctrl := comfy.NewServerController(cfg, logging.NewNop())
	err := ctrl.EnsureReady(ctx)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := ctrl.Phase(); got != comfy.PhaseStopped {
		t.Fatalf("phase = %s, want %s", got, comfy.PhaseStopped)
	}
}
