// Package testsupport provides shared fixtures for kontext tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"kontext/internal/config"
)

// A ConfigOption mutates the test config that NewConfig builds.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t             testing.TB
	baseDir       string
	cfg           *config.Config
	pathPrepended bool
}

// NewConfig returns a config rooted in a fresh temp directory with the
// fields most tests need filled in. Options run last and may override
// anything.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Telegram.Token = "test-token"
	cfg.ComfyUI.Dir = filepath.Join(base, "comfyui")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.TemplatePath = filepath.Join(base, "workflow.json")

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfg}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAdminChats sets the privileged chat allowlist on the test config.
func WithAdminChats(ids ...int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Telegram.AdminChatIDs = append([]int64(nil), ids...)
	}
}

// WithWorkflowTemplate writes a minimal API-format workflow file to the
// configured template path so template loading succeeds.
func WithWorkflowTemplate() ConfigOption {
	return func(b *configBuilder) {
		WriteWorkflowTemplate(b.t, b.cfg.Workflow.TemplatePath)
	}
}

// WithComfyUIDir creates the configured ComfyUI checkout directory with a
// placeholder main.py so environment checks pass.
func WithComfyUIDir() ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.ComfyUI.Dir, 0o755); err != nil {
			b.t.Fatalf("mkdir comfyui dir: %v", err)
		}
		mainPy := filepath.Join(b.cfg.ComfyUI.Dir, "main.py")
		if err := os.WriteFile(mainPy, []byte("print('stub')\n"), 0o644); err != nil {
			b.t.Fatalf("write stub main.py: %v", err)
		}
	}
}

// WithStubbedBinaries drops fake executables for the given names onto a
// PATH prefix so dependency checks pass. With no names, only conda is
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"conda"}
		}
		for _, name := range names {
			b.installStub(name, "#!/bin/sh\nexit 0\n")
		}
	}
}

// WithStubbedBinaryScript writes a stub executable with the given shell body
// and prepends its directory to PATH. Later stubs overwrite earlier ones of
// the same name.
func WithStubbedBinaryScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		b.installStub(name, body)
	}
}

func (b *configBuilder) installStub(name, body string) {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("create stub bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(body), 0o755); err != nil {
		b.t.Fatalf("install stub %s: %v", name, err)
	}

	if !b.pathPrepended {
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("prepend PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
		b.pathPrepended = true
	}
}

// BaseDir recovers the temp root a NewConfig config lives under.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}

// WriteWorkflowTemplate writes a minimal workflow with the default image,
// prompt, and seed node identifiers to the given path.
func WriteWorkflowTemplate(t testing.TB, path string) {
	t.Helper()

	const template = `{
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "", "clip": ["38", 0]}},
  "25": {"class_type": "RandomNoise", "inputs": {"noise_seed": 1, "control_after_generate": "fixed"}},
  "41": {"class_type": "LoadImage", "inputs": {"image": ""}}
}`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		t.Fatalf("write workflow template: %v", err)
	}
}
