package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"kontext/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("scratch", dir)
	if !result.Passed {
		t.Fatalf("temp dir should pass: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("scratch", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("missing dir should fail")
	}
	if result.Detail == "" {
		t.Fatal("detail is empty")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result := CheckDirectoryAccess("scratch", file)
	if result.Passed {
		t.Fatal("plain file should fail")
	}
}

func TestCheckComfyUIInstall_OK(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('stub')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckComfyUIInstall(dir)
	if !result.Passed {
		t.Fatalf("check failed: %s", result.Detail)
	}
}

func TestCheckComfyUIInstall_Missing(t *testing.T) {
	result := CheckComfyUIInstall(t.TempDir())
	if result.Passed {
		t.Fatal("expected failure for checkout without main.py")
	}
}

func TestCheckComfyUIInstall_Unconfigured(t *testing.T) {
	result := CheckComfyUIInstall("   ")
	if result.Passed {
		t.Fatal("expected failure for blank dir")
	}
}

func TestCheckWorkflowTemplate_OK(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkflowTemplate())
	result := CheckWorkflowTemplate(cfg)
	if !result.Passed {
		t.Fatalf("check failed: %s", result.Detail)
	}
}

func TestCheckWorkflowTemplate_MissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckWorkflowTemplate(cfg)
	if result.Passed {
		t.Fatal("expected failure for missing template file")
	}
	if result.Detail == "" {
		t.Fatal("detail is empty")
	}
}

func TestCheckTelegram_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/getMe" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true, "result": {"id": 42, "is_bot": true, "first_name": "kontext", "username": "kontext_bot"}}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL

	result := CheckTelegram(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("check failed: %s", result.Detail)
	}
	if result.Detail != "authenticated as @kontext_bot" {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckTelegram_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok": false, "error_code": 401, "description": "Unauthorized"}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Telegram.APIBaseURL = srv.URL

	result := CheckTelegram(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for rejected token")
	}
	if result.Detail == "" {
		t.Fatal("detail is empty")
	}
}

func TestCheckTelegram_MissingToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Telegram.Token = ""
	result := CheckTelegram(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for missing token")
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	statuses := CheckSystemDeps(context.Background(), cfg)
	if len(statuses) == 0 {
		t.Fatal("expected at least one dependency status")
	}
	for _, status := range statuses {
		if status.Name == "Conda" && !status.Available {
			t.Fatalf("expected stubbed conda to be available: %s", status.Detail)
		}
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("nil config should yield nil results")
	}
}

func TestRunAll_ReadyEnvironment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true, "result": {"id": 42, "is_bot": true, "first_name": "kontext", "username": "kontext_bot"}}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithWorkflowTemplate(),
		testsupport.WithComfyUIDir(),
	)
	cfg.Telegram.APIBaseURL = srv.URL
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s check failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_ReportsBrokenEnvironment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Telegram.Token = ""

	results := RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Passed {
			t.Errorf("check %q unexpectedly passed: %s", r.Name, r.Detail)
		}
	}
}
