package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/Builder-sub007/internal/sandbox"
	"github.com/GriffinCanCode/Builder-sub007/internal/scheduler"
)

const sessionTargetYAML = `
targets:
  - id: "//:hello"
    kind: custom
    lang: shell
    config:
      cmd: ["true"]
`

func writeSessionTargetFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	if err := os.WriteFile(path, []byte(sessionTargetYAML), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewSessionWiresGraphCacheAndDispatcher(t *testing.T) {
	root := Root{
		TargetFile:     writeSessionTargetFile(t),
		CacheDir:       t.TempDir(),
		CacheSecret:    []byte("test-secret"),
		SandboxBackend: sandbox.BackendNone,
		ScratchDir:     t.TempDir(),
	}

	sess, err := NewSession(root, scheduler.KeepGoing, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.Cache == nil || sess.Scheduler == nil || sess.Drivers == nil {
		t.Fatal("NewSession left a nil component")
	}
}

func TestNewSessionFailsOnMissingTargetFile(t *testing.T) {
	root := Root{
		TargetFile: filepath.Join(t.TempDir(), "missing.yaml"),
		CacheDir:   t.TempDir(),
	}
	if _, err := NewSession(root, scheduler.KeepGoing, nil); err == nil {
		t.Fatal("expected error for missing target file")
	}
}

func TestRegisterAndRunAtExit(t *testing.T) {
	var ran bool
	RegisterAtExit(func() error {
		ran = true
		return nil
	})
	if err := RunAtExit(); err != nil {
		t.Fatalf("RunAtExit: %v", err)
	}
	if !ran {
		t.Error("expected registered atexit function to run")
	}
}

func TestInterruptibleContextCancelsOnCall(t *testing.T) {
	ctx, cancel := InterruptibleContext()
	defer cancel()
	select {
	case <-ctx.Done():
		t.Fatal("context should not be done before any signal or explicit cancel")
	default:
	}
	cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be done after cancel")
	}
}
