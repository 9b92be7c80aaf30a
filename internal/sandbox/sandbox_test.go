package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
)

func baseAction(argv []string) action.Action {
	return action.Action{
		ID:   action.ID{TargetID: "//t", Kind: action.KindCustom, InputDigest: "d"},
		Argv: argv,
	}
}

func TestRunSucceedsNoSandboxBackend(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "exit 0"})
	result, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != action.StatusSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "exit 7"})
	result, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != action.StatusFailure {
		t.Fatalf("status = %v, want failure", result.Status)
	}
	if result.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", result.ExitCode)
	}
}

func TestRunCapturesStdoutStderr(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "echo out; echo err 1>&2"})
	result, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Stdout) != "out\n" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "out\n")
	}
	if string(result.Stderr) != "err\n" {
		t.Errorf("stderr = %q, want %q", result.Stderr, "err\n")
	}
}

func TestRunEnforcesWallTimeTimeout(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "sleep 30"})
	a.Resources.WallTimeMS = 50
	start := time.Now()
	result, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != action.StatusTimeout {
		t.Fatalf("status = %v, want timeout", result.Status)
	}
	if elapsed := time.Since(start); elapsed > gracePeriod+10*time.Second {
		t.Errorf("took too long to enforce timeout: %v", elapsed)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "sleep 30"})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, err := r.Run(ctx, a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != action.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", result.Status)
	}
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction(nil)
	if _, err := r.Run(context.Background(), a); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestRunDigestsDeclaredOutputs(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "echo hello > out.txt"})
	a.Outputs = []string{"out.txt"}
	result, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Outputs["out.txt"]; !ok {
		t.Fatal("expected out.txt in result.Outputs")
	}
}

func TestRunErrorsOnMissingDeclaredOutput(t *testing.T) {
	r := New(BackendNone, t.TempDir())
	a := baseAction([]string{"/bin/sh", "-c", "exit 0"})
	a.Outputs = []string{"never-created.txt"}
	if _, err := r.Run(context.Background(), a); err == nil {
		t.Fatal("expected error for missing declared output")
	}
}
