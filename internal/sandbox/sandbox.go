// Package sandbox executes one Action in an isolated environment per
// spec's Hermetic Sandbox Runtime: a restricted filesystem view, pid
// isolation, resource limits, and a deadline timer independent of the
// child process.
//
// Adapted from the teacher's internal/build.(*Ctx).Build re-exec dance
// (internal/build/build.go): Cloneflags CLONE_NEWNS|CLONE_NEWUSER with a
// uid/gid mapping back to an unprivileged id inside the namespace, plus
// usernsDiagnostic() on failure. The teacher builds one whole package per
// invocation and layers squashfs images under the chroot; this runner
// executes one Action's declared argv and reports back digested outputs
// instead, since there is no package/version/squashfs concept here.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"golang.org/x/sys/unix"
)

// Backend selects the isolation strategy. BackendNamespaced is the
// default; BackendNone is the no-op fallback and must be explicitly
// selected.
type Backend int

const (
	BackendNamespaced Backend = iota
	BackendNone
)

// gracePeriod is the window between the polite SIGTERM and the forced
// SIGKILL once a deadline (wall time or grace after cancellation) fires.
const gracePeriod = 5 * time.Second

// unprivilegedID is the in-namespace uid/gid the sandboxed process runs
// as; it is mapped to the host's own effective uid/gid, mirroring the
// teacher's UidMappings/GidMappings (ContainerID 0, HostID <build user>).
const unprivilegedID = 0

// Runner executes Actions under the configured Backend. A Runner is safe
// for concurrent use; each Run call gets its own temp directory and
// child process.
type Runner struct {
	Backend     Backend
	BaseTempDir string // parent of per-action scratch dirs; os.TempDir() if empty
}

// New constructs a Runner. baseTempDir may be empty, in which case
// os.TempDir() is used.
func New(backend Backend, baseTempDir string) *Runner {
	return &Runner{Backend: backend, BaseTempDir: baseTempDir}
}

// Run executes a in an isolated environment and returns its ActionResult.
// Cleanup of every scoped resource (temp dir, child process, deadline
// timers) is guaranteed on every exit path: success, non-zero exit,
// timeout, and ctx cancellation.
func (r *Runner) Run(ctx context.Context, a action.Action) (action.Result, error) {
	start := time.Now()

	scratch, err := r.newScratchDir(a.ID.String())
	if err != nil {
		return action.Result{}, errs.New(errs.KindFatal, "SandboxSetupFailed", a.ID.TargetID, err)
	}
	defer os.RemoveAll(scratch)

	for _, dir := range a.Temps {
		if err := os.MkdirAll(filepath.Join(scratch, dir), 0755); err != nil {
			return action.Result{}, errs.New(errs.KindFatal, "SandboxSetupFailed", a.ID.TargetID, err)
		}
	}

	cmd, cleanupIdentity, err := r.buildCommand(ctx, a, scratch)
	if err != nil {
		return action.Result{}, err
	}
	defer cleanupIdentity()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if r.Backend == BackendNamespaced {
			if suggestion := usernsDiagnostic(); suggestion != "" {
				return action.Result{}, errs.New(errs.KindFatal, "SandboxStartFailed", a.ID.TargetID,
					fmt.Errorf("%w\n\n%s", err, suggestion))
			}
		}
		return action.Result{}, errs.New(errs.KindFatal, "SandboxStartFailed", a.ID.TargetID, err)
	}

	r.applyRlimits(cmd.Process.Pid, a.Resources)

	status, exitCode, waitErr := r.waitWithDeadline(ctx, cmd, a.Resources)

	result := action.Result{
		Status:   status,
		ExitCode: int32(exitCode),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Usage:    usageFromProcessState(cmd.ProcessState),
		Duration: time.Since(start),
	}

	if status != action.StatusSuccess {
		return result, nil
	}
	if waitErr != nil {
		// Should not happen alongside StatusSuccess, but guard defensively.
		return result, errs.Wrap(errs.KindAction, "sandbox", "wait", waitErr)
	}

	outputs, err := digestOutputs(scratch, a.Outputs)
	if err != nil {
		return result, errs.New(errs.KindAction, "OutputMissing", a.ID.TargetID, err)
	}
	result.Outputs = outputs
	return result, nil
}

// newScratchDir creates a uniquely, randomly named temp directory so
// concurrent or repeated runs of the same action never race on a
// predictable path (TOCTOU mitigation), per spec's cleanup contract.
func (r *Runner) newScratchDir(actionKey string) (string, error) {
	base := r.BaseTempDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", err
	}
	safe := filepath.Base(actionKey)
	return os.MkdirTemp(base, "sandbox-"+safe+"-")
}

// buildCommand constructs the exec.Cmd for a under the selected Backend.
// The returned cleanup func releases any identity-mapping resources
// (currently a no-op placeholder for BackendNamespaced, since the
// namespace itself is torn down with the process); it is always non-nil.
func (r *Runner) buildCommand(ctx context.Context, a action.Action, scratch string) (*exec.Cmd, func(), error) {
	if len(a.Argv) == 0 {
		return nil, nil, errs.New(errs.KindUser, "MissingInput", a.ID.TargetID, fmt.Errorf("action has no argv"))
	}

	cmd := exec.Command(a.Argv[0], a.Argv[1:]...)
	cmd.Dir = scratch
	cmd.Env = envSlice(a.Env)

	switch r.Backend {
	case BackendNone:
		// No-sandbox fallback: runs directly in the host environment.
		return cmd, func() {}, nil
	case BackendNamespaced:
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWUSER | unix.CLONE_NEWPID,
			UidMappings: []syscall.SysProcIDMap{
				{ContainerID: unprivilegedID, HostID: os.Getuid(), Size: 1},
			},
			GidMappings: []syscall.SysProcIDMap{
				{ContainerID: unprivilegedID, HostID: os.Getgid(), Size: 1},
			},
		}
		if a.NetworkHermetic {
			cmd.SysProcAttr.Cloneflags |= unix.CLONE_NEWNET
		}
		return cmd, func() {}, nil
	default:
		return nil, nil, errs.New(errs.KindFatal, "UnknownSandboxBackend", a.ID.TargetID, nil)
	}
}

// applyRlimits best-effort applies memory and CPU-time hard limits to
// the already-started child via prlimit(2), since Go's exec.Cmd offers
// no pre-exec rlimit hook short of a re-exec wrapper (which the teacher
// uses for a different purpose — re-executing itself inside the mount
// namespace). A failure here is not fatal: limits are best-effort per
// spec on platforms/privilege levels lacking the primitive.
func (r *Runner) applyRlimits(pid int, res action.Resources) {
	if res.MaxMemoryBytes > 0 {
		lim := unix.Rlimit{Cur: uint64(res.MaxMemoryBytes), Max: uint64(res.MaxMemoryBytes)}
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil)
	}
	if res.MaxCPUTimeMS > 0 {
		seconds := uint64(res.MaxCPUTimeMS)/1000 + 1
		lim := unix.Rlimit{Cur: seconds, Max: seconds}
		_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil)
	}
}

// waitWithDeadline waits for cmd to exit, enforcing res.WallTimeMS (if
// set) with a monotonic timer independent of the child: SIGTERM at
// expiry, SIGKILL after gracePeriod if it hasn't exited. ctx cancellation
// is handled the same way; buildCommand uses exec.Command rather than
// exec.CommandContext, whose default cancellation only sends Kill.
func (r *Runner) waitWithDeadline(ctx context.Context, cmd *exec.Cmd, res action.Resources) (action.Status, int, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if res.WallTimeMS > 0 {
		timer := time.NewTimer(time.Duration(res.WallTimeMS) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	var once sync.Once
	terminate := func(reason action.Status) (action.Status, int, error) {
		once.Do(func() {
			if cmd.Process != nil {
				cmd.Process.Signal(syscall.SIGTERM)
			}
		})
		select {
		case err := <-done:
			return statusFromExit(err, reason)
		case <-time.After(gracePeriod):
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			err := <-done
			return statusFromExit(err, reason)
		}
	}

	select {
	case err := <-done:
		return statusFromExit(err, action.StatusSuccess)
	case <-deadline:
		return terminate(action.StatusTimeout)
	case <-ctx.Done():
		return terminate(action.StatusCancelled)
	}
}

// statusFromExit classifies a completed cmd.Wait() error into an
// ActionResult status and exit code. preferred is the status to report
// when the process did exit (possibly due to our own signal) rather than
// the process's own choice of nonzero exit meaning ordinary failure.
func statusFromExit(waitErr error, preferred action.Status) (action.Status, int, error) {
	if waitErr == nil {
		if preferred != action.StatusSuccess {
			return preferred, -1, nil
		}
		return action.StatusSuccess, 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(waitErr, &exitErr); ok {
		if preferred != action.StatusSuccess {
			return preferred, exitErr.ExitCode(), nil
		}
		return action.StatusFailure, exitErr.ExitCode(), nil
	}
	if preferred != action.StatusSuccess {
		return preferred, -1, nil
	}
	return action.StatusFailure, -1, waitErr
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// usageFromProcessState extracts a resource-usage snapshot from the
// child's rusage, as reported by the kernel via wait4(2).
func usageFromProcessState(ps *os.ProcessState) action.Usage {
	if ps == nil {
		return action.Usage{}
	}
	usage := action.Usage{WallTimeMS: ps.SystemTime().Milliseconds() + ps.UserTime().Milliseconds()}
	if ru, ok := ps.SysUsage().(*syscall.Rusage); ok {
		usage.PeakMemBytes = int64(ru.Maxrss) * 1024 // Maxrss is in KiB on Linux
		usage.CPUTimeMS = (ru.Utime.Sec*1000 + int64(ru.Utime.Usec)/1000) +
			(ru.Stime.Sec*1000 + int64(ru.Stime.Usec)/1000)
	}
	return usage
}

// digestOutputs walks a's declared output paths rooted at scratch and
// returns each present file's content digest. A declared output that is
// absent after the action exits is an error (spec's "declared-output-
// missing", treated as a non-retryable ActionError per DESIGN.md's Open
// Question decision).
func digestOutputs(scratch string, declared []string) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest, len(declared))
	for _, rel := range declared {
		abs := filepath.Join(scratch, rel)
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("declared output %s missing: %w", rel, err)
		}
		if fi.IsDir() {
			d, err := digestDir(abs)
			if err != nil {
				return nil, err
			}
			out[rel] = d
			continue
		}
		d, err := digest.File(abs)
		if err != nil {
			return nil, err
		}
		out[rel] = d
	}
	return out, nil
}

// digestDir computes an opaque content digest for a directory output: the
// sorted sequence of (relative path, file digest) pairs, reusing
// digest.InputDigest's canonical entry encoding so a directory's digest
// is stable across runs regardless of readdir order.
func digestDir(root string) (digest.Digest, error) {
	var entries []digest.InputEntry
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		d, err := digest.File(path)
		if err != nil {
			return err
		}
		entries = append(entries, digest.InputEntry{Path: rel, Digest: d})
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest.InputDigest(entries), nil
}
