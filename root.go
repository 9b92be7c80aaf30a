// Package builder assembles the kernel's packages into a runnable build
// session: load a target file, open the local action cache, wire a
// dispatcher over either the hermetic sandbox or the distributed
// coordinator, and drive internal/scheduler.Scheduler to completion.
//
// Grounded on the teacher's own root package: atexit.go and context.go
// (RegisterAtExit/RunAtExit, InterruptibleContext) are kept close to
// verbatim since they are generically useful ambient infrastructure for
// any CLI entry point, not specific to the teacher's package-build
// domain. distri.go's Repo (a file system path plus a derived pkg
// subdirectory) is replaced here by Root, the same "one struct naming
// where a build's on-disk state lives" shape generalized to this
// kernel's own on-disk layout (action cache root, target file path).
package builder

import (
	"context"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/cache"
	"github.com/GriffinCanCode/Builder-sub007/internal/env"
	"github.com/GriffinCanCode/Builder-sub007/internal/langdriver"
	"github.com/GriffinCanCode/Builder-sub007/internal/sandbox"
	"github.com/GriffinCanCode/Builder-sub007/internal/scheduler"
	"github.com/GriffinCanCode/Builder-sub007/internal/targetfile"
)

// Root names the on-disk locations a build session needs: where the
// target graph is declared and where the local action cache persists
// state across invocations.
type Root struct {
	// TargetFile is the path to the YAML target graph (see
	// internal/targetfile).
	TargetFile string

	// CacheDir is the action cache's root directory (see
	// internal/cache's on-disk layout).
	CacheDir string

	// CacheSecret HMAC-signs each cache entry; callers typically derive
	// this once per machine and keep it stable across invocations so
	// existing cache entries stay verifiable.
	CacheSecret []byte

	// SandboxBackend selects hermetic execution strategy; zero value is
	// sandbox.BackendNone.
	SandboxBackend sandbox.Backend

	// ScratchDir is the base directory sandboxed actions' scratch
	// directories are created under.
	ScratchDir string
}

// localDispatcher adapts sandbox.Runner (Run) to scheduler.Dispatcher
// (Dispatch): the two interfaces are identical in shape but named
// differently since sandbox.Runner is also directly usable as a
// worker.Executor, which uses the Run name.
type localDispatcher struct {
	runner *sandbox.Runner
}

func (d localDispatcher) Dispatch(ctx context.Context, a action.Action) (action.Result, error) {
	return d.runner.Run(ctx, a)
}

// Session is one build invocation: a loaded target Graph, an open action
// Cache, and a Scheduler wired to dispatch cache misses through the
// configured Dispatcher.
type Session struct {
	Cache     *cache.Store
	Scheduler *scheduler.Scheduler
	Drivers   *langdriver.Registry

	cfg env.Config
}

// NewSession loads root.TargetFile, opens the action cache at
// root.CacheDir, and constructs a Scheduler dispatching through a
// sandbox.Runner configured from root's sandbox settings. Callers that
// need distributed dispatch instead should construct their own Dispatcher
// (e.g. a coordinator client) and call scheduler.New directly; NewSession
// covers the common single-machine case cmd/builder's default subcommand
// uses.
func NewSession(root Root, policy scheduler.FailurePolicy, log *slog.Logger) (*Session, error) {
	cfg, err := env.Load()
	if err != nil {
		return nil, err
	}

	g, err := targetfile.LoadGraph(root.TargetFile)
	if err != nil {
		return nil, err
	}

	limits := cache.Limits{
		MaxBytes:   cfg.ActionCache.MaxSizeBytes,
		MaxEntries: cfg.ActionCache.MaxEntries,
		MaxAge:     time.Duration(cfg.ActionCache.MaxAgeDays) * 24 * time.Hour,
	}
	store, err := cache.Open(root.CacheDir, root.CacheSecret, limits)
	if err != nil {
		return nil, err
	}

	drivers := langdriver.NewRegistry()
	runner := sandbox.New(root.SandboxBackend, root.ScratchDir)
	dispatch := localDispatcher{runner: runner}

	sched := scheduler.New(g, drivers, store, dispatch, policy, log)

	return &Session{Cache: store, Scheduler: sched, Drivers: drivers, cfg: cfg}, nil
}

// Run drives the session's Scheduler to completion with the given
// concurrency bound.
func (s *Session) Run(ctx context.Context, parallelism int) error {
	return s.Scheduler.Run(ctx, parallelism)
}

