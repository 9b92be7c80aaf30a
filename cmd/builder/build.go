package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"runtime"
	"time"

	builder "github.com/GriffinCanCode/Builder-sub007"
	"github.com/GriffinCanCode/Builder-sub007/internal/sandbox"
	"github.com/GriffinCanCode/Builder-sub007/internal/scheduler"
	"github.com/GriffinCanCode/Builder-sub007/internal/trace"
)

func cmdBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	targetFile := fs.String("f", "targets.yaml", "path to the target file")
	cacheDir := fs.String("cache_dir", defaultCacheDir(), "action cache root directory")
	keepGoing := fs.Bool("keep_going", false, "continue building independent subtrees after a failure")
	parallelism := fs.Int("parallelism", 0, "max concurrently dispatched actions (0 = GOMAXPROCS)")
	sandboxed := fs.Bool("sandbox", true, "run actions under a namespaced hermetic sandbox")
	traceFile := fs.String("trace", "", "write a Chrome trace event file of action execution to this path")
	fs.Parse(args)

	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			return err
		}
		trace.Sink(f)
		defer f.Close()
		go trace.CPUEvents(ctx, time.Second)
		go trace.MemEvents(ctx, time.Second)
	}

	policy := scheduler.FailFast
	if *keepGoing {
		policy = scheduler.KeepGoing
	}
	backend := sandbox.BackendNone
	if *sandboxed {
		backend = sandbox.BackendNamespaced
	}

	root := builder.Root{
		TargetFile:     *targetFile,
		CacheDir:       *cacheDir,
		CacheSecret:    cacheSecret(),
		SandboxBackend: backend,
		ScratchDir:     os.TempDir(),
	}

	sess, err := builder.NewSession(root, policy, slog.Default())
	if err != nil {
		return err
	}

	n := *parallelism
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return sess.Run(ctx, n)
}

func defaultCacheDir() string {
	if d, ok := os.LookupEnv("BUILDER_CACHE_DIR"); ok {
		return d
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".buildercache"
	}
	return dir + "/builder"
}

// cacheSecret derives the HMAC key signing the cache index. Grounded on
// internal/cache's Open(root, secret, limits) contract: the secret is
// opaque to the core, supplied by the environment rather than generated
// and persisted by the core itself.
func cacheSecret() []byte {
	if s, ok := os.LookupEnv("BUILDER_CACHE_SECRET"); ok {
		return []byte(s)
	}
	return []byte("builder-default-cache-secret")
}
