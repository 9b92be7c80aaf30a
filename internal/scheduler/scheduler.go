// Package scheduler implements the single-threaded event loop that
// drives internal/graph.Graph: drain completion events, recompute the
// ready set, compose Actions via a langdriver.Driver, consult the Action
// Cache, and dispatch cache misses onto a Dispatcher (the local
// sandbox.Runner or a coordinator.Client, depending on run mode).
//
// The loop's shape — a single goroutine owning the Graph, a channel of
// completion events, and a worker pool draining a work channel —
// generalizes from "one batch of Linux packages" to "an arbitrary Target
// DAG" and from "shell out to a package build" to "dispatch an Action
// through a Dispatcher interface."
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
	"github.com/GriffinCanCode/Builder-sub007/internal/langdriver"
	"github.com/GriffinCanCode/Builder-sub007/internal/trace"
)

// Retry policy for a dispatched Action that fails with a KindTransient
// error (worker death mid-execution, transport failure, timeout):
// base*2^attempt plus up to 25% jitter, capped at retryMaxAttempts
// dispatch attempts total.
const (
	retryBase        = 200 * time.Millisecond
	retryMaxAttempts = 3
)

// FailurePolicy selects how a failed Action affects the rest of the
// build.
type FailurePolicy int

const (
	// FailFast cancels outstanding work and stops considering new ready
	// nodes as soon as one Action fails.
	FailFast FailurePolicy = iota
	// KeepGoing continues executing independent subtrees after a
	// failure, skipping only the failed Action's transitive dependents.
	KeepGoing
)

// Cache is the subset of internal/cache.Store the Scheduler needs.
type Cache interface {
	Lookup(ctx context.Context, id action.ID) (action.Result, bool, error)
	Store(ctx context.Context, id action.ID, result action.Result) error
}

// Dispatcher executes a cache-missed Action, locally or distributed.
type Dispatcher interface {
	Dispatch(ctx context.Context, a action.Action) (action.Result, error)
}

// Scheduler owns one Graph for the duration of a build session.
type Scheduler struct {
	g        *graph.Graph
	drivers  *langdriver.Registry
	cache    Cache
	dispatch Dispatcher
	policy   FailurePolicy
	log      *slog.Logger

	statCache *digest.StatCache

	mu       sync.Mutex
	inFlight map[graph.NodeIndex]bool
	results  map[graph.NodeIndex]action.Result
}

// New constructs a Scheduler bound to g, dispatching cache misses through
// dispatch and consulting cache first.
func New(g *graph.Graph, drivers *langdriver.Registry, cache Cache, dispatch Dispatcher, policy FailurePolicy, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		g:         g,
		drivers:   drivers,
		cache:     cache,
		dispatch:  dispatch,
		policy:    policy,
		log:       log,
		statCache: digest.NewStatCache(),
		inFlight:  make(map[graph.NodeIndex]bool),
		results:   make(map[graph.NodeIndex]action.Result),
	}
}

type completion struct {
	idx    graph.NodeIndex
	result action.Result
	err    error
}

// Run drives the Graph to completion: every Node ends in a terminal
// status. Under FailFast it stops at the first failure; under KeepGoing
// it continues until no more progress can be made. Either way it returns
// nil only if no Node failed, and otherwise the first failure wrapped as
// a KindAction error.
// parallelism bounds the number of concurrently dispatched Actions.
func (s *Scheduler) Run(ctx context.Context, parallelism int) error {
	if parallelism < 1 {
		parallelism = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan completion)
	var g errgroup.Group
	g.SetLimit(parallelism)

	failed := false
	total := s.g.Len()
	finished := 0

	// launch must never block the caller (this select loop is the only
	// reader of done, so a launch that blocks acquiring a g.SetLimit slot
	// would deadlock against an already-running action's attempt to send
	// its completion). The g.Go call that can block on the limit runs on
	// its own goroutine instead.
	launch := func(idx graph.NodeIndex) {
		s.mu.Lock()
		if s.inFlight[idx] {
			s.mu.Unlock()
			return
		}
		s.inFlight[idx] = true
		s.mu.Unlock()

		if err := s.g.Mark(idx, graph.StatusReady); err != nil {
			done <- completion{idx: idx, err: err}
			return
		}
		if err := s.g.Mark(idx, graph.StatusRunning); err != nil {
			done <- completion{idx: idx, err: err}
			return
		}

		go func() {
			g.Go(func() error {
				result, err := s.execute(runCtx, idx)
				select {
				case done <- completion{idx: idx, result: result, err: err}:
				case <-runCtx.Done():
				}
				return nil
			})
		}()
	}

	for _, idx := range s.g.ReadyNodes() {
		launch(idx)
	}

	var firstErr error
	for finished < total {
		select {
		case c := <-done:
			finished++
			n := s.g.Node(c.idx)
			if c.err != nil {
				s.log.Error("action failed", "target", n.Target.ID, "err", c.err)
				if markErr := s.g.Mark(c.idx, graph.StatusFailed); markErr != nil {
					return markErr
				}
				failed = true
				if firstErr == nil {
					firstErr = c.err
				}
				skipped := s.g.FailurePropagation(c.idx)
				finished += len(skipped)
				if s.policy == FailFast {
					cancel() // stop launching new work and cancel in-flight dispatches
					g.Wait()
					return errs.Wrap(errs.KindAction, "scheduler", "Run", firstErr)
				}
				continue
			}

			status := graph.StatusSuccess
			if c.result.Metadata.CachedFrom != "" {
				status = graph.StatusCached
			}
			if err := s.g.Mark(c.idx, status); err != nil {
				return err
			}
			s.mu.Lock()
			s.results[c.idx] = c.result
			s.mu.Unlock()
			s.log.Info("action complete", "target", n.Target.ID, "status", status.String())

			for _, next := range newlyReady(s.g, c.idx) {
				launch(next)
			}
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		}
	}
	g.Wait()

	if failed {
		return errs.Wrap(errs.KindAction, "scheduler", "Run", firstErr)
	}
	return nil
}

// newlyReady returns the subset of the graph's current ready set formed
// specifically by completed's dependents becoming unblocked, so Run
// doesn't re-launch nodes already in flight or already terminal.
func newlyReady(g *graph.Graph, completed graph.NodeIndex) []graph.NodeIndex {
	ready := g.ReadyNodes()
	candidates := make(map[graph.NodeIndex]bool, len(g.Node(completed).Back))
	for _, dependent := range g.Node(completed).Back {
		candidates[dependent] = true
	}
	var out []graph.NodeIndex
	for _, idx := range ready {
		if candidates[idx] {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return g.Node(out[i]).Target.ID < g.Node(out[j]).Target.ID
	})
	return out
}

// execute composes the Action for the Node's Target via the matching
// LangDriver, consults the cache, and dispatches on a miss.
func (s *Scheduler) execute(ctx context.Context, idx graph.NodeIndex) (action.Result, error) {
	n := s.g.Node(idx)
	t := n.Target

	inputDigest, err := s.inputDigestFor(idx)
	if err != nil {
		return action.Result{}, errs.Wrap(errs.KindUser, "scheduler", "digest", err)
	}

	driver := s.drivers.For(t.Lang)
	a, err := driver.ProduceAction(t, inputDigest)
	if err != nil {
		return action.Result{}, err
	}
	if len(a.Argv) == 0 {
		return action.Result{Status: action.StatusSuccess}, nil
	}

	if s.cache != nil {
		if cached, ok, err := s.cache.Lookup(ctx, a.ID); err == nil && ok {
			cached.Metadata.CachedFrom = a.ID.String()
			return cached, nil
		} else if err != nil {
			s.log.Warn("cache lookup failed, falling back to execution", "target", t.ID, "err", err)
		}
	}

	ev := trace.Event(t.ID, int(idx))
	result, err := s.dispatchWithRetry(ctx, a)
	ev.Done()
	if err != nil {
		return action.Result{}, err
	}
	if !result.Success() {
		return result, errs.New(errs.KindAction, "ActionFailed", t.ID, fmt.Errorf("exit code %d", result.ExitCode))
	}
	if s.cache != nil {
		if err := s.cache.Store(ctx, a.ID, result); err != nil {
			s.log.Warn("cache store failed", "target", t.ID, "err", err)
		}
	}
	return result, nil
}

// dispatchWithRetry calls Dispatch, retrying a KindTransient failure with
// exponential backoff and jitter up to retryMaxAttempts total attempts.
// A non-transient error is returned as-is; a transient error that
// survives the final attempt is wrapped as a KindAction error.
func (s *Scheduler) dispatchWithRetry(ctx context.Context, a action.Action) (action.Result, error) {
	var result action.Result
	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		result, err = s.dispatch.Dispatch(ctx, a)
		if err == nil || !errs.Retryable(err) {
			return result, err
		}
		if attempt == retryMaxAttempts-1 {
			break
		}
		delay := backoff(attempt)
		s.log.Warn("dispatch failed, retrying", "target", a.ID.TargetID, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return action.Result{}, ctx.Err()
		}
	}
	return result, errs.New(errs.KindAction, "RetriesExhausted", a.ID.TargetID, err)
}

// backoff computes base*2^attempt plus up to 25% uniform jitter.
func backoff(attempt int) time.Duration {
	d := retryBase << attempt
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
