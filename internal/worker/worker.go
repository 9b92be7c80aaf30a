// worker.go implements the local execution loop described in spec's
// Distributed Coordinator & Work-Stealing Pool: a small goroutine pool
// drains the Worker's own Deque, falling back to stealing from peers
// when idle. Execution itself is delegated to an Executor (in practice
// internal/sandbox.Runner); this package only owns scheduling policy
// over the deque.
//
// Grounded on internal/batch/batch.go's worker-pool shape (semaphore-
// bounded goroutines draining a work source, reporting completions on a
// channel) generalized from a single shared channel to one deque per
// worker plus stealing.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
)

// Executor runs one Action to completion, e.g. internal/sandbox.Runner.
type Executor interface {
	Run(ctx context.Context, a action.Action) (action.Result, error)
}

// Peer is another worker's deque, as seen for stealing purposes.
type Peer interface {
	// StealN removes up to max Actions from the peer's non-owner end and
	// returns them. Returns fewer than max (possibly zero) if the peer's
	// deque doesn't hold enough.
	StealN(max int) []action.Action
	Len() int
}

// StealN implements Peer for *Deque: takes from the steal end repeatedly
// until max items are stolen or the deque appears empty, per spec's
// "bounded to a fraction of the victim's queue."
func (d *Deque) StealN(max int) []action.Action {
	out := make([]action.Action, 0, max)
	for i := 0; i < max; i++ {
		a, ok := d.Steal()
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}

// Completion reports one Action's outcome to the caller (typically the
// coordinator's dispatch layer, or a test harness).
type Completion struct {
	Action action.Action
	Result action.Result
	Err    error
}

// stealFraction bounds how much of a peer's queue a single steal takes,
// per spec's "bounded to a fraction of victim's queue" (minimizes
// contention and avoids starving the victim in one steal).
const stealFraction = 0.5

// idleBackoff is how long an idle worker goroutine waits between failed
// steal attempts before retrying, so an empty pool doesn't spin.
const idleBackoff = 2 * time.Millisecond

// Pool runs Concurrency goroutines draining Own, falling back to
// stealing from Peers when Own is empty, reporting every completion on
// the Completions channel.
type Pool struct {
	Own         *Deque
	Peers       []Peer
	Executor    Executor
	Concurrency int
	Completions chan Completion

	mu      sync.Mutex
	peerIdx int // round-robin starting point across steal attempts
}

// NewPool constructs a Pool with a buffered Completions channel sized to
// concurrency so a slow consumer doesn't immediately block workers.
func NewPool(own *Deque, executor Executor, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		Own:         own,
		Executor:    executor,
		Concurrency: concurrency,
		Completions: make(chan Completion, concurrency*2),
	}
}

// Run drives the pool's goroutines until ctx is cancelled, then closes
// Completions once every goroutine has exited. Cancellation is
// cooperative: an Action already dispatched to the Executor is expected
// to honor ctx itself (the sandbox forced-kill guarantee bounds how long
// that takes).
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.Concurrency)
	for i := 0; i < p.Concurrency; i++ {
		go func() {
			defer wg.Done()
			p.runOne(ctx)
		}()
	}
	wg.Wait()
	close(p.Completions)
}

func (p *Pool) runOne(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a, ok := p.Own.PopBottom()
		if !ok {
			a, ok = p.stealOne()
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleBackoff):
			}
			continue
		}

		result, err := p.Executor.Run(ctx, a)
		select {
		case p.Completions <- Completion{Action: a, Result: result, Err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// stealOne tries each peer in a rotating order (so no single peer is
// preferentially drained) and returns the first stolen Action, pushing
// any extras it took in the same steal onto Own for later.
func (p *Pool) stealOne() (action.Action, bool) {
	if len(p.Peers) == 0 {
		return action.Action{}, false
	}

	p.mu.Lock()
	start := p.peerIdx
	p.peerIdx = (p.peerIdx + 1) % len(p.Peers)
	p.mu.Unlock()

	order := make([]int, len(p.Peers))
	for i := range order {
		order[i] = (start + i) % len(p.Peers)
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, idx := range order {
		peer := p.Peers[idx]
		n := peer.Len()
		if n <= 0 {
			continue
		}
		take := int(float64(n) * stealFraction)
		if take < 1 {
			take = 1
		}
		stolen := peer.StealN(take)
		if len(stolen) == 0 {
			continue
		}
		for _, extra := range stolen[1:] {
			p.Own.PushBottom(extra)
		}
		return stolen[0], true
	}
	return action.Action{}, false
}
