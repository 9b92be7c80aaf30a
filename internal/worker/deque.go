// Package worker implements a Worker's local execution loop: a
// Chase-Lev work-stealing deque feeding a bounded pool of execution
// goroutines, plus the peer-stealing logic that lets an idle worker pull
// work from a loaded peer.
//
// No library in the example corpus implements a lock-free work-stealing
// deque (the closest relative, internal/batch/batch.go, uses a plain
// channel-fed worker pool with no stealing), so this is hand-rolled
// directly against sync/atomic per the Chase-Lev algorithm, the standard
// construction for single-owner push/pop one end, multi-thief steal the
// other end.
package worker

import (
	"sync/atomic"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
)

const defaultCapacity = 32

type ringBuffer struct {
	cap  int64
	mask int64
	buf  []action.Action
}

func newRingBuffer(capacity int64) *ringBuffer {
	return &ringBuffer{cap: capacity, mask: capacity - 1, buf: make([]action.Action, capacity)}
}

func (r *ringBuffer) get(i int64) action.Action  { return r.buf[i&r.mask] }
func (r *ringBuffer) put(i int64, a action.Action) { r.buf[i&r.mask] = a }

func (r *ringBuffer) grow(bottom, top int64) *ringBuffer {
	next := newRingBuffer(r.cap * 2)
	for i := top; i < bottom; i++ {
		next.put(i, r.get(i))
	}
	return next
}

// Deque is a Chase-Lev lock-free work-stealing deque of Actions. The
// owning worker calls PushBottom/PopBottom from a single goroutine;
// any number of other goroutines may call Steal concurrently.
type Deque struct {
	top    atomic.Int64
	bottom atomic.Int64
	buf    atomic.Pointer[ringBuffer]
}

// NewDeque constructs an empty deque with a small initial backing array
// that grows (doubling) as needed under PushBottom.
func NewDeque() *Deque {
	d := &Deque{}
	d.buf.Store(newRingBuffer(defaultCapacity))
	return d
}

// PushBottom adds a to the owner's end of the deque. Only the owning
// goroutine may call this.
func (d *Deque) PushBottom(a action.Action) {
	b := d.bottom.Load()
	t := d.top.Load()
	buf := d.buf.Load()

	if size := b - t; size >= buf.cap {
		buf = buf.grow(b, t)
		d.buf.Store(buf)
	}
	buf.put(b, a)
	d.bottom.Store(b + 1)
}

// PopBottom removes and returns the owner's end of the deque. Only the
// owning goroutine may call this. ok is false if the deque was empty.
func (d *Deque) PopBottom() (action.Action, bool) {
	b := d.bottom.Load() - 1
	buf := d.buf.Load()
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		// Deque was empty; restore bottom.
		d.bottom.Store(t)
		return action.Action{}, false
	}

	a := buf.get(b)
	if t == b {
		// Last element: race with a concurrent Steal via CAS on top.
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(t + 1)
			return action.Action{}, false
		}
		d.bottom.Store(t + 1)
		return a, true
	}
	return a, true
}

// Steal removes and returns the thief's end (opposite PushBottom/
// PopBottom) of the deque. Any number of goroutines may call this
// concurrently. ok is false if the deque was empty or lost a race to
// another thief/the owner.
func (d *Deque) Steal() (action.Action, bool) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return action.Action{}, false
	}

	buf := d.buf.Load()
	a := buf.get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return action.Action{}, false
	}
	return a, true
}

// Len returns a snapshot of the deque's size. Racy by construction
// (top/bottom may move between the two loads under concurrent
// Push/Pop/Steal); intended for load-reporting heuristics (autoscaler,
// steal-target selection), not correctness-critical decisions.
func (d *Deque) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b < t {
		return 0
	}
	return int(b - t)
}

// Empty reports whether the deque currently appears empty.
func (d *Deque) Empty() bool { return d.Len() <= 0 }
