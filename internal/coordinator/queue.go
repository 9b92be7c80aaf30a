// queue.go implements the dispatch layer's priority queue: ready
// Actions ordered by priority = explicit hint combined with critical-
// path length, per spec. The explicit hint dominates (an author's
// stated priority always wins); critical-path length only breaks ties
// among actions of equal hint, so that among equally-urgent actions the
// one with more downstream work waiting on it goes first.
//
// Implemented with container/heap, the same approach the standard
// library itself recommends for a priority queue; no third-party heap
// implementation appears anywhere in the example corpus, so this one
// piece of internal/coordinator is stdlib by necessity rather than
// deviation.
package coordinator

import (
	"container/heap"
	"sync"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
)

// Ready is one Action waiting to be dispatched, along with the
// scheduling hints the queue orders by.
type Ready struct {
	Action          action.Action
	ExplicitHint    uint8
	CriticalPathLen int
}

func (r Ready) score() int64 {
	return int64(r.ExplicitHint)<<32 | int64(uint32(r.CriticalPathLen))
}

type readyHeap []Ready

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	return h[i].score() > h[j].score() // max-heap: highest priority first
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) {
	*h = append(*h, x.(Ready))
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a concurrency-safe priority queue of ready Actions.
type Queue struct {
	mu sync.Mutex
	h  readyHeap
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Push enqueues r.
func (q *Queue) Push(r Ready) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, r)
}

// Pop removes and returns the highest-priority Ready action. ok is false
// if the queue is empty.
func (q *Queue) Pop() (Ready, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return Ready{}, false
	}
	return heap.Pop(&q.h).(Ready), true
}

// PopN removes and returns up to n highest-priority ready actions, for
// servicing a WorkRequest with a Max field.
func (q *Queue) PopN(n int) []Ready {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Ready, 0, n)
	for i := 0; i < n && q.h.Len() > 0; i++ {
		out = append(out, heap.Pop(&q.h).(Ready))
	}
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
