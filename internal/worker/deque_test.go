package worker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
)

func mkAction(id string) action.Action {
	return action.Action{ID: action.ID{TargetID: id}}
}

func TestDequePushPopLIFO(t *testing.T) {
	d := NewDeque()
	d.PushBottom(mkAction("a"))
	d.PushBottom(mkAction("b"))
	d.PushBottom(mkAction("c"))

	got, ok := d.PopBottom()
	if !ok || got.ID.TargetID != "c" {
		t.Fatalf("PopBottom = %v, %v; want c, true", got.ID.TargetID, ok)
	}
}

func TestDequeStealFIFO(t *testing.T) {
	d := NewDeque()
	d.PushBottom(mkAction("a"))
	d.PushBottom(mkAction("b"))
	d.PushBottom(mkAction("c"))

	got, ok := d.Steal()
	if !ok || got.ID.TargetID != "a" {
		t.Fatalf("Steal = %v, %v; want a, true", got.ID.TargetID, ok)
	}
}

func TestDequeEmptyPopReturnsFalse(t *testing.T) {
	d := NewDeque()
	if _, ok := d.PopBottom(); ok {
		t.Fatal("expected PopBottom on empty deque to return false")
	}
	if _, ok := d.Steal(); ok {
		t.Fatal("expected Steal on empty deque to return false")
	}
}

func TestDequeGrowsBeyondInitialCapacity(t *testing.T) {
	d := NewDeque()
	n := defaultCapacity*2 + 5
	for i := 0; i < n; i++ {
		d.PushBottom(mkAction(fmt.Sprintf("t%d", i)))
	}
	count := 0
	for {
		if _, ok := d.PopBottom(); !ok {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("popped %d items, want %d", count, n)
	}
}

func TestDequeConcurrentStealersNeverDuplicate(t *testing.T) {
	d := NewDeque()
	const n = 2000
	for i := 0; i < n; i++ {
		d.PushBottom(mkAction(fmt.Sprintf("t%d", i)))
	}

	seen := make(chan string, n)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a, ok := d.Steal()
				if !ok {
					if d.Empty() {
						return
					}
					continue
				}
				seen <- a.ID.TargetID
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[string]bool, n)
	for id := range seen {
		if unique[id] {
			t.Fatalf("target %s stolen more than once", id)
		}
		unique[id] = true
	}
	if len(unique) != n {
		t.Fatalf("stole %d unique items, want %d", len(unique), n)
	}
}

func TestDequeStealNRespectsBound(t *testing.T) {
	d := NewDeque()
	for i := 0; i < 10; i++ {
		d.PushBottom(mkAction(fmt.Sprintf("t%d", i)))
	}
	stolen := d.StealN(3)
	if len(stolen) != 3 {
		t.Fatalf("StealN(3) returned %d items, want 3", len(stolen))
	}
	if d.Len() != 7 {
		t.Fatalf("remaining len = %d, want 7", d.Len())
	}
}
