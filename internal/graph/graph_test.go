package graph

import (
	"testing"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

func mustAdd(t *testing.T, g *Graph, id string) NodeIndex {
	t.Helper()
	idx, err := g.AddTarget(Target{ID: id, Kind: KindLibrary})
	if err != nil {
		t.Fatalf("AddTarget(%q): %v", id, err)
	}
	return idx
}

func TestAddTargetRejectsDuplicate(t *testing.T) {
	g := New()
	mustAdd(t, g, "//a")
	_, err := g.AddTarget(Target{ID: "//a"})
	if err == nil {
		t.Fatal("expected error adding duplicate target")
	}
	if e, ok := err.(*errs.Error); !ok || e.Code != "DuplicateTarget" {
		t.Fatalf("got %v, want DuplicateTarget", err)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := New()
	mustAdd(t, g, "//a")
	mustAdd(t, g, "//b")
	mustAdd(t, g, "//c")

	if err := g.AddDependency("//a", "//b"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := g.AddDependency("//b", "//c"); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	err := g.AddDependency("//c", "//a")
	if err == nil {
		t.Fatal("expected cycle error for c->a")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Code != "CycleDetected" {
		t.Fatalf("got %v, want CycleDetected", err)
	}
	wantPath := []string{"//c", "//a", "//b", "//c"}
	if len(e.Path) != len(wantPath) {
		t.Fatalf("Path = %v, want %v", e.Path, wantPath)
	}
	for i := range wantPath {
		if e.Path[i] != wantPath[i] {
			t.Fatalf("Path = %v, want %v", e.Path, wantPath)
		}
	}
}

func TestAddDependencySkipsSelfEdge(t *testing.T) {
	g := New()
	mustAdd(t, g, "//a")
	if err := g.AddDependency("//a", "//a"); err != nil {
		t.Fatalf("self dependency should be a no-op, got %v", err)
	}
}

// buildDiamond builds r <- l1, r <- l2, l1 <- app, l2 <- app (app depends
// on l1 and l2; both depend on r).
func buildDiamond(t *testing.T) (*Graph, map[string]NodeIndex) {
	t.Helper()
	g := New()
	ids := map[string]NodeIndex{}
	for _, id := range []string{"//r", "//l1", "//l2", "//app"} {
		ids[id] = mustAdd(t, g, id)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(g.AddDependency("//l1", "//r"))
	must(g.AddDependency("//l2", "//r"))
	must(g.AddDependency("//app", "//l1"))
	must(g.AddDependency("//app", "//l2"))
	return g, ids
}

func TestTopologicalSortDeterministic(t *testing.T) {
	g, _ := buildDiamond(t)
	order1, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	order2, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	if len(order1) != len(order2) {
		t.Fatalf("length mismatch: %d vs %d", len(order1), len(order2))
	}
	for i := range order1 {
		if order1[i] != order2[i] {
			t.Fatalf("order not deterministic at %d: %v vs %v", i, order1, order2)
		}
	}
	// r must come before l1 and l2; l1 and l2 must come before app.
	pos := map[NodeIndex]int{}
	for i, idx := range order1 {
		pos[idx] = i
	}
	rIdx, _ := g.Lookup("//r")
	l1Idx, _ := g.Lookup("//l1")
	l2Idx, _ := g.Lookup("//l2")
	appIdx, _ := g.Lookup("//app")
	if pos[rIdx] >= pos[l1Idx] || pos[rIdx] >= pos[l2Idx] {
		t.Errorf("r must precede l1 and l2: order=%v", order1)
	}
	if pos[l1Idx] >= pos[appIdx] || pos[l2Idx] >= pos[appIdx] {
		t.Errorf("l1/l2 must precede app: order=%v", order1)
	}
}

func TestReadyNodesDiamond(t *testing.T) {
	g, ids := buildDiamond(t)

	ready := g.ReadyNodes()
	if len(ready) != 1 || ready[0] != ids["//r"] {
		t.Fatalf("expected only //r ready, got %v", ready)
	}

	if err := g.Mark(ids["//r"], StatusReady); err != nil {
		t.Fatal(err)
	}
	if err := g.Mark(ids["//r"], StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := g.Mark(ids["//r"], StatusSuccess); err != nil {
		t.Fatal(err)
	}

	ready = g.ReadyNodes()
	if len(ready) != 2 {
		t.Fatalf("expected l1 and l2 ready after r succeeds, got %v", ready)
	}
}

func TestMarkRejectsIllegalTransition(t *testing.T) {
	g := New()
	idx := mustAdd(t, g, "//a")
	err := g.Mark(idx, StatusRunning) // Pending->Running is not legal
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	if errs.KindOf(err) != errs.KindFatal {
		t.Fatalf("illegal transition should be KindFatal, got %v", errs.KindOf(err))
	}
}

func TestFailurePropagationSkipsOnlyDescendants(t *testing.T) {
	g, ids := buildDiamond(t)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(g.Mark(ids["//r"], StatusReady))
	must(g.Mark(ids["//r"], StatusRunning))
	must(g.Mark(ids["//r"], StatusSuccess))
	must(g.Mark(ids["//l1"], StatusReady))
	must(g.Mark(ids["//l1"], StatusRunning))
	must(g.Mark(ids["//l1"], StatusFailed))

	skipped := g.FailurePropagation(ids["//l1"])
	if len(skipped) != 1 || skipped[0] != ids["//app"] {
		t.Fatalf("expected only //app skipped, got %v", skipped)
	}
	if g.Node(ids["//app"]).Status != StatusSkipped {
		t.Errorf("//app should be Skipped, got %v", g.Node(ids["//app"]).Status)
	}
	if g.Node(ids["//l2"]).Status != StatusPending {
		t.Errorf("//l2 should remain Pending (independent sibling), got %v", g.Node(ids["//l2"]).Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSuccess, StatusFailed, StatusCached, StatusSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusReady, StatusRunning}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}
