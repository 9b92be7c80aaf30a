// Package graph implements the build engine's dependency graph and
// scheduler primitives: Target/Node/Graph, topological sort with
// deterministic tie-break, eager cycle detection, the ready-set
// computation, the Node status state machine, and failure propagation.
//
// The graph is backed by an arena of *Node indexed by NodeIndex (an int64
// newtype), per the Design Notes' guidance for cyclic object graphs —
// forward (dependency) and back (dependent) edges are stored as
// []NodeIndex slices on each Node rather than as pointers, so the
// dependent/dependency cycle inherent to a build DAG's invalidation
// back-references is just index cycling, safely comparable and
// serializable.
//
// A derived gonum/graph/simple.DirectedGraph is rebuilt lazily (memoized,
// invalidated on AddTarget/AddDependency) whenever TopologicalSort or
// cycle detection needs gonum's topo.Sort/topo.Unorderable, the same
// library and pattern internal/batch/batch.go used for distri's flat
// package list, generalized here to an arbitrary Target DAG.
package graph

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// NodeIndex is a stable arena index for a Node within a Graph.
type NodeIndex int64

// Node is the runtime projection of a Target into the graph.
type Node struct {
	Index  NodeIndex
	Target Target
	Status Status

	// Forward holds the indices of this Node's dependencies (edges this
	// Node points to). Back holds the indices of this Node's dependents
	// (nodes that point to this one) — a weak, lookup-only relation used
	// for failure propagation, not ownership.
	Forward []NodeIndex
	Back    []NodeIndex
}

type gonumNode struct{ idx NodeIndex }

func (n gonumNode) ID() int64 { return int64(n.idx) }

// Graph is the mapping from TargetId to Node, plus the derived indices
// (dependents back-index, topological order) described in spec. Graph is
// exclusively owned and mutated by one Scheduler within a build session;
// it is not safe to mutate concurrently with TopologicalSort/ReadyNodes
// from multiple goroutines without external synchronization — the
// mutex below only protects the arena and derived-graph cache from
// concurrent readers while the Scheduler applies completion events and a
// status display goroutine reads for reporting.
type Graph struct {
	mu    sync.RWMutex
	nodes []*Node
	byID  map[string]NodeIndex

	derived      *simple.DirectedGraph
	derivedDirty bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		byID:         make(map[string]NodeIndex),
		derivedDirty: true,
	}
}

// AddTarget inserts a new Node in Pending for t. Returns a KindUser
// "DuplicateTarget" error if t.ID is already present.
func (g *Graph) AddTarget(t Target) (NodeIndex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byID[t.ID]; exists {
		return 0, errs.New(errs.KindUser, "DuplicateTarget", t.ID, nil)
	}
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, &Node{Index: idx, Target: t, Status: StatusPending})
	g.byID[t.ID] = idx
	g.derivedDirty = true
	return idx, nil
}

// AddDependency records that the Target at `from` depends on the Target
// at `to`: to must complete before from may become Ready. Returns a
// KindUser "CycleDetected" error if adding the edge would create a cycle,
// checked eagerly via DFS at insertion time rather than deferred to
// TopologicalSort.
func (g *Graph) AddDependency(fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.byID[fromID]
	if !ok {
		return errs.New(errs.KindUser, "MissingInput", fromID, nil)
	}
	to, ok := g.byID[toID]
	if !ok {
		return errs.New(errs.KindUser, "MissingInput", fromID, nil)
	}
	if from == to {
		return nil // self-deps are silently skipped, mirroring the teacher's batch.go
	}
	if path, cyclic := g.reaches(to, from); cyclic {
		ids := make([]string, len(path))
		for i, idx := range path {
			ids[i] = g.nodes[idx].Target.ID
		}
		ids = append([]string{fromID}, ids...)
		return errs.New(errs.KindUser, "CycleDetected", fromID, nil).WithPath(ids)
	}

	fn := g.nodes[from]
	for _, existing := range fn.Forward {
		if existing == to {
			return nil // already recorded
		}
	}
	fn.Forward = append(fn.Forward, to)
	tn := g.nodes[to]
	tn.Back = append(tn.Back, from)
	g.derivedDirty = true
	return nil
}

// reaches reports whether a path exists from `from` to `to` along Forward
// edges (depth-first, visited-set guarded against non-cyclic re-visits
// since the graph is still acyclic at call time), and if so returns the
// path taken as a slice of NodeIndex from `from` up to and including
// `to`. AddDependency(fromID, toID) calls this as reaches(to, from), so
// fromID followed by the returned path traces the whole cycle, starting
// and ending at fromID.
func (g *Graph) reaches(from, to NodeIndex) ([]NodeIndex, bool) {
	if from == to {
		return []NodeIndex{from}, true
	}
	visited := make(map[NodeIndex]bool)
	var dfs func(NodeIndex) []NodeIndex
	dfs = func(n NodeIndex) []NodeIndex {
		if n == to {
			return []NodeIndex{n}
		}
		if visited[n] {
			return nil
		}
		visited[n] = true
		for _, next := range g.nodes[n].Forward {
			if tail := dfs(next); tail != nil {
				return append([]NodeIndex{n}, tail...)
			}
		}
		return nil
	}
	path := dfs(from)
	return path, path != nil
}

// Node returns the Node at idx. Callers must not mutate Status directly;
// use Mark.
func (g *Graph) Node(idx NodeIndex) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[idx]
}

// Lookup returns the NodeIndex for a TargetId.
func (g *Graph) Lookup(id string) (NodeIndex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.byID[id]
	return idx, ok
}

// Len returns the number of Nodes in the Graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) rebuildDerived() {
	dg := simple.NewDirectedGraph()
	for _, n := range g.nodes {
		dg.AddNode(gonumNode{idx: n.Index})
	}
	for _, n := range g.nodes {
		for _, dep := range n.Forward {
			dg.SetEdge(dg.NewEdge(gonumNode{idx: n.Index}, gonumNode{idx: dep}))
		}
	}
	g.derived = dg
	g.derivedDirty = false
}

// TopologicalSort returns a dependency-respecting order over all Nodes:
// dependencies before dependents. Ties (nodes with no ordering
// constraint between them) are broken lexicographically by TargetId, so
// that two runs over the same Graph always produce the same order
// (spec's determinism guarantee).
//
// Cycle detection delegates to gonum's topo.Sort/topo.Unorderable over
// the derived graph, exactly as internal/batch/batch.go does for the
// teacher's flat package list. The actual emitted order, however, is
// computed by a direct Kahn's-algorithm walk over the arena's own
// Forward/Back slices with a sorted ready-frontier, rather than trusting
// gonum's (unspecified) internal tie-break — this keeps the determinism
// guarantee independent of gonum's internals while still reusing gonum
// for the one thing the teacher reaches for it for: detecting cycles.
func (g *Graph) TopologicalSort() ([]NodeIndex, error) {
	g.mu.Lock()
	if g.derivedDirty {
		g.rebuildDerived()
	}
	dg := g.derived
	g.mu.Unlock()

	if _, err := topo.Sort(dg); err != nil {
		if _, ok := err.(topo.Unorderable); ok {
			return nil, errs.New(errs.KindUser, "CycleDetected", "", err)
		}
		return nil, errs.Wrap(errs.KindFatal, "graph", "TopologicalSort", err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	indeg := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		for range n.Forward {
			indeg[n.Index]++
		}
	}
	var frontier []NodeIndex
	for _, n := range g.nodes {
		if indeg[n.Index] == 0 {
			frontier = append(frontier, n.Index)
		}
	}
	less := func(idx []NodeIndex) func(i, j int) bool {
		return func(i, j int) bool { return g.nodes[idx[i]].Target.ID < g.nodes[idx[j]].Target.ID }
	}
	sort.Slice(frontier, less(frontier))

	out := make([]NodeIndex, 0, len(g.nodes))
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		out = append(out, n)
		var newlyReady []NodeIndex
		for _, dependent := range g.nodes[n].Back {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sort.Slice(newlyReady, less(newlyReady))
		frontier = append(frontier, newlyReady...)
		sort.Slice(frontier, less(frontier))
	}
	return out, nil
}

// ReadyNodes returns the indices of all Pending Nodes whose dependencies
// are all terminal-success ({Success, Cached, Skipped}), in ascending
// TargetId order for determinism. ReadyNodes is idempotent: it is a pure
// function of current Node statuses and does not itself mutate the
// Graph — callers transition a returned Node to Ready via Mark.
func (g *Graph) ReadyNodes() []NodeIndex {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []NodeIndex
	for _, n := range g.nodes {
		if n.Status != StatusPending {
			continue
		}
		allSatisfied := true
		for _, dep := range n.Forward {
			if !g.nodes[dep].Status.terminalSuccess() {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, n.Index)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return g.nodes[ready[i]].Target.ID < g.nodes[ready[j]].Target.ID
	})
	return ready
}

// Mark transitions the Node at idx to newStatus. Only the permitted
// transitions in legalTransitions are allowed (Pending→Ready,
// Ready→Running, Running→{Success,Failed,Cached}, Pending→Skipped);
// anything else is a contract violation and returns a KindFatal error,
// since it indicates a bug in the Scheduler rather than a user-facing
// condition.
func (g *Graph) Mark(idx NodeIndex, newStatus Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.nodes[idx]
	if !legal(n.Status, newStatus) {
		return errs.New(errs.KindFatal, "IllegalTransition", n.Target.ID, nil)
	}
	n.Status = newStatus
	return nil
}

// FailurePropagation transitions every transitive dependent of the Node
// at failedIdx from Pending to Skipped, and returns their indices. Nodes
// already past Pending (e.g. Running, or already terminal) are left
// alone — only Pending dependents are skippable, matching the legal
// Pending→Skipped transition.
func (g *Graph) FailurePropagation(failedIdx NodeIndex) []NodeIndex {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skipped []NodeIndex
	visited := make(map[NodeIndex]bool)
	var walk func(NodeIndex)
	walk = func(idx NodeIndex) {
		for _, dependent := range g.nodes[idx].Back {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			n := g.nodes[dependent]
			if n.Status == StatusPending {
				n.Status = StatusSkipped
				skipped = append(skipped, dependent)
			}
			walk(dependent)
		}
	}
	walk(failedIdx)
	sort.Slice(skipped, func(i, j int) bool {
		return g.nodes[skipped[i]].Target.ID < g.nodes[skipped[j]].Target.ID
	})
	return skipped
}
