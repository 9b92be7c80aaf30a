package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
	"github.com/GriffinCanCode/Builder-sub007/internal/targetfile"
)

func cmdGraph(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	targetFile := fs.String("f", "targets.yaml", "path to the target file")
	fs.Parse(args)

	sub := "visualize"
	rest := fs.Args()
	if len(rest) > 0 {
		sub, rest = rest[0], rest[1:]
	}

	g, err := targetfile.LoadGraph(*targetFile)
	if err != nil {
		return err
	}

	switch sub {
	case "visualize":
		return writeDOT(os.Stdout, g)
	case "order":
		return writeOrder(os.Stdout, g)
	default:
		return errs.New(errs.KindUser, "UnknownSubcommand", sub, nil)
	}
}

// writeDOT emits a minimal Graphviz DOT rendering of g: one node per
// Target, one edge per dependency, so `builder graph visualize | dot -Tsvg`
// produces a diagram an operator can use to locate a cycle (the
// suggestion errs.Suggestion gives for a CycleDetected error).
func writeDOT(w *os.File, g *graph.Graph) error {
	fmt.Fprintln(w, "digraph targets {")
	for i := 0; i < g.Len(); i++ {
		n := g.Node(graph.NodeIndex(i))
		fmt.Fprintf(w, "  %q [label=%q];\n", n.Target.ID, fmt.Sprintf("%s (%s)", n.Target.ID, n.Status))
		for _, dep := range n.Forward {
			fmt.Fprintf(w, "  %q -> %q;\n", n.Target.ID, g.Node(dep).Target.ID)
		}
	}
	fmt.Fprintln(w, "}")
	return nil
}

// writeOrder prints the deterministic build order TopologicalSort would
// drive a Scheduler through, one target id per line.
func writeOrder(w *os.File, g *graph.Graph) error {
	order, err := g.TopologicalSort()
	if err != nil {
		return err
	}
	for _, idx := range order {
		fmt.Fprintln(w, g.Node(idx).Target.ID)
	}
	return nil
}
