// Package targetfile loads a build's declarative target graph from a YAML
// document on disk into internal/graph.Target values and wires them into a
// graph.Graph. This stands in for the out-of-scope manifest-parser
// collaborator (spec's "manifest parsing, language-specific rule
// definitions... are the responsibility of a separate component"): the
// core only needs something that produces graph.Target values, and YAML is
// the least-ceremony way to hand it a fixture or a hand-written build file
// in this repo, grounded on the yaml.v3 struct-tag idiom used throughout
// the example corpus (e.g. the ziti config loader's `yaml:"..."` tags).
package targetfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
)

// Target mirrors graph.Target field-for-field, adding yaml tags and
// expressing Kind as a string so a target file stays human-writable
// ("executable", "library", "test", "custom") instead of an opaque
// integer.
type Target struct {
	ID     string                 `yaml:"id"`
	Kind   string                 `yaml:"kind"`
	Srcs   []string               `yaml:"srcs"`
	Deps   []string               `yaml:"deps"`
	Lang   string                 `yaml:"lang"`
	Config map[string]interface{} `yaml:"config"`
}

// File is the root document shape: a flat, ordered list of targets. Order
// in the file has no semantic meaning (the graph determines build order),
// but preserving it makes diffs against a hand-edited file legible.
type File struct {
	Targets []Target `yaml:"targets"`
}

// kindByName maps a target file's textual kind to graph.TargetKind.
// Unrecognized kinds are a UserError, not a silent fallback to KindCustom,
// since a typo'd kind should fail target-file loading rather than quietly
// change an action's cache key shape downstream.
func kindByName(name string) (graph.TargetKind, error) {
	switch name {
	case "executable", "":
		return graph.KindExecutable, nil
	case "library":
		return graph.KindLibrary, nil
	case "test":
		return graph.KindTest, nil
	case "custom":
		return graph.KindCustom, nil
	default:
		return 0, fmt.Errorf("unknown target kind %q", name)
	}
}

// Parse decodes a target file document from data.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, errs.New(errs.KindUser, "MalformedTargetFile", "", err)
	}
	return f, nil
}

// Load reads and parses a target file from path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errs.New(errs.KindUser, "MalformedTargetFile", path, err)
	}
	return Parse(data)
}

// graphTargets converts every decoded Target into a graph.Target, failing
// on the first target with an unrecognized kind.
func (f File) graphTargets() ([]graph.Target, error) {
	out := make([]graph.Target, 0, len(f.Targets))
	for _, t := range f.Targets {
		kind, err := kindByName(t.Kind)
		if err != nil {
			return nil, errs.New(errs.KindUser, "MalformedTargetFile", t.ID, err)
		}
		out = append(out, graph.Target{
			ID:     t.ID,
			Kind:   kind,
			Srcs:   t.Srcs,
			Deps:   t.Deps,
			Lang:   t.Lang,
			Config: t.Config,
		})
	}
	return out, nil
}

// BuildGraph decodes every target in f and adds it to g, then wires every
// declared dependency edge. Targets must appear before anything that
// depends on them is added is not required: AddTarget only needs the id
// namespace, and AddDependency can reference either direction's id
// regardless of insertion order.
func (f File) BuildGraph(g *graph.Graph) error {
	targets, err := f.graphTargets()
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := g.AddTarget(t); err != nil {
			return err
		}
	}
	for _, t := range targets {
		for _, dep := range t.Deps {
			if err := g.AddDependency(t.ID, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadGraph is the common-case entry point: read path, decode it, and
// build a fresh graph.Graph from it.
func LoadGraph(path string) (*graph.Graph, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	g := graph.New()
	if err := f.BuildGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}
