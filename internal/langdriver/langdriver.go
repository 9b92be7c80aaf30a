// Package langdriver implements the Scheduler's LangDriver capability
// interface: turning a Target into an Action, and discovering any
// Targets an ActionResult's outputs imply (e.g. generated sources that
// need their own downstream actions).
//
// This collapses the teacher's five per-language build drivers
// (internal/build/buildc.go, buildcmake.go, buildmeson.go, buildpython.go,
// buildproto.go — a deep inheritance-style hierarchy of one build method
// per language) into a single small interface with a handful of
// concrete, composable implementations, per the Design Notes' "deep
// inheritance hierarchies" guidance.
package langdriver

import (
	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
)

// Driver produces an Action for a Target and may discover further
// Targets from a completed Action's outputs (e.g. a codegen step that
// emits sources which themselves need compiling).
type Driver interface {
	// ProduceAction builds the Action that realizes target, given the
	// content digest of its resolved inputs (already computed by the
	// caller from target.Srcs and target.Deps's outputs).
	ProduceAction(target graph.Target, inputDigest digest.Digest) (action.Action, error)

	// DiscoverOutputs inspects a completed Result and returns any
	// further Targets it implies. Most drivers return nil; only
	// codegen-style drivers populate this.
	DiscoverOutputs(target graph.Target, result action.Result) ([]graph.Target, error)
}

// Registry dispatches to a Driver by a Target's Lang tag, falling back to
// Generic when no specific driver is registered.
type Registry struct {
	byLang   map[string]Driver
	fallback Driver
}

// NewRegistry creates a Registry whose unregistered-language fallback is
// Generic (a driver that runs target.Config["cmd"] verbatim).
func NewRegistry() *Registry {
	return &Registry{byLang: make(map[string]Driver), fallback: Generic{}}
}

// Register associates lang with d; Register("shell", Shell{}) etc.
func (r *Registry) Register(lang string, d Driver) {
	r.byLang[lang] = d
}

// For returns the Driver registered for lang, or the fallback.
func (r *Registry) For(lang string) Driver {
	if d, ok := r.byLang[lang]; ok {
		return d
	}
	return r.fallback
}
