// Package action defines the value types that cross every component
// boundary in the kernel: Action, ActionId, ActionResult and the resource
// descriptors attached to them. These mirror the external Action
// descriptor / ActionResult contract in spec §6, and are passed by value
// (or by pointer-to-immutable-value) rather than mutated in place, per the
// Design Notes' "Actions and ActionResults are value types passed by move
// across component boundaries."
package action

import (
	"strings"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

// Kind enumerates the action categories a language driver may emit.
type Kind int

const (
	KindCompile Kind = iota
	KindLink
	KindCodegen
	KindTest
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindLink:
		return "link"
	case KindCodegen:
		return "codegen"
	case KindTest:
		return "test"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ID is the canonical fingerprint of an action: (TargetId, Kind, SubID,
// InputDigest). SubID disambiguates per-file actions, e.g. a source path
// for per-file compilation; it is empty when an action has no natural
// sub-unit.
type ID struct {
	TargetID    string
	Kind        Kind
	SubID       string
	InputDigest digest.Digest
}

// String renders a stable fingerprint key ('|'-separated fields), used as
// the cache index key and the singleflight dedup key.
func (id ID) String() string {
	var b strings.Builder
	b.WriteString(id.TargetID)
	b.WriteByte('|')
	b.WriteString(id.Kind.String())
	b.WriteByte('|')
	b.WriteString(id.SubID)
	b.WriteByte('|')
	b.WriteString(string(id.InputDigest))
	return b.String()
}

// Resources describes the hard resource limits enforced by the sandbox
// for one action. MaxCPUTimeMS and WallTimeMS are tracked independently (see
// DESIGN.md's Open Question decision #2): MaxCPUTimeMS bounds
// process-accumulated CPU time, WallTimeMS drives the sandbox's deadline
// timer.
type Resources struct {
	MaxMemoryBytes int64
	MaxCPUTimeMS   int64
	WallTimeMS     int64
}

// Action is the unit of execution handed from the Scheduler to the
// Coordinator (and onward to a Worker's Sandbox).
type Action struct {
	ID ID

	Argv    []string
	Inputs  []string // declared input paths, read-only in the sandbox
	Outputs []string // declared output paths, writable in the sandbox
	Temps   []string // declared temp paths, writable, discarded on exit
	Env     map[string]string

	Resources        Resources
	NetworkHermetic  bool
	Priority         uint8
	CostHintMS       uint32
}

// Status enumerates ActionResult outcomes.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimeout
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Usage is the resource-usage snapshot captured for one execution.
type Usage struct {
	PeakMemBytes int64
	CPUTimeMS    int64
	WallTimeMS   int64
}

// Metadata is result provenance: which worker ran it, and (for a cache
// hit that was replayed rather than executed) where the cached result
// originally came from.
type Metadata struct {
	WorkerID   string
	CachedFrom string
}

// Result is the outcome of one action's execution or cache replay.
type Result struct {
	Status   Status
	ExitCode int32
	Stdout   []byte
	Stderr   []byte

	// Outputs maps each declared output path to the content digest of
	// what was actually present under it after the action exited.
	Outputs map[string]digest.Digest

	Usage    Usage
	Metadata Metadata

	Duration time.Duration
}

// Success reports whether the result represents a usable, cacheable
// outcome.
func (r Result) Success() bool { return r.Status == StatusSuccess && r.ExitCode == 0 }
