package langdriver

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
)

// configString reads a string-valued key from a Target's opaque Config
// bag, returning ok=false if absent or not a string.
func configString(t graph.Target, key string) (string, bool) {
	v, ok := t.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// configStringSlice reads a []interface{} or []string valued key as a
// []string, the shape gopkg.in/yaml.v3 decodes a YAML sequence into when
// the target's Config bag is decoded generically.
func configStringSlice(t graph.Target, key string) []string {
	v, ok := t.Config[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Generic runs a single command line given verbatim in
// Target.Config["cmd"] (a []string argv), the fallback driver for any
// Target whose Lang has no dedicated entry in a Registry — generalizing
// the teacher's single-command build steps (e.g. buildc.go's configure
// and make invocations) into one driver parameterized entirely by
// configuration instead of one Go type per language.
type Generic struct{}

func (Generic) ProduceAction(t graph.Target, inputDigest digest.Digest) (action.Action, error) {
	argv := configStringSlice(t, "cmd")
	if len(argv) == 0 {
		return action.Action{}, errs.New(errs.KindUser, "MissingInput", t.ID,
			fmt.Errorf("target %s: lang %q has no registered driver and no config.cmd", t.ID, t.Lang))
	}
	return action.Action{
		ID: action.ID{
			TargetID:    t.ID,
			Kind:        kindForTarget(t),
			InputDigest: inputDigest,
		},
		Argv:    argv,
		Inputs:  t.Srcs,
		Outputs: configStringSlice(t, "outputs"),
		Env:     stringMap(t, "env"),
	}, nil
}

func (Generic) DiscoverOutputs(graph.Target, action.Result) ([]graph.Target, error) { return nil, nil }

// Shell runs Target.Config["script"] through /bin/sh -c, for targets that
// are more naturally expressed as a short shell snippet than an argv
// list (the teacher's buildc.go autoreconf steps use exactly this
// `/bin/sh -c "..."` shape).
type Shell struct{}

func (Shell) ProduceAction(t graph.Target, inputDigest digest.Digest) (action.Action, error) {
	script, ok := configString(t, "script")
	if !ok || strings.TrimSpace(script) == "" {
		return action.Action{}, errs.New(errs.KindUser, "MissingInput", t.ID,
			fmt.Errorf("target %s: lang \"shell\" requires config.script", t.ID))
	}
	return action.Action{
		ID: action.ID{
			TargetID:    t.ID,
			Kind:        kindForTarget(t),
			InputDigest: inputDigest,
		},
		Argv:    []string{"/bin/sh", "-c", script},
		Inputs:  t.Srcs,
		Outputs: configStringSlice(t, "outputs"),
		Env:     stringMap(t, "env"),
	}, nil
}

func (Shell) DiscoverOutputs(graph.Target, action.Result) ([]graph.Target, error) { return nil, nil }

// Noop produces an Action with no argv, which the Scheduler completes as
// a success without dispatching — used for a Target that exists purely
// to group dependencies (a phony aggregate target), mirroring the
// teacher's occasional package with no build steps, only dependencies.
type Noop struct{}

func (Noop) ProduceAction(t graph.Target, inputDigest digest.Digest) (action.Action, error) {
	return action.Action{
		ID: action.ID{TargetID: t.ID, Kind: action.KindCustom, InputDigest: inputDigest},
	}, nil
}

func (Noop) DiscoverOutputs(graph.Target, action.Result) ([]graph.Target, error) { return nil, nil }

func kindForTarget(t graph.Target) action.Kind {
	switch t.Kind {
	case graph.KindExecutable:
		return action.KindLink
	case graph.KindTest:
		return action.KindTest
	case graph.KindLibrary:
		return action.KindCompile
	default:
		return action.KindCustom
	}
}

func stringMap(t graph.Target, key string) map[string]string {
	v, ok := t.Config[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, vv := range raw {
		if s, ok := vv.(string); ok {
			out[k] = s
		}
	}
	return out
}
