package scheduler

import (
	"sort"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/graph"
)

// inputDigestFor computes the canonical input digest for the Node at
// idx: the content digest of each declared source path, plus the output
// digests of every completed dependency, plus the Target's opaque
// Config bag — combined through digest.InputDigest's canonical
// (sorted, NUL-separated) encoding so the same logical inputs always
// produce the same fingerprint regardless of iteration order.
func (s *Scheduler) inputDigestFor(idx graph.NodeIndex) (digest.Digest, error) {
	n := s.g.Node(idx)
	t := n.Target

	var entries []digest.InputEntry
	for _, src := range t.Srcs {
		d, err := s.statCache.File(src)
		if err != nil {
			return "", err
		}
		entries = append(entries, digest.InputEntry{Path: src, Digest: d})
	}

	s.mu.Lock()
	for _, depIdx := range n.Forward {
		dep := s.g.Node(depIdx)
		if result, ok := s.results[depIdx]; ok {
			for path, d := range result.Outputs {
				entries = append(entries, digest.InputEntry{Path: dep.Target.ID + ":" + path, Digest: d})
			}
		}
	}
	s.mu.Unlock()

	configDigest, err := graph.ConfigDigest(t.Config)
	if err != nil {
		return "", err
	}
	entries = append(entries, digest.InputEntry{Path: "\x00config", Digest: configDigest})

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return digest.InputDigest(entries), nil
}
