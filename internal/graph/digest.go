package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

// ConfigDigest hashes a Target's opaque per-language configuration bag
// as-is, without interpreting any of its keys. Values are marshaled to
// JSON (so nested structures from a decoded YAML document hash
// consistently) after sorting keys, so the same logical config always
// produces the same digest regardless of map iteration order.
func ConfigDigest(config map[string]interface{}) (digest.Digest, error) {
	if len(config) == 0 {
		return digest.Bytes(nil), nil
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	for _, k := range keys {
		v, err := json.Marshal(config[k])
		if err != nil {
			return "", fmt.Errorf("graph: marshal config key %q: %w", k, err)
		}
		ordered = append(ordered, []byte(k)...)
		ordered = append(ordered, 0)
		ordered = append(ordered, v...)
		ordered = append(ordered, 0)
	}
	return digest.Bytes(ordered), nil
}
