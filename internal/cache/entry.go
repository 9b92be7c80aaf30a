// Package cache implements the content-addressed local Action Cache:
// lookup/store/evict over a fingerprint-keyed, HMAC-signed, chunked blob
// store on disk, generalizing the teacher's meta.textproto +
// digest-comparison approach (internal/build/build.go) from "one Linux
// package's build output" to "any Action's declared outputs."
package cache

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

// Entry is the on-disk record for one cached Action outcome: its
// fingerprint, a metadata hash (decoupled from the fingerprint so the
// lookup can additionally require metadata equality per spec), the
// output path → content digest map, and LRU bookkeeping timestamps.
// Entry is integrity-signed with an HMAC computed over its canonical
// bytes; CacheEntry invariant (ii) (metadata-hash mismatch → absent) is
// enforced by the caller comparing MetadataHash before trusting Entry.
type Entry struct {
	Fingerprint  string
	MetadataHash digest.Digest
	Outputs      map[string]digest.Digest
	SizeBytes    int64
	CreatedAt    time.Time
	LastAccess   time.Time
}

// canonicalBytes renders e's fields in a fixed, sorted order so the HMAC
// is reproducible regardless of map iteration order.
func (e Entry) canonicalBytes() []byte {
	var b []byte
	b = append(b, []byte(e.Fingerprint)...)
	b = append(b, 0)
	b = append(b, []byte(e.MetadataHash)...)
	b = append(b, 0)

	keys := make([]string, 0, len(e.Outputs))
	for k := range e.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b = append(b, []byte(k)...)
		b = append(b, 0)
		b = append(b, []byte(e.Outputs[k])...)
		b = append(b, 0)
	}
	return b
}

// sign computes the HMAC-SHA256 of e's canonical bytes keyed by secret,
// hex-encoded for storage alongside the entry.
func sign(e Entry, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(e.canonicalBytes())
	return hex.EncodeToString(mac.Sum(nil))
}

// verify reports whether sig is the correct HMAC for e under secret,
// using constant-time comparison to avoid a timing side channel on the
// integrity check.
func verify(e Entry, secret []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(e.canonicalBytes())
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}

// MetadataHashFor computes the canonical metadata hash for a Lookup
// call's metadata bag, reusing internal/digest's sorted-key hashing.
func MetadataHashFor(meta map[string]string) digest.Digest {
	return digest.MetadataHash(meta)
}

// fingerprintFor renders an action.ID as the cache's string key.
func fingerprintFor(id action.ID) string { return id.String() }
