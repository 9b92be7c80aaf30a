package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Limits bounds the store's eviction policy: total bytes, entry count,
// and maximum entry age (spec's BUILDER_ACTION_CACHE_MAX_SIZE/
// _MAX_ENTRIES/_MAX_AGE_DAYS).
type Limits struct {
	MaxBytes   int64
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultLimits matches spec's documented defaults: 1 GiB, 10k entries,
// 30 days.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 1 << 30, MaxEntries: 10_000, MaxAge: 30 * 24 * time.Hour}
}

// Store is the on-disk content-addressed Action Cache: index.bin +
// blobs/ + manifests/ + tmp/, laid out exactly as spec's external
// interface section describes.
type Store struct {
	root   string
	secret []byte
	limits Limits

	mu      sync.Mutex
	entries map[string]signedEntry
	recent  *lru.Cache[string, struct{}] // recency index for eviction

	group singleflight.Group
}

// Open loads (or creates) a Store rooted at root, signing/verifying
// entries with secret (the workspace-bound HMAC key — see DESIGN.md's
// Open Question decision #1).
func Open(root string, secret []byte, limits Limits) (*Store, error) {
	for _, sub := range []string{"blobs", "manifests", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, err
		}
	}
	signed, err := readIndex(filepath.Join(root, "index.bin"))
	if err != nil {
		return nil, errs.New(errs.KindIntegrity, "CacheCorrupted", "", err)
	}

	maxEntries := limits.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultLimits().MaxEntries
	}
	recent, err := lru.New[string, struct{}](maxEntries)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:    root,
		secret:  secret,
		limits:  limits,
		entries: make(map[string]signedEntry, len(signed)),
		recent:  recent,
	}
	for _, se := range signed {
		if !verify(se.Entry, secret, se.Sig) {
			continue // corrupt or foreign entry: silently dropped, per spec's "ignored"
		}
		s.entries[se.Entry.Fingerprint] = se
		s.recent.Add(se.Entry.Fingerprint, struct{}{})
	}
	return s, nil
}

// Lookup returns the cached Result for id iff a valid entry exists whose
// MetadataHash matches the hash of id's metadata (its action kind, the
// same bag storeOnce records). A missing entry or a metadata mismatch is
// a miss, not an error; an entry whose HMAC no longer verifies is
// reported as a KindIntegrity "CacheCorrupted" error.
func (s *Store) Lookup(_ context.Context, id action.ID) (action.Result, bool, error) {
	fp := fingerprintFor(id)

	s.mu.Lock()
	se, ok := s.entries[fp]
	s.mu.Unlock()
	if !ok {
		return action.Result{}, false, nil
	}
	if !verify(se.Entry, s.secret, se.Sig) {
		return action.Result{}, false, errs.New(errs.KindIntegrity, "CacheCorrupted", id.TargetID, nil)
	}
	if se.Entry.MetadataHash != MetadataHashFor(map[string]string{"kind": id.Kind.String()}) {
		return action.Result{}, false, nil
	}

	result := action.Result{
		Status:   action.StatusSuccess,
		ExitCode: 0,
		Outputs:  se.Entry.Outputs,
	}

	s.mu.Lock()
	se.Entry.LastAccess = time.Now()
	s.entries[fp] = se
	s.recent.Add(fp, struct{}{})
	s.mu.Unlock()

	return result, true, nil
}

// Store records result under id's fingerprint: a signed entry holding
// result.Outputs' path → digest map is added and the signed index is
// rewritten atomically. Store does not write output blobs; those are
// archived into the CAS separately by StoreOutputBlob.
//
// Concurrent Store calls for the same fingerprint are deduplicated via
// golang.org/x/sync/singleflight, matching spec's "at most one
// concurrent execution per fingerprint" for the cache-write path too.
func (s *Store) Store(ctx context.Context, id action.ID, result action.Result) error {
	fp := fingerprintFor(id)
	_, err, _ := s.group.Do(fp, func() (interface{}, error) {
		return nil, s.storeOnce(fp, id, result)
	})
	return err
}

func (s *Store) storeOnce(fp string, id action.ID, result action.Result) error {
	entry := Entry{
		Fingerprint: fp,
		MetadataHash: digest.MetadataHash(map[string]string{
			"kind": id.Kind.String(),
		}),
		Outputs:    result.Outputs,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
	}
	var totalSize int64
	for path, d := range result.Outputs {
		fi, err := os.Stat(path)
		if err == nil {
			totalSize += fi.Size()
		}
		_ = d // content already digested by the caller; blob bytes are written by StoreOutputBlob
	}
	entry.SizeBytes = totalSize

	se := signedEntry{Entry: entry, Sig: sign(entry, s.secret)}

	s.mu.Lock()
	s.entries[fp] = se
	s.recent.Add(fp, struct{}{})
	all := make([]signedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	root := s.root
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Entry.Fingerprint < all[j].Entry.Fingerprint })
	if err := writeIndex(filepath.Join(root, "index.bin"), all); err != nil {
		return errs.Wrap(errs.KindIntegrity, "cache", "Store", err)
	}
	return s.evictIfNeeded()
}

// StoreOutputBlob archives the file or directory at localPath into the
// CAS under its content digest, for use by callers (the Sandbox runner)
// once an Action completes and before Store is called with the
// resulting output digest map.
//
// Blobs at or above ChunkThreshold are split into content-defined chunks
// (internal/cache's Split) and stored as a manifest plus per-chunk blobs,
// so a later StoreOutputBlob of a near-identical large file only writes
// the chunks whose content actually changed. Smaller blobs are stored
// whole, unchanged from the original single-file path.
func (s *Store) StoreOutputBlob(localPath string) (digest.Digest, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	var data []byte
	if fi.IsDir() {
		data, err = archiveDir(localPath)
	} else {
		data, err = os.ReadFile(localPath)
	}
	if err != nil {
		return "", err
	}
	d := digest.Bytes(data)

	if int64(len(data)) >= ChunkThreshold {
		manifestPath := manifestPathFor(s.root, d)
		if _, err := os.Stat(manifestPath); err == nil {
			return d, nil // already present, dedup by whole-blob digest
		}
		manifest, err := writeChunkedBlob(s.root, data)
		if err != nil {
			return "", err
		}
		if err := writeManifestAtomic(manifestPath, manifest); err != nil {
			return "", err
		}
		return d, nil
	}

	blobPath := blobPathFor(s.root, d)
	if _, err := os.Stat(blobPath); err == nil {
		return d, nil // already present, dedup by content
	}
	if err := writeBlobAtomic(blobPath, data); err != nil {
		return "", err
	}
	return d, nil
}

// FetchOutputBlob reads back a blob previously stored by StoreOutputBlob,
// writing it to localPath (extracting a cpio archive if isDir is set). A
// chunk manifest for d takes precedence over a whole blob when both
// happen to be present.
func (s *Store) FetchOutputBlob(d digest.Digest, localPath string, isDir bool) error {
	var data []byte
	if manifest, err := os.ReadFile(manifestPathFor(s.root, d)); err == nil {
		data, err = readChunkedBlob(s.root, manifest)
		if err != nil {
			return errs.New(errs.KindIntegrity, "CacheCorrupted", "", err)
		}
	} else {
		data, err = readBlob(blobPathFor(s.root, d))
		if err != nil {
			return errs.New(errs.KindIntegrity, "CacheCorrupted", "", err)
		}
	}
	got := digest.Bytes(data)
	if got != d {
		return errs.New(errs.KindIntegrity, "CacheCorrupted", "",
			fmt.Errorf("blob %s content digest mismatch: got %s", d, got))
	}
	if isDir {
		return extractDir(data, localPath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

// Evict removes entries per the LRU policy bounded by total bytes, entry
// count, and max age — spec's evict(policy). Entry-level removal only:
// blobs and manifests referenced by evicted entries stay on disk.
func (s *Store) Evict() error {
	return s.evictIfNeeded()
}

func (s *Store) evictIfNeeded() error {
	limits := s.limits
	if limits.MaxEntries <= 0 && limits.MaxBytes <= 0 && limits.MaxAge <= 0 {
		limits = DefaultLimits()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var totalBytes int64
	var live []signedEntry
	for _, se := range s.entries {
		if limits.MaxAge > 0 && now.Sub(se.Entry.CreatedAt) > limits.MaxAge {
			delete(s.entries, se.Entry.Fingerprint)
			continue
		}
		live = append(live, se)
		totalBytes += se.Entry.SizeBytes
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].Entry.LastAccess.Before(live[j].Entry.LastAccess)
	})

	for len(live) > 0 && ((limits.MaxEntries > 0 && len(live) > limits.MaxEntries) ||
		(limits.MaxBytes > 0 && totalBytes > limits.MaxBytes)) {
		victim := live[0]
		live = live[1:]
		totalBytes -= victim.Entry.SizeBytes
		delete(s.entries, victim.Entry.Fingerprint)
	}

	all := make([]signedEntry, 0, len(s.entries))
	for _, se := range s.entries {
		all = append(all, se)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Entry.Fingerprint < all[j].Entry.Fingerprint })
	return writeIndex(filepath.Join(s.root, "index.bin"), all)
}
