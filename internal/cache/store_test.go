package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

func testID(target string) action.ID {
	return action.ID{TargetID: target, Kind: action.KindCompile, InputDigest: digest.Bytes([]byte(target))}
}

func TestStoreLookupMiss(t *testing.T) {
	s, err := Open(t.TempDir(), []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Lookup(context.Background(), testID("//a"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestStoreThenLookupHit(t *testing.T) {
	s, err := Open(t.TempDir(), []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	id := testID("//a")
	result := action.Result{
		Status:   action.StatusSuccess,
		Outputs:  map[string]digest.Digest{"out/a.o": digest.Bytes([]byte("object code"))},
	}
	if err := s.Store(context.Background(), id, result); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := s.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after Store")
	}
	if got.Outputs["out/a.o"] != result.Outputs["out/a.o"] {
		t.Errorf("output digest mismatch: got %v, want %v", got.Outputs, result.Outputs)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	id := testID("//a")
	result := action.Result{Outputs: map[string]digest.Digest{"a.o": digest.Bytes([]byte("x"))}}

	s1, err := Open(dir, []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Store(context.Background(), id, result); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s2.Lookup(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to survive reopening the store")
	}
}

func TestStoreRejectsTamperedSecretOnReopen(t *testing.T) {
	dir := t.TempDir()
	id := testID("//a")
	result := action.Result{Outputs: map[string]digest.Digest{"a.o": digest.Bytes([]byte("x"))}}

	s1, err := Open(dir, []byte("secret-a"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Store(context.Background(), id, result); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, []byte("secret-b"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s2.Lookup(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("entry signed with a different secret should not verify")
	}
}

func TestEvictByMaxEntries(t *testing.T) {
	s, err := Open(t.TempDir(), []byte("secret"), Limits{MaxEntries: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"//a", "//b", "//c"} {
		id := testID(name)
		result := action.Result{Outputs: map[string]digest.Digest{"o": digest.Bytes([]byte(name))}}
		if err := s.Store(context.Background(), id, result); err != nil {
			t.Fatal(err)
		}
		// ensure distinct LastAccess ordering
		_ = i
		time.Sleep(time.Millisecond)
	}
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	if n > 2 {
		t.Errorf("expected at most 2 entries after eviction, got %d", n)
	}
}

func TestStoreOutputBlobWholeRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "small.txt")
	if err := os.WriteFile(src, []byte("small output"), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := s.StoreOutputBlob(src)
	if err != nil {
		t.Fatalf("StoreOutputBlob: %v", err)
	}

	out := filepath.Join(t.TempDir(), "restored.txt")
	if err := s.FetchOutputBlob(d, out, false); err != nil {
		t.Fatalf("FetchOutputBlob: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "small output" {
		t.Errorf("got %q, want %q", got, "small output")
	}
}

func TestStoreOutputBlobChunkedRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), []byte("secret"), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}

	// A blob above ChunkThreshold takes the chunked storage path.
	large := bytes.Repeat([]byte("0123456789abcdef"), (ChunkThreshold/16)+1024)
	src := filepath.Join(t.TempDir(), "large.bin")
	if err := os.WriteFile(src, large, 0644); err != nil {
		t.Fatal(err)
	}
	d, err := s.StoreOutputBlob(src)
	if err != nil {
		t.Fatalf("StoreOutputBlob: %v", err)
	}
	if _, err := os.Stat(manifestPathFor(s.root, d)); err != nil {
		t.Fatalf("expected a chunk manifest on disk: %v", err)
	}

	out := filepath.Join(t.TempDir(), "restored.bin")
	if err := s.FetchOutputBlob(d, out, false); err != nil {
		t.Fatalf("FetchOutputBlob: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, large) {
		t.Error("round-tripped chunked blob does not match original content")
	}
}
