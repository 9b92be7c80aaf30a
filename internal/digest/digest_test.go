package digest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileMatchesBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	want := Bytes([]byte("hello"))
	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("File = %s, want %s", got, want)
	}
}

func TestInputDigestOrderIndependent(t *testing.T) {
	a := []InputEntry{{Path: "b", Digest: "2"}, {Path: "a", Digest: "1"}}
	b := []InputEntry{{Path: "a", Digest: "1"}, {Path: "b", Digest: "2"}}
	if InputDigest(a) != InputDigest(b) {
		t.Error("InputDigest should be insensitive to input order")
	}
}

func TestStatCacheReusesDigestWhenStatUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mtime := fi.ModTime()

	c := NewStatCache()
	first, err := c.File(path)
	if err != nil {
		t.Fatal(err)
	}

	// Overwrite content but force the same size and mtime: the stat
	// cache should trust its memo and return the stale digest rather
	// than rereading the file.
	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	second, err := c.File(path)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("expected stat cache to short-circuit on unchanged size+mtime, got different digest")
	}

	// Advance mtime: the cache must fall back to a full rehash.
	newMtime := mtime.Add(time.Second)
	if err := os.Chtimes(path, newMtime, newMtime); err != nil {
		t.Fatal(err)
	}
	third, err := c.File(path)
	if err != nil {
		t.Fatal(err)
	}
	want, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if third != want {
		t.Errorf("expected rehash after mtime change, got %s want %s", third, want)
	}
}
