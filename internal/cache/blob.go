package cache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

// archiveDir packs dir into a single cpio stream, deterministically
// ordered by path so the same directory tree always produces the same
// bytes (and therefore the same content digest). This generalizes the
// teacher's initrdWriter.mirror cpio-writing idiom
// (cmd/distri/initrd.go, since removed) from "build an initrd image"
// to "archive a declared directory output into one CAS blob."
func archiveDir(dir string) ([]byte, error) {
	var paths []string
	if err := filepath.Walk(dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	w := cpio.NewWriter(&buf)
	for _, rel := range paths {
		full := filepath.Join(dir, rel)
		fi, err := os.Lstat(full)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			if err := w.WriteHeader(&cpio.Header{Name: rel + "/", Mode: cpio.ModeDir | 0755}); err != nil {
				return nil, err
			}
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return nil, err
			}
			if err := w.WriteHeader(&cpio.Header{Name: rel, Mode: cpio.ModeSymlink | 0644, Size: int64(len(target))}); err != nil {
				return nil, err
			}
			if _, err := w.Write([]byte(target)); err != nil {
				return nil, err
			}
			continue
		}
		f, err := os.Open(full)
		if err != nil {
			return nil, err
		}
		if err := w.WriteHeader(&cpio.Header{Name: rel, Mode: cpio.FileMode(fi.Mode().Perm()), Size: fi.Size()}); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractDir unpacks a cpio archive produced by archiveDir into dir.
func extractDir(archive []byte, dir string) error {
	r := cpio.NewReader(bytes.NewReader(archive))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, hdr.Name)
		switch {
		case hdr.Mode&cpio.ModeDir != 0:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case hdr.Mode&cpio.ModeSymlink != 0:
			link, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(string(link), target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := renameio.TempFile("", target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, r); err != nil {
				f.Cleanup()
				return err
			}
			if err := f.CloseAtomicallyReplace(); err != nil {
				return err
			}
			if err := os.Chmod(target, os.FileMode(hdr.Mode.Perm())); err != nil {
				return err
			}
		}
	}
}

// writeBlobAtomic compresses data with pgzip (parallel gzip, matching
// the teacher's squashfs block-compression role) and writes it to path
// via a temp-file-then-rename, so concurrent readers never observe a
// torn write (spec's shared cache-directory policy).
func writeBlobAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer f.Cleanup()

	gw := pgzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// readBlob decompresses the blob stored at path.
func readBlob(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("cache: corrupt blob %s: %w", path, err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// blobPathFor returns the on-disk path for the whole-blob or per-chunk
// blob named by d, sharded by its first two hex characters (the same
// fan-out index.bin's fingerprint lookup avoids needing).
func blobPathFor(root string, d digest.Digest) string {
	return filepath.Join(root, "blobs", string(d)[:2], string(d))
}

// manifestPathFor returns the on-disk path for the chunk manifest of the
// blob whose whole-content digest is d (spec's manifests/<fingerprint>.bin).
func manifestPathFor(root string, d digest.Digest) string {
	return filepath.Join(root, "manifests", string(d)+".bin")
}

// writeChunkedBlob splits data into content-defined chunks (internal/cache's
// Split), writes each chunk as its own pgzip-compressed blob keyed by the
// chunk's own content digest (skipping any chunk already present, so an
// edit that only touches a few chunks only writes those), and returns the
// encoded manifest recording (offset, length, digest) per chunk.
func writeChunkedBlob(root string, data []byte) ([]byte, error) {
	chunks := Split(data)
	for _, c := range chunks {
		path := blobPathFor(root, c.Digest)
		if _, err := os.Stat(path); err == nil {
			continue // already present, dedup by content
		}
		if err := writeBlobAtomic(path, data[c.Offset:c.Offset+c.Length]); err != nil {
			return nil, err
		}
	}
	return EncodeManifest(chunks), nil
}

// readChunkedBlob reads back a blob stored by writeChunkedBlob: decode the
// manifest, fetch and verify each chunk blob, then Reassemble.
func readChunkedBlob(root string, manifest []byte) ([]byte, error) {
	chunks, err := DecodeManifest(manifest)
	if err != nil {
		return nil, err
	}
	parts := make([][]byte, len(chunks))
	for i, c := range chunks {
		data, err := readBlob(blobPathFor(root, c.Digest))
		if err != nil {
			return nil, err
		}
		if got := digest.Bytes(data); got != c.Digest {
			return nil, fmt.Errorf("cache: chunk %s content digest mismatch: got %s", c.Digest, got)
		}
		parts[i] = data
	}
	return Reassemble(parts), nil
}

// writeManifestAtomic writes a chunk manifest to path via temp-file-then-
// rename, the same atomicity guarantee writeBlobAtomic gives whole blobs.
func writeManifestAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}
