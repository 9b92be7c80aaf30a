package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

// manifestMagic and manifestVersion are the on-disk header for a chunk
// manifest (spec's manifests/<fingerprint>.bin): magic + version byte,
// then a big-endian chunk count, then each chunk's (offset, length,
// digest), mirroring index.bin's header/length-prefixed-field shape in
// index.go.
const (
	manifestMagic   = "BLDM"
	manifestVersion = byte(1)
)

// EncodeManifest serializes chunks to the on-disk manifest format.
func EncodeManifest(chunks []Chunk) []byte {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	w.WriteString(manifestMagic)
	w.WriteByte(manifestVersion)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(chunks)))
	w.Write(countBuf[:])

	for _, c := range chunks {
		var offLen [16]byte
		binary.BigEndian.PutUint64(offLen[:8], uint64(c.Offset))
		binary.BigEndian.PutUint64(offLen[8:], uint64(c.Length))
		w.Write(offLen[:])

		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(c.Digest)))
		w.Write(n[:])
		w.WriteString(string(c.Digest))
	}
	w.Flush()
	return buf.Bytes()
}

// DecodeManifest parses a manifest previously produced by EncodeManifest.
func DecodeManifest(data []byte) ([]Chunk, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("cache: read manifest magic: %w", err)
	}
	if string(magic) != manifestMagic {
		return nil, fmt.Errorf("cache: manifest has wrong magic %q", magic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != manifestVersion {
		return nil, fmt.Errorf("cache: manifest version %d unsupported", version)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	chunks := make([]Chunk, 0, count)
	for i := uint32(0); i < count; i++ {
		var offLen [16]byte
		if _, err := io.ReadFull(r, offLen[:]); err != nil {
			return nil, err
		}
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, err
		}
		dLen := binary.BigEndian.Uint32(n[:])
		dBuf := make([]byte, dLen)
		if _, err := io.ReadFull(r, dBuf); err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{
			Offset: int64(binary.BigEndian.Uint64(offLen[:8])),
			Length: int64(binary.BigEndian.Uint64(offLen[8:])),
			Digest: digest.Digest(dBuf),
		})
	}
	return chunks, nil
}

// Chunk is one content-defined slice of a large blob: its byte offset,
// length, and content digest. No content-defined chunking library was
// found anywhere in the retrieved pack (see DESIGN.md), so the rolling
// hash and boundary rule below are hand-rolled, implementing spec's
// "rolling hash establishes chunk boundaries so insertions/deletions
// only affect local chunks."
type Chunk struct {
	Offset int64
	Length int64
	Digest digest.Digest
}

const (
	// ChunkThreshold is the blob size above which chunked storage is
	// used instead of a single whole-blob entry (spec: 1 MiB).
	ChunkThreshold = 1 << 20

	minChunkSize = 256 << 10  // 256 KiB
	maxChunkSize = 4 << 20    // 4 MiB
	avgChunkSize = 1 << 20    // 1 MiB, target average
	windowSize   = 64
	// chunkMask is sized so that, under a uniform-random rolling hash,
	// a boundary triggers on average every avgChunkSize bytes
	// (2^20 ≈ avgChunkSize, so a 20-bit mask).
	chunkMask = 1<<20 - 1
)

// rollingHash implements Rabin's polynomial rolling hash over a sliding
// window of windowSize bytes, used purely to find content-defined chunk
// boundaries (not a cryptographic digest — each chunk's Digest field is
// computed separately with internal/digest once its boundaries are
// known).
type rollingHash struct {
	window []byte
	pos    int
	full   bool
	hash   uint64
}

const rollingBase uint64 = 1099511628211 // FNV-prime-sized base, arbitrary choice for a non-cryptographic roller

func newRollingHash() *rollingHash {
	return &rollingHash{window: make([]byte, windowSize)}
}

// pow is rollingBase^(windowSize-1) mod 2^64, used to remove the
// outgoing byte's contribution when the window slides.
var pow = func() uint64 {
	p := uint64(1)
	for i := 0; i < windowSize-1; i++ {
		p *= rollingBase
	}
	return p
}()

func (r *rollingHash) roll(b byte) uint64 {
	if r.full {
		out := r.window[r.pos]
		r.hash -= uint64(out) * pow
	}
	r.hash = r.hash*rollingBase + uint64(b)
	r.window[r.pos] = b
	r.pos = (r.pos + 1) % windowSize
	if r.pos == 0 {
		r.full = true
	}
	return r.hash
}

// Split divides data into content-defined chunks: a boundary is declared
// when the rolling hash's low bits are all zero (chunkMask), subject to
// minChunkSize/maxChunkSize bounds. Returns the chunk list and, for each
// chunk, its content digest.
func Split(data []byte) []Chunk {
	if int64(len(data)) < ChunkThreshold {
		return []Chunk{{Offset: 0, Length: int64(len(data)), Digest: digest.Bytes(data)}}
	}

	var chunks []Chunk
	roller := newRollingHash()
	start := 0
	for i := 0; i < len(data); i++ {
		h := roller.roll(data[i])
		size := i - start + 1
		atBoundary := size >= minChunkSize && (h&chunkMask) == 0
		if atBoundary || size >= maxChunkSize || i == len(data)-1 {
			chunk := data[start : i+1]
			chunks = append(chunks, Chunk{
				Offset: int64(start),
				Length: int64(len(chunk)),
				Digest: digest.Bytes(chunk),
			})
			start = i + 1
			roller = newRollingHash()
		}
	}
	return chunks
}

// Reassemble concatenates the byte ranges named by chunks (already
// content-addressed and resolved by the caller) back into one contiguous
// blob for the chunking round-trip property: Reassemble(Split(f)) == f.
func Reassemble(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
