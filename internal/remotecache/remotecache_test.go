package remotecache

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/Builder-sub007/internal/cache"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	srv := &Server{Dir: t.TempDir()}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL)
}

func TestPushThenFetchRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	data := []byte("hello remote cache")

	d, err := client.Push(context.Background(), data)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if d != digest.Bytes(data) {
		t.Fatalf("returned digest %s != expected %s", d, digest.Bytes(data))
	}

	got, err := client.Fetch(context.Background(), d)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("fetched %q, want %q", got, data)
	}
}

func TestFetchMissingReturnsErrNotFound(t *testing.T) {
	_, client := newTestServer(t)
	_, err := client.Fetch(context.Background(), digest.Bytes([]byte("nonexistent")))
	if _, ok := err.(ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %v (%T)", err, err)
	}
}

func TestPushRejectsNothingClientSideDigestIsAlwaysCorrect(t *testing.T) {
	_, client := newTestServer(t)
	// Push always computes the digest from data itself, so there is no
	// way to construct a client-side digest mismatch; this test exists to
	// document that invariant rather than exercise an error path.
	d, err := client.Push(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if d != digest.Bytes([]byte("x")) {
		t.Errorf("digest = %s, want %s", d, digest.Bytes([]byte("x")))
	}
}

func TestHeadReflectsPush(t *testing.T) {
	_, client := newTestServer(t)
	d := digest.Bytes([]byte("not pushed yet"))
	if have, err := client.Head(context.Background(), d); err != nil || have {
		t.Fatalf("Head before Push: have=%v err=%v, want false/nil", have, err)
	}

	pushed, err := client.Push(context.Background(), []byte("not pushed yet"))
	if err != nil {
		t.Fatal(err)
	}
	if have, err := client.Head(context.Background(), pushed); err != nil || !have {
		t.Fatalf("Head after Push: have=%v err=%v, want true/nil", have, err)
	}
}

func TestPushChunkedThenFetchChunkedRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	large := bytes.Repeat([]byte("the quick brown fox jumps over "), (cache.ChunkThreshold/32)+100)

	d, err := client.PushChunked(context.Background(), large)
	if err != nil {
		t.Fatalf("PushChunked: %v", err)
	}
	if d != digest.Bytes(large) {
		t.Fatalf("returned digest %s != expected %s", d, digest.Bytes(large))
	}

	got, err := client.FetchChunked(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchChunked: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Error("FetchChunked result does not match original content")
	}
}

func TestPushChunkedSkipsAlreadyPresentChunks(t *testing.T) {
	_, client := newTestServer(t)
	large := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz012345"), (cache.ChunkThreshold/32)+100)

	if _, err := client.PushChunked(context.Background(), large); err != nil {
		t.Fatalf("first PushChunked: %v", err)
	}
	// Pushing the same content again should Head-dedup every chunk; this
	// mainly documents that PushChunked doesn't error on a fully-deduped
	// second push rather than asserting transfer counts (the test server
	// doesn't expose a byte-transferred counter).
	d2, err := client.PushChunked(context.Background(), large)
	if err != nil {
		t.Fatalf("second PushChunked: %v", err)
	}
	if d2 != digest.Bytes(large) {
		t.Errorf("digest = %s, want %s", d2, digest.Bytes(large))
	}
}
