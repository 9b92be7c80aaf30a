// Package remotecache implements the remote cache tier's HTTP client and
// server: a flat content-addressed blob store served over HTTP, so a
// build farm can share cache entries across machines without every
// worker hitting the same local cache.Store.
//
// Grounded on cmd/distri-repobrowser/repobrowser.go's
// mux+errHandlerFunc+http.FileServer idiom for the server side, and
// internal/repo/reader.go's conditional-GET-plus-gzip reader for the
// client side. Blobs here are content-addressed (the digest is the
// cache key), so unlike reader.go's If-Modified-Since freshness check
// (reasonable for mutable package metadata), a client that already has
// a blob never needs to revalidate it: the same digest can only ever
// name the same bytes.
package remotecache

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/lpar/gzipped/v2"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

// Server serves and accepts content-addressed blobs rooted at Dir, named
// by their raw content digest. gzipped.FileServer negotiates
// Accept-Encoding itself (serving a precompressed sibling if one exists,
// compressing on the fly otherwise), so blobs are stored uncompressed
// here and compression is purely a transport-layer concern, unlike
// internal/cache's on-disk store where the blob itself is always
// pgzip-compressed at rest.
type Server struct {
	Dir string
}

// Handler returns the http.Handler implementing GET (fetch by digest)
// and PUT (publish a new blob), grounded on repobrowser.go's
// errHandlerFunc pattern (log the error server-side, report it to the
// client as 500 rather than panicking the handler goroutine).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	fileServer := http.StripPrefix("/blobs/", gzipped.FileServer(http.Dir(s.Dir)))
	mux.Handle("/blobs/", errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method == http.MethodPut {
			return s.put(w, r)
		}
		fileServer.ServeHTTP(w, r)
		return nil
	}))
	mux.Handle("/manifests/", errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		return s.manifest(w, r)
	}))
	return mux
}

func (s *Server) put(w http.ResponseWriter, r *http.Request) error {
	d := strings.TrimPrefix(r.URL.Path, "/blobs/")
	if d == "" {
		http.Error(w, "missing digest", http.StatusBadRequest)
		return nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	got := digest.Bytes(data)
	if string(got) != d {
		http.Error(w, "digest mismatch", http.StatusBadRequest)
		return errs.New(errs.KindIntegrity, "CacheCorrupted", "", fmt.Errorf("uploaded blob digest %s != path %s", got, d))
	}

	path := filepath.Join(s.Dir, d)
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

// manifest serves GET/HEAD/PUT for a chunk manifest named by its
// whole-blob digest, stored flat under Dir/manifests/<d>. Unlike
// blobs/ there's no gzipped.FileServer here: manifests are small
// (offset/length/digest triples) and don't benefit from the
// precompressed-sibling machinery, so a plain ReadFile/WriteFile round
// trip is all this needs.
func (s *Server) manifest(w http.ResponseWriter, r *http.Request) error {
	d := strings.TrimPrefix(r.URL.Path, "/manifests/")
	if d == "" {
		http.Error(w, "missing digest", http.StatusBadRequest)
		return nil
	}
	path := filepath.Join(s.Dir, "manifests", d)

	switch r.Method {
	case http.MethodHead:
		if _, err := os.Stat(path); err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return nil
		}
		w.WriteHeader(http.StatusOK)
		return nil

	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := renameio.WriteFile(path, data, 0644); err != nil {
			return err
		}
		w.WriteHeader(http.StatusCreated)
		return nil

	default:
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "not found", http.StatusNotFound)
				return nil
			}
			return err
		}
		w.Write(data)
		return nil
	}
}

func errHandlerFunc(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("remotecache: serving error: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
