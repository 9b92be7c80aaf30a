package remotecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/GriffinCanCode/Builder-sub007/internal/cache"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

// Client fetches and publishes content-addressed blobs against a remote
// cache Server. Grounded on internal/repo/reader.go's httpClient (one
// shared client, MaxIdleConnsPerHost tuned for repeated small requests
// against a handful of hosts) and its gzip Accept-Encoding request
// header; unlike reader.go, Client never needs conditional-GET headers
// since a blob's digest already proves its content hasn't changed.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient constructs a Client against baseURL (e.g.
// "http://cache.internal:7070"), sized for many small concurrent
// requests against one remote cache host.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 10},
		},
	}
}

// ErrNotFound indicates the remote cache has no blob for the requested
// digest.
type ErrNotFound struct{ Digest digest.Digest }

func (e ErrNotFound) Error() string { return fmt.Sprintf("remote cache: blob %s not found", e.Digest) }

// Fetch retrieves the blob named by d, verifying its content digest
// matches before returning it: a remote cache is an untrusted peer by
// spec's integrity policy, so its response is re-verified exactly as a
// locally-stored blob would be in internal/cache.
func (c *Client) Fetch(ctx context.Context, d digest.Digest) ([]byte, error) {
	u := c.BaseURL + "/blobs/" + url.PathEscape(string(d))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "remotecache", "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound{Digest: d}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransient, "RemoteCacheUnavailable", "",
			fmt.Errorf("GET %s: status %s", u, resp.Status))
	}

	data := new(bytes.Buffer)
	if _, err := data.ReadFrom(resp.Body); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "remotecache", "fetch", err)
	}

	got := digest.Bytes(data.Bytes())
	if got != d {
		return nil, errs.New(errs.KindIntegrity, "CacheCorrupted", "",
			fmt.Errorf("remote blob %s: content digest mismatch, got %s", d, got))
	}
	return data.Bytes(), nil
}

// Push uploads data under its own content digest, returning that digest.
func (c *Client) Push(ctx context.Context, data []byte) (digest.Digest, error) {
	d := digest.Bytes(data)
	u := c.BaseURL + "/blobs/" + url.PathEscape(string(d))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "remotecache", "push", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindTransient, "RemoteCacheUnavailable", "",
			fmt.Errorf("PUT %s: status %s", u, resp.Status))
	}
	return d, nil
}

// Head reports whether the remote cache already holds a blob for d,
// without transferring its body — used by PushChunked to decide which
// chunks actually need uploading.
func (c *Client) Head(ctx context.Context, d digest.Digest) (bool, error) {
	u := c.BaseURL + "/blobs/" + url.PathEscape(string(d))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, errs.Wrap(errs.KindTransient, "remotecache", "head", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// PushChunked splits data via internal/cache.Split and uploads a manifest
// plus only the chunks the remote doesn't already have (checked with
// Head), implementing spec's "transfer only chunks not already present on
// the peer" for the upload direction.
func (c *Client) PushChunked(ctx context.Context, data []byte) (digest.Digest, error) {
	d := digest.Bytes(data)
	chunks := cache.Split(data)
	for _, chunk := range chunks {
		have, err := c.Head(ctx, chunk.Digest)
		if err != nil {
			return "", err
		}
		if have {
			continue
		}
		if _, err := c.Push(ctx, data[chunk.Offset:chunk.Offset+chunk.Length]); err != nil {
			return "", err
		}
	}

	manifest := cache.EncodeManifest(chunks)
	u := c.BaseURL + "/manifests/" + url.PathEscape(string(d))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(manifest))
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "remotecache", "push-manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindTransient, "RemoteCacheUnavailable", "",
			fmt.Errorf("PUT %s: status %s", u, resp.Status))
	}
	return d, nil
}

// FetchChunked retrieves the manifest for d, fetches each named chunk
// (re-verifying its content digest, same untrusted-peer policy as
// Fetch), and reassembles the whole blob.
func (c *Client) FetchChunked(ctx context.Context, d digest.Digest) ([]byte, error) {
	u := c.BaseURL + "/manifests/" + url.PathEscape(string(d))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "remotecache", "fetch-manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound{Digest: d}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransient, "RemoteCacheUnavailable", "",
			fmt.Errorf("GET %s: status %s", u, resp.Status))
	}
	manifestBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "remotecache", "fetch-manifest", err)
	}

	chunks, err := cache.DecodeManifest(manifestBytes)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, "remotecache", "fetch-manifest", err)
	}
	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		data, err := c.Fetch(ctx, chunk.Digest)
		if err != nil {
			return nil, err
		}
		parts[i] = data
	}
	whole := cache.Reassemble(parts)
	if got := digest.Bytes(whole); got != d {
		return nil, errs.New(errs.KindIntegrity, "CacheCorrupted", "",
			fmt.Errorf("reassembled blob %s content digest mismatch: got %s", d, got))
	}
	return whole, nil
}
