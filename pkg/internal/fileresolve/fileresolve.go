// Package fileresolve turns a possibly URL-backed gwtypes.LazyFile into
// bytes, for the Content Translator's file-inlining rule (spec.md §4.2
// rule 6: "resolve the file (fetching bytes if URL-backed), base64-encode,
// and inline"). Adapted from the teacher's pkg/internal/fileutil/download.go
// (context-aware GET with a Content-Length/body size cap), narrowed to the
// one entry point every translator's convertFile needs.
package fileresolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inferencegw/core/pkg/gwtypes"
)

// DefaultMaxDownloadSize bounds a single file fetch: large enough for any
// document/image a chat request would plausibly attach, small enough that
// one malicious or misconfigured URL can't exhaust gateway memory.
const DefaultMaxDownloadSize = 64 * 1024 * 1024 // 64 MiB

// DownloadOptions configures Download.
type DownloadOptions struct {
	Timeout time.Duration
	MaxSize int64
	Headers map[string]string
}

func defaultDownloadOptions() DownloadOptions {
	return DownloadOptions{Timeout: 30 * time.Second, MaxSize: DefaultMaxDownloadSize}
}

// Download fetches url with a timeout and a hard size cap, rejecting early
// on an over-limit Content-Length and aborting mid-read if the body turns
// out larger than advertised.
func Download(ctx context.Context, url string, opts DownloadOptions) ([]byte, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultMaxDownloadSize
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fileresolve: building request for %s: %w", url, err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fileresolve: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fileresolve: fetching %s: unexpected status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength > opts.MaxSize {
		return nil, fmt.Errorf("fileresolve: %s exceeds max download size of %d bytes (Content-Length %d)", url, opts.MaxSize, resp.ContentLength)
	}

	limited := io.LimitReader(resp.Body, opts.MaxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("fileresolve: reading %s: %w", url, err)
	}
	if int64(len(data)) > opts.MaxSize {
		return nil, fmt.Errorf("fileresolve: %s exceeds max download size of %d bytes", url, opts.MaxSize)
	}
	return data, nil
}

// Resolve returns f's bytes: already-resolved bytes pass through
// untouched, a URL-backed file is fetched, and a file with neither is an
// empty attachment (the translator's convertFile decides what an empty
// attachment means for its wire format).
func Resolve(ctx context.Context, f *gwtypes.LazyFile) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	if f.IsResolved() {
		return f.Bytes, nil
	}
	if f.URL == "" {
		return nil, nil
	}
	return Download(ctx, f.URL, defaultDownloadOptions())
}
