// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/palaver/internal/xdg"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// DefaultFetchTimeout bounds a single bundle download.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher retrieves bundle bytes for a trusted descriptor.
type Fetcher interface {
	Fetch(ctx context.Context, d Descriptor) ([]byte, error)
}

// HTTPFetcher downloads bundles from a catalog. Interrupted downloads are
// kept in a cache directory and resumed with a range request on the next
// attempt.
type HTTPFetcher struct {
	client   *http.Client
	token    string
	cacheDir string
	timeout  time.Duration
	logger   *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) FetcherOption {
	return func(f *HTTPFetcher) { f.token = token }
}

// WithCacheDir sets where partial downloads are kept.
func WithCacheDir(dir string) FetcherOption {
	return func(f *HTTPFetcher) { f.cacheDir = dir }
}

// WithFetchTimeout bounds each Fetch call.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{},
		cacheDir: xdg.BundleCacheDir(),
		timeout:  DefaultFetchTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the bundle for d.
func (f *HTTPFetcher) Fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := xdg.EnsureDir(f.cacheDir); err != nil {
		return nil, f.errb(d).Errorf("prepare bundle cache: %v", err)
	}

	part := f.PartialPath(d.Name)
	if err := f.download(ctx, d, part); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(part) //nolint:gosec // path built from a validated plugin name
	if err != nil {
		return nil, f.errb(d).Errorf("read downloaded bundle: %v", err)
	}
	f.Discard(d.Name)
	return data, nil
}

// PartialPath is where an interrupted download of name is kept.
func (f *HTTPFetcher) PartialPath(name string) string {
	return filepath.Join(f.cacheDir, name+".part")
}

// Discard removes any cached bytes for name.
func (f *HTTPFetcher) Discard(name string) {
	if err := os.Remove(f.PartialPath(name)); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("failed to discard cached bundle", "plugin", name, "error", err)
	}
}

func (f *HTTPFetcher) errb(d Descriptor) oops.OopsErrorBuilder {
	return oops.In("fetch").Code(pluginpkg.CodeDownloadFailed).With("plugin", d.Name).With("url", d.URL())
}

func (f *HTTPFetcher) download(ctx context.Context, d Descriptor, part string) error {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL(), nil)
	if err != nil {
		return f.errb(d).Errorf("build request: %v", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		f.logger.Debug("resuming bundle download", "plugin", d.Name, "offset", offset)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return f.errb(d).Errorf("download %s: %v", d.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); !ok || start != offset {
			f.Discard(d.Name)
			return f.errb(d).With("content_range", resp.Header.Get("Content-Range")).
				Errorf("catalog answered range %d- with %q", offset, resp.Header.Get("Content-Range"))
		}
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The cached bytes no longer fit the catalog's copy; start over.
		f.Discard(d.Name)
		return f.download(ctx, d, part)
	default:
		return f.errb(d).With("status", resp.StatusCode).Errorf("catalog returned %s for %s", resp.Status, d.Name)
	}

	out, err := os.OpenFile(part, flags, 0o600) //nolint:gosec // path built from a validated plugin name
	if err != nil {
		return f.errb(d).Errorf("open bundle cache: %v", err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return f.errb(d).With("received", offset+n).Errorf("download interrupted after %d bytes: %v", offset+n, copyErr)
	}
	if closeErr != nil {
		return f.errb(d).Errorf("write bundle cache: %v", closeErr)
	}
	return nil
}

// contentRangeStart parses the first byte position of a
// "bytes start-end/size" header.
func contentRangeStart(h string) (int64, bool) {
	rest, ok := strings.CutPrefix(h, "bytes ")
	if !ok {
		return 0, false
	}
	startStr, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}
