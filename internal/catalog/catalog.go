// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package catalog serves plugin bundles over HTTP. It performs no
// verification; the host checks every bundle against its trust registry.
package catalog

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/palaver/pkg/errutil"
)

// CodeNotFound is returned by Open for absent or invalid names.
const CodeNotFound = "BUNDLE_NOT_FOUND"

// BundleExt is the file extension of bundles in the catalog directory.
const BundleExt = ".bundle"

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// Requests counts bundle requests by HTTP status.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "palaver_catalog_requests_total",
		Help: "Total number of bundle requests by HTTP status",
	},
	[]string{"status"},
)

// RegisterMetrics registers catalog metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
}

// Catalog serves the bundles stored in one directory.
type Catalog struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a catalog over dir.
func New(dir string, opts ...Option) *Catalog {
	c := &Catalog{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the bundle directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Entry is an open bundle.
type Entry struct {
	io.ReadSeekCloser
	ModTime time.Time
	Size    int64
}

// ETag derives a strong validator from size and modification time.
func (e *Entry) ETag() string {
	return `"` + strconv.FormatInt(e.Size, 16) + "-" + strconv.FormatInt(e.ModTime.UnixNano(), 16) + `"`
}

// Open returns the bundle stored for name.
func (c *Catalog) Open(name string) (*Entry, error) {
	errb := oops.In("catalog").Code(CodeNotFound).With("plugin", name)
	if !namePattern.MatchString(name) {
		return nil, errb.Errorf("invalid plugin name %q", name)
	}

	f, err := os.Open(filepath.Join(c.dir, name+BundleExt)) //nolint:gosec // name is restricted to [A-Za-z0-9-]
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errb.Errorf("no bundle for %s", name)
		}
		return nil, oops.In("catalog").With("plugin", name).Wrapf(err, "open bundle")
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, errb.Errorf("no bundle for %s", name)
	}
	return &Entry{ReadSeekCloser: f, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// Register mounts GET and HEAD /plugins/:name on r.
func (c *Catalog) Register(r gin.IRoutes) {
	r.GET("/plugins/:name", c.Handle)
	r.HEAD("/plugins/:name", c.Handle)
}

// Handle serves one bundle with byte-range support.
func (c *Catalog) Handle(ctx *gin.Context) {
	name := ctx.Param("name")
	defer func() {
		Requests.WithLabelValues(strconv.Itoa(ctx.Writer.Status())).Inc()
	}()

	entry, err := c.Open(name)
	if err != nil {
		if errutil.HasCode(err, CodeNotFound) {
			ctx.Status(http.StatusNotFound)
			return
		}
		errutil.LogError(c.logger, "failed to open bundle", err, "plugin", name)
		ctx.Status(http.StatusInternalServerError)
		return
	}
	defer func() { _ = entry.Close() }()

	h := ctx.Writer.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("ETag", entry.ETag())
	// ServeContent handles Range, If-Range, If-None-Match, 206 and 416.
	http.ServeContent(ctx.Writer, ctx.Request, name+BundleExt, entry.ModTime, entry)
}
