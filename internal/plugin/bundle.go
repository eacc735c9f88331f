// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"

	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// Limits applied while unpacking a bundle.
const (
	maxBundleFiles    = 256
	maxBundleFileSize = 64 << 20
)

// Bundle is an unpacked, verified plugin bundle.
type Bundle struct {
	// Dir is the directory the bundle was unpacked into.
	Dir      string
	Manifest *Manifest
	// Digest is the integrity token the bundle was verified against.
	Digest string
}

// Path resolves a bundle-relative path.
func (b *Bundle) Path(rel string) string {
	return filepath.Join(b.Dir, filepath.FromSlash(path.Clean(rel)))
}

// Digest returns the integrity token of data: its lowercase hex SHA-256.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity compares the digest of data against expected,
// ignoring case.
func VerifyIntegrity(data []byte, expected string) (string, error) {
	actual := Digest(data)
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return actual, oops.Code(pluginpkg.CodeIntegrityCheckFailed).
			With("expected", strings.ToLower(expected)).
			With("actual", actual).
			Errorf("bundle integrity token mismatch")
	}
	return actual, nil
}

// Unpack extracts a gzip-compressed tar bundle into dir and parses its
// manifest. Entries that would escape dir, links, and special files are
// rejected.
func Unpack(data []byte, dir string) (*Bundle, error) {
	errb := oops.In("bundle").Code(pluginpkg.CodeInvalidBundle).With("dir", dir)

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errb.Errorf("bundle is not gzip compressed: %v", err)
	}
	defer func() { _ = zr.Close() }()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, oops.In("bundle").With("dir", dir).Wrapf(err, "create bundle directory")
	}

	tr := tar.NewReader(zr)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errb.Errorf("read bundle archive: %v", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" || name == "." {
			continue
		}
		if !localPath(name) {
			return nil, errb.With("entry", hdr.Name).Errorf("bundle entry %q escapes the bundle root", hdr.Name)
		}
		target := filepath.Join(dir, filepath.FromSlash(path.Clean(name)))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o700); err != nil {
				return nil, oops.In("bundle").With("entry", name).Wrapf(err, "create directory")
			}
		case tar.TypeReg:
			files++
			if files > maxBundleFiles {
				return nil, errb.Errorf("bundle holds more than %d files", maxBundleFiles)
			}
			if hdr.Size > maxBundleFileSize {
				return nil, errb.With("entry", name).Errorf("bundle entry %q exceeds %d bytes", name, maxBundleFileSize)
			}
			if err := writeEntry(target, tr, hdr); err != nil {
				return nil, err
			}
		default:
			return nil, errb.With("entry", name).Errorf("bundle entry %q has unsupported type %q", name, hdr.Typeflag)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // dir is the loader's work directory
	if err != nil {
		return nil, errb.Errorf("bundle has no %s", ManifestFile)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	return &Bundle{Dir: dir, Manifest: m}, nil
}

func writeEntry(target string, r io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return oops.In("bundle").With("entry", hdr.Name).Wrapf(err, "create parent directory")
	}

	// Only the owner execute bit survives; binaries need it.
	mode := fs.FileMode(0o600)
	if hdr.FileInfo().Mode()&0o100 != 0 {
		mode = 0o700
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // target validated by localPath
	if err != nil {
		return oops.In("bundle").With("entry", hdr.Name).Wrapf(err, "create file")
	}
	if _, err := io.CopyN(f, r, hdr.Size); err != nil {
		_ = f.Close()
		return oops.In("bundle").Code(pluginpkg.CodeInvalidBundle).With("entry", hdr.Name).Errorf("truncated bundle entry: %v", err)
	}
	if err := f.Close(); err != nil {
		return oops.In("bundle").With("entry", hdr.Name).Wrapf(err, "close file")
	}
	return nil
}

// File is one entry written by Pack.
type File struct {
	Name       string
	Data       []byte
	Executable bool
}

// Pack builds a gzip-compressed tar bundle from files. Entries are sorted
// by name and carry no timestamps, so identical inputs yield identical
// bytes and therefore identical integrity tokens.
func Pack(files []File) ([]byte, error) {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for _, f := range sorted {
		if !localPath(f.Name) {
			return nil, oops.In("bundle").Code(pluginpkg.CodeInvalidBundle).With("entry", f.Name).Errorf("bundle entry %q escapes the bundle root", f.Name)
		}
		mode := int64(0o644)
		if f.Executable {
			mode = 0o755
		}
		hdr := &tar.Header{
			Name:     path.Clean(f.Name),
			Mode:     mode,
			Size:     int64(len(f.Data)),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, oops.In("bundle").With("entry", f.Name).Wrapf(err, "write header")
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, oops.In("bundle").With("entry", f.Name).Wrapf(err, "write entry")
		}
	}

	if err := tw.Close(); err != nil {
		return nil, oops.In("bundle").Wrapf(err, "close tar")
	}
	if err := zw.Close(); err != nil {
		return nil, oops.In("bundle").Wrapf(err, "close gzip")
	}
	return buf.Bytes(), nil
}

// PackDir builds a bundle from every regular file under dir.
func PackDir(dir string) ([]byte, error) {
	var files []File
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // walking a caller-supplied directory
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:       filepath.ToSlash(rel),
			Data:       data,
			Executable: info.Mode()&0o100 != 0,
		})
		return nil
	})
	if err != nil {
		return nil, oops.In("bundle").With("dir", dir).Wrapf(err, "read bundle directory")
	}
	return Pack(files)
}
