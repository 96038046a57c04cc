// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
)

const (
	compressionNone compression = iota
	compressionGzip
	compressionZstd
	compressionLZ4
)

// ErrUnsupportedArchive is returned for an extract source whose name has no
// known tar suffix.
var ErrUnsupportedArchive = errors.New("unsupported archive type")

type compression int

// archiveCompression maps the URL path suffix to a decompressor.
func archiveCompression(rawURL string) (compression, error) {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".tar"):
		return compressionNone, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return compressionGzip, nil
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return compressionZstd, nil
	case strings.HasSuffix(name, ".tar.lz4"):
		return compressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedArchive, path.Base(name))
	}
}

func decompressor(c compression, r io.Reader) (io.Reader, func(), error) {
	switch c {
	case compressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case compressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case compressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

// extract unpacks a tar archive into dest. Entries are written in archive
// order; any entry resolving outside dest is rejected.
func extract(target afero.Fs, rawURL string, data []byte, dest string) (Result, error) {
	var res Result
	c, err := archiveCompression(rawURL)
	if err != nil {
		return res, fault.New(fault.KindSourceNotFound, redactURL(rawURL), err)
	}
	r, closeFn, err := decompressor(c, bytes.NewReader(data))
	if err != nil {
		return res, fault.New(fault.KindSourceNotFound, redactURL(rawURL), err)
	}
	defer closeFn()

	if err := ensureDir(target, dest, 0o755); err != nil {
		return res, err
	}

	links := make(linkSet)
	tr := tar.NewReader(r)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return res, fault.New(fault.KindSourceNotFound, redactURL(rawURL), fmt.Errorf("reading tar entry: %w", nextErr))
		}

		name, err := entryPath(dest, hdr.Name)
		if err != nil {
			return res, err
		}
		if via, ok := links.through(name); ok {
			return res, fmt.Errorf("extracting %s: path passes through symlink %s", hdr.Name, via)
		}
		mode := fsys.ModeBits(hdr.FileInfo().Mode())

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := ensureDir(target, name, mode); err != nil {
				return res, err
			}
		case tar.TypeReg:
			body, err := copyLimited(tr, DefaultMaxBytes)
			if err != nil {
				return res, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			changed, err := writeFile(target, name, body, mode)
			if err != nil {
				return res, err
			}
			res.add(int64(len(body)), changed)
		case tar.TypeSymlink:
			if err := links.checkTarget(name, hdr.Linkname, dest); err != nil {
				return res, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			changed, err := writeSymlink(target, name, hdr.Linkname)
			if err != nil {
				return res, err
			}
			links[name] = true
			res.add(0, changed)
		default:
			return res, fmt.Errorf("extracting %s: unsupported tar entry type %q", hdr.Name, hdr.Typeflag)
		}
	}
	return res, nil
}

// linkSet holds the symlinks extracted so far. Lexical containment checks
// cannot see through them, so no later entry or link target may resolve via
// one.
type linkSet map[string]bool

// through returns the extracted symlink that is a proper ancestor of name.
func (ls linkSet) through(name string) (string, bool) {
	for dir := path.Dir(name); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if ls[dir] {
			return dir, true
		}
	}
	return "", false
}

// checkTarget walks a symlink target one element at a time from the
// link's directory. Every step must stay inside dest and only the final
// element may be an extracted symlink.
func (ls linkSet) checkTarget(name, linkname, dest string) error {
	if path.IsAbs(linkname) {
		return fmt.Errorf("symlink target %q is absolute", linkname)
	}
	cur := path.Dir(name)
	elems := strings.Split(linkname, "/")
	for i, elem := range elems {
		switch elem {
		case "", ".":
			continue
		case "..":
			cur = path.Dir(cur)
		default:
			cur = path.Join(cur, elem)
		}
		if !fsys.Within(cur, dest) {
			return fmt.Errorf("symlink target %q escapes %s", linkname, dest)
		}
		if ls[cur] && i < len(elems)-1 {
			return fmt.Errorf("symlink target %q passes through symlink %s", linkname, cur)
		}
	}
	return nil
}

// entryPath joins an archive entry name onto dest, rejecting traversal.
func entryPath(dest, name string) (string, error) {
	joined := path.Join(dest, name)
	if !fsys.Within(joined, dest) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, dest)
	}
	return joined, nil
}
