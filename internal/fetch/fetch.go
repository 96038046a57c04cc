// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/pkg/manifest"
)

type (
	// Result summarizes one staging operation.
	Result struct {
		// Files counts regular files and symlinks present at the destination.
		Files int
		// Written counts entries whose content or mode actually changed.
		Written int
		// Bytes is the total size of staged regular files.
		Bytes int64
	}

	// Stager stages manifest sources into a target filesystem.
	Stager struct {
		sources    afero.Fs
		target     afero.Fs
		downloader *Downloader
	}
)

// NewStager returns a Stager reading local sources from sources and writing
// into target. A nil downloader gets NewDownloader defaults.
func NewStager(sources, target afero.Fs, downloader *Downloader) *Stager {
	if downloader == nil {
		downloader = NewDownloader()
	}
	return &Stager{sources: sources, target: target, downloader: downloader}
}

// Stage places src at its destination.
func (s *Stager) Stage(ctx context.Context, src manifest.Source) (Result, error) {
	if src.IsRemote() {
		return s.stageRemote(ctx, src)
	}
	return s.stageLocal(src)
}

func (s *Stager) stageLocal(src manifest.Source) (Result, error) {
	from := fsys.Clean(src.From)
	info, err := fsys.Lstat(s.sources, from)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fault.New(fault.KindSourceNotFound, src.From, err)
		}
		return Result{}, fmt.Errorf("stat %s: %w", src.From, err)
	}

	var res Result
	if !info.IsDir() {
		if err := s.copyEntry(from, src.To, info, &res); err != nil {
			return res, err
		}
		return res, nil
	}

	err = afero.Walk(s.sources, from, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := relPath(from, p)
		if err != nil {
			return err
		}
		return s.copyEntry(p, path.Join(src.To, rel), fi, &res)
	})
	if err != nil {
		return res, fmt.Errorf("stage %s: %w", src.Name, err)
	}
	return res, nil
}

func (s *Stager) copyEntry(from, to string, info os.FileInfo, res *Result) error {
	mode := fsys.ModeBits(info.Mode())
	switch {
	case info.IsDir():
		return ensureDir(s.target, to, mode)
	case info.Mode()&os.ModeSymlink != 0:
		lr, ok := s.sources.(afero.LinkReader)
		if !ok {
			return fmt.Errorf("read symlink %s: not supported by source filesystem", from)
		}
		target, err := lr.ReadlinkIfPossible(from)
		if err != nil {
			return fmt.Errorf("read symlink %s: %w", from, err)
		}
		changed, err := writeSymlink(s.target, to, target)
		if err != nil {
			return err
		}
		res.add(0, changed)
		return nil
	case info.Mode().IsRegular():
		data, err := afero.ReadFile(s.sources, from)
		if err != nil {
			return fmt.Errorf("read %s: %w", from, err)
		}
		changed, err := writeFile(s.target, to, data, mode)
		if err != nil {
			return err
		}
		res.add(int64(len(data)), changed)
		return nil
	default:
		return fmt.Errorf("stage %s: unsupported file type %v", from, info.Mode().Type())
	}
}

func (r *Result) add(size int64, changed bool) {
	r.Files++
	r.Bytes += size
	if changed {
		r.Written++
	}
}

// ensureDir creates dir and its parents, then applies mode to dir.
func ensureDir(target afero.Fs, dir string, mode os.FileMode) error {
	if err := target.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	info, err := target.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if fsys.ModeBits(info.Mode()) == mode {
		return nil
	}
	if err := target.Chmod(dir, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", dir, err)
	}
	return nil
}

// writeFile writes data to name unless it already holds the same bytes and
// mode. It reports whether anything changed.
func writeFile(target afero.Fs, name string, data []byte, mode os.FileMode) (bool, error) {
	if info, err := fsys.Lstat(target, name); err == nil && info.Mode().IsRegular() {
		existing, err := afero.ReadFile(target, name)
		if err == nil && bytes.Equal(existing, data) {
			if fsys.ModeBits(info.Mode()) == mode {
				return false, nil
			}
			if err := target.Chmod(name, mode); err != nil {
				return false, fmt.Errorf("chmod %s: %w", name, err)
			}
			return true, nil
		}
	}
	if err := target.MkdirAll(path.Dir(name), 0o755); err != nil {
		return false, fmt.Errorf("mkdir %s: %w", path.Dir(name), err)
	}
	if err := fsys.WriteFileAtomic(target, name, data, mode); err != nil {
		return false, err
	}
	return true, nil
}

func writeSymlink(target afero.Fs, name, dest string) (bool, error) {
	linker, ok := target.(afero.Linker)
	if !ok {
		return false, fmt.Errorf("create symlink %s: not supported by target filesystem", name)
	}
	if lr, ok := target.(afero.LinkReader); ok {
		if cur, err := lr.ReadlinkIfPossible(name); err == nil && cur == dest {
			return false, nil
		}
	}
	if err := target.MkdirAll(path.Dir(name), 0o755); err != nil {
		return false, fmt.Errorf("mkdir %s: %w", path.Dir(name), err)
	}
	if err := target.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("replace %s: %w", name, err)
	}
	if err := linker.SymlinkIfPossible(dest, name); err != nil {
		return false, fmt.Errorf("symlink %s: %w", name, err)
	}
	return true, nil
}

func relPath(base, p string) (string, error) {
	base, p = fsys.Clean(base), fsys.Clean(p)
	if p == base {
		return ".", nil
	}
	if !fsys.Within(p, base) {
		return "", fmt.Errorf("%s escapes %s", p, base)
	}
	if base == "/" {
		return p[1:], nil
	}
	return p[len(base)+1:], nil
}

// copyLimited reads at most limit bytes from r.
func copyLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	return buf.Bytes(), nil
}
