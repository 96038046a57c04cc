// SPDX-License-Identifier: MPL-2.0

// Package fsys holds the filesystem helpers shared by provisioning steps:
// target root construction, octal mode handling, atomic writes, the build
// lock and the BLAKE3 tree digest. Every helper works on an afero.Fs so the
// same code runs against a real root or an in-memory tree under test.
package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidMode is returned when an octal mode string cannot be parsed.
var ErrInvalidMode = errors.New("invalid file mode")

// OS returns a filesystem rooted at root on the host. Paths passed to the
// returned Fs are absolute within root.
func OS(root string) afero.Fs {
	base := afero.NewOsFs()
	if root == "" || filepath.Clean(root) == string(filepath.Separator) {
		return base
	}
	return afero.NewBasePathFs(base, root)
}

// Mem returns an empty in-memory filesystem with "/" present.
func Mem() afero.Fs {
	m := afero.NewMemMapFs()
	_ = m.MkdirAll("/", 0o755)
	return m
}

// Clean normalizes p into an absolute slash-separated path.
func Clean(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))
}

// Within reports whether p equals dir or lies beneath it.
func Within(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Exists reports whether name exists without following a final symlink.
func Exists(fsys afero.Fs, name string) (bool, error) {
	_, err := lstat(fsys, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ParseMode converts a Unix octal mode string such as "0755" or "1777" into
// an os.FileMode, translating the setuid, setgid and sticky bits.
func ParseMode(s string) (os.FileMode, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0o")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidMode)
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o7777 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	m := os.FileMode(n & 0o777)
	if n&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if n&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if n&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m, nil
}

// FormatMode renders the permission and special bits of m as a four digit
// octal string, the inverse of ParseMode.
func FormatMode(m os.FileMode) string {
	n := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		n |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		n |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		n |= 0o1000
	}
	return fmt.Sprintf("%04o", n)
}

// ModeBits strips the type bits from m, keeping permission and special bits.
func ModeBits(m os.FileMode) os.FileMode {
	return m & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
}

// WriteFileAtomic writes data to a temporary sibling of name and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(fsys afero.Fs, name string, data []byte, perm os.FileMode) error {
	dir := path.Dir(Clean(name))
	tmp, err := afero.TempFile(fsys, dir, "."+path.Base(name)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = fsys.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := fsys.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := fsys.Rename(tmpName, name); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return fsys.Stat(name)
}

// Lstat returns file info for name without following a final symlink when
// the filesystem supports it.
func Lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	return lstat(fsys, name)
}
