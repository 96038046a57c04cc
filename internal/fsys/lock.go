// SPDX-License-Identifier: MPL-2.0

package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/afero"
)

// LockFile is the well-known lock path inside a target root. Only one
// pipeline may hold it at a time.
const LockFile = "/.layerkit.lock"

// ErrLocked is returned when another pipeline already holds the target lock.
var ErrLocked = errors.New("target root is locked by another build")

// Lock is a held target lock. Release removes the lock file.
type Lock struct {
	fsys  afero.Fs
	file  afero.File
	flock *hostLock
}

// AcquireLock takes the exclusive build lock for the target filesystem.
// Host-backed roots use an advisory flock so a crashed build never leaves a
// stale lock behind; other filesystems rely on O_EXCL creation.
func AcquireLock(fsys afero.Fs, holder string) (*Lock, error) {
	if real, ok := realPath(fsys, LockFile); ok {
		hl, err := acquireHostLock(real)
		switch {
		case err == nil:
			if werr := writeHolder(hl.file, holder); werr != nil {
				hl.release()
				return nil, werr
			}
			return &Lock{fsys: fsys, flock: hl}, nil
		case errors.Is(err, ErrLocked):
			return nil, err
		case !errors.Is(err, errFlockUnavailable):
			return nil, err
		}
		slog.Debug("flock unavailable, falling back to exclusive create", "path", real)
	}

	f, err := fsys.OpenFile(LockFile, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists", ErrLocked, LockFile)
		}
		return nil, fmt.Errorf("create lock %s: %w", LockFile, err)
	}
	if err := writeHolder(f, holder); err != nil {
		_ = f.Close()
		_ = fsys.Remove(LockFile)
		return nil, err
	}
	return &Lock{fsys: fsys, file: f}, nil
}

// Release removes the lock file and then unlocks it. The file is unlinked
// while still held; acquirers that locked the unlinked file notice and
// retry. It is safe to call multiple times; subsequent calls are no-ops.
func (l *Lock) Release() {
	if l == nil || l.fsys == nil {
		return
	}
	if err := l.fsys.Remove(LockFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("lock file remove failed", "error", err)
	}
	if l.flock != nil {
		l.flock.release()
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			slog.Debug("lock file close failed", "error", err)
		}
	}
	l.fsys = nil
}

func writeHolder(w interface{ WriteString(string) (int, error) }, holder string) error {
	if holder == "" {
		return nil
	}
	if _, err := w.WriteString(holder + "\n"); err != nil {
		return fmt.Errorf("write lock holder: %w", err)
	}
	return nil
}

// realPath resolves name to a host path when fsys is backed by the OS.
func realPath(fsys afero.Fs, name string) (string, bool) {
	switch f := fsys.(type) {
	case *afero.OsFs:
		return name, true
	case *afero.BasePathFs:
		p, err := f.RealPath(name)
		if err != nil {
			return "", false
		}
		return p, true
	default:
		return "", false
	}
}
