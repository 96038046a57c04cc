// SPDX-License-Identifier: MPL-2.0

//go:build linux

package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// errFlockUnavailable exists for parity with lock_other.go; on Linux
// acquireHostLock never returns it.
var errFlockUnavailable = errors.New("flock not available on this platform")

type hostLock struct {
	file *os.File
}

// lockAttempts bounds how often acquireHostLock retries after locking a
// file that a releasing holder unlinked underneath it.
const lockAttempts = 8

// acquireHostLock opens (or creates) path and takes a non-blocking
// exclusive flock on it. The lock only counts if path still names the
// locked file afterwards: Release unlinks the file while holding the flock,
// so a descriptor opened before that unlink locks an orphan.
func acquireHostLock(path string) (*hostLock, error) {
	for range lockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open lock file %s: %w", path, err)
		}
		current, err := lockOpened(f, path)
		if err != nil {
			f.Close()
			return nil, err
		}
		if !current {
			slog.Debug("lock file replaced while locking, retrying", "path", path)
			f.Close()
			continue
		}
		if err := f.Truncate(0); err != nil {
			slog.Debug("lock file truncate failed", "error", err)
		}
		return &hostLock{file: f}, nil
	}
	return nil, fmt.Errorf("%w: %s keeps changing", ErrLocked, path)
}

// lockOpened flocks f and reports whether path still refers to it.
func lockOpened(f *os.File, path string) (bool, error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return false, fmt.Errorf("flock %s: %w", path, err)
	}
	held, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat lock file %s: %w", path, err)
	}
	named, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat lock file %s: %w", path, err)
	}
	return os.SameFile(held, named), nil
}

func (l *hostLock) release() {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Debug("lock file close failed", "error", err)
	}
}
