// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package fsys

import (
	"errors"
	"os"
)

// errFlockUnavailable makes AcquireLock fall back to O_EXCL creation.
var errFlockUnavailable = errors.New("flock not available on this platform")

type hostLock struct {
	file *os.File
}

func acquireHostLock(string) (*hostLock, error) {
	return nil, errFlockUnavailable
}

func (l *hostLock) release() {}
