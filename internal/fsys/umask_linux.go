// SPDX-License-Identifier: MPL-2.0

//go:build linux

package fsys

import "golang.org/x/sys/unix"

// PinUmask sets the process umask to 022 so files created by package
// managers get the same modes on every build. The returned function restores
// the previous value.
func PinUmask() (restore func()) {
	old := unix.Umask(0o022)
	return func() { unix.Umask(old) }
}
