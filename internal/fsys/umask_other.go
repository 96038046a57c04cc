// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package fsys

// PinUmask is a no-op where the umask cannot be controlled.
func PinUmask() (restore func()) {
	return func() {}
}
