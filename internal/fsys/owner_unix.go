// SPDX-License-Identifier: MPL-2.0

//go:build unix

package fsys

import (
	"os"
	"syscall"
)

// OwnerOf returns the numeric owner recorded in info when the filesystem
// exposes one.
func OwnerOf(info os.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
