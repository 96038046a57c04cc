// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"slices"
	"sync"

	"github.com/spf13/afero"
)

type (
	// Owner is a recorded uid/gid pair.
	Owner struct {
		UID int
		GID int
	}

	// OwnerFs wraps an afero.Fs and records Chown and Chmod calls, since
	// in-memory filesystems do not expose ownership through Stat.
	OwnerFs struct {
		afero.Fs

		mu     sync.Mutex
		owners map[string]Owner
		chmods []string
		chowns []string
	}
)

// NewOwnerFs wraps base.
func NewOwnerFs(base afero.Fs) *OwnerFs {
	return &OwnerFs{Fs: base, owners: make(map[string]Owner)}
}

// Chown records the new owner before delegating.
func (o *OwnerFs) Chown(name string, uid, gid int) error {
	if err := o.Fs.Chown(name, uid, gid); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners[name] = Owner{UID: uid, GID: gid}
	o.chowns = append(o.chowns, name)
	return nil
}

// Chmod records the path before delegating.
func (o *OwnerFs) Chmod(name string, mode os.FileMode) error {
	if err := o.Fs.Chmod(name, mode); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chmods = append(o.chmods, name)
	return nil
}

// Owner returns the last owner recorded for name.
func (o *OwnerFs) Owner(name string) (Owner, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ow, ok := o.owners[name]
	return ow, ok
}

// Chmods returns every path passed to Chmod, in call order.
func (o *OwnerFs) Chmods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.chmods)
}

// Chowns returns every path passed to Chown, in call order.
func (o *OwnerFs) Chowns() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.chowns)
}

// Reset forgets recorded calls, keeping ownership.
func (o *OwnerFs) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chmods, o.chowns = nil, nil
}
