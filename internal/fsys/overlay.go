// SPDX-License-Identifier: MPL-2.0

package fsys

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// overlayFs is a copy-on-write view whose metadata changes also work on
// directories that only exist in the base. afero copies up regular files
// only.
type overlayFs struct {
	afero.Fs
	base  afero.Fs
	layer afero.Fs
}

// Overlay returns a copy-on-write view of base: reads fall through to base
// and every write lands in memory. Dry runs provision into it so the real
// target is never touched.
func Overlay(base afero.Fs) afero.Fs {
	layer := Mem()
	return &overlayFs{
		Fs:    afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(base), layer),
		base:  base,
		layer: layer,
	}
}

func (o *overlayFs) Name() string { return "OverlayFs" }

func (o *overlayFs) Chmod(name string, mode os.FileMode) error {
	if err := o.copyUpDir(name); err != nil {
		return err
	}
	return o.Fs.Chmod(name, mode)
}

func (o *overlayFs) Chown(name string, uid, gid int) error {
	if err := o.copyUpDir(name); err != nil {
		return err
	}
	return o.Fs.Chown(name, uid, gid)
}

func (o *overlayFs) Chtimes(name string, atime, mtime time.Time) error {
	if err := o.copyUpDir(name); err != nil {
		return err
	}
	return o.Fs.Chtimes(name, atime, mtime)
}

func (o *overlayFs) copyUpDir(name string) error {
	if _, err := o.layer.Stat(name); err == nil {
		return nil
	}
	info, err := o.base.Stat(name)
	if err != nil || !info.IsDir() {
		return nil //nolint:nilerr // the copy-on-write view reports missing paths itself
	}
	if err := o.layer.MkdirAll(name, 0o755); err != nil {
		return err
	}
	return o.layer.Chmod(name, ModeBits(info.Mode()))
}
