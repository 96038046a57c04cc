// SPDX-License-Identifier: MPL-2.0

package perm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/pkg/manifest"
)

// protectedDirs are never accepted as writable regions.
var protectedDirs = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/lib32", "/lib64",
	"/opt", "/proc", "/root", "/run", "/sbin", "/sys", "/usr", "/var",
}

// Grant reports what was applied to one region.
type Grant struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Owner   string `json:"owner,omitempty"`
	Entries int    `json:"entries"`
}

// CheckScope rejects regions that would relax a whole system tree.
func CheckScope(region manifest.Region) error {
	p := fsys.Clean(region.Path)
	if slices.Contains(protectedDirs, p) {
		return fault.Newf(fault.KindRegionTooBroad, p, "granting %s on a top-level system directory is not allowed", region.Mode)
	}
	return nil
}

// CheckHomeScope rejects a home directory on a top-level system directory,
// which would hand that tree to the runtime identity.
func CheckHomeScope(id manifest.Identity) error {
	home := fsys.Clean(id.Home)
	if slices.Contains(protectedDirs, home) {
		return fault.Newf(fault.KindRegionTooBroad, home, "home of %s cannot be a top-level system directory", id.User)
	}
	return nil
}

// CheckRegions returns a RegionNotFound fault for the first region that
// does not exist, in declaration order.
func (n *Normalizer) CheckRegions(regions []manifest.Region) error {
	for _, r := range regions {
		if err := CheckScope(r); err != nil {
			return err
		}
		ok, err := fsys.Exists(n.fs, r.Path)
		if err != nil {
			return fmt.Errorf("stat region %s: %w", r.Path, err)
		}
		if !ok {
			return fault.Newf(fault.KindRegionNotFound, r.Path, "region does not exist; no step creates it before the grant")
		}
	}
	return nil
}

// Grant applies mode and owner to every region. Existence of all regions
// is verified first, so a missing region fails before any change. Recursive
// grants walk the region without following symlinks.
func (n *Normalizer) Grant(regions []manifest.Region) ([]Grant, error) {
	if err := n.CheckRegions(regions); err != nil {
		return nil, err
	}

	grants := make([]Grant, 0, len(regions))
	for _, r := range regions {
		g, err := n.grant(r)
		if err != nil {
			return grants, err
		}
		n.logger.Info("region granted", "path", g.Path, "mode", g.Mode, "owner", g.Owner, "entries", g.Entries)
		grants = append(grants, g)
	}
	return grants, nil
}

// Verify checks that every region carries its declared mode bits.
func (n *Normalizer) Verify(regions []manifest.Region) error {
	for _, r := range regions {
		want, err := fsys.ParseMode(r.Mode)
		if err != nil {
			return fault.New(fault.KindInvalidManifest, r.Path, err)
		}
		info, err := fsys.Lstat(n.fs, r.Path)
		if err != nil {
			return fault.New(fault.KindRegionNotFound, r.Path, err)
		}
		if got := fsys.ModeBits(info.Mode()); got != want {
			return fault.Newf(fault.KindRegionNotFound, r.Path, "mode is %s, want %s", fsys.FormatMode(got), fsys.FormatMode(want))
		}
	}
	return nil
}

func (n *Normalizer) grant(r manifest.Region) (Grant, error) {
	mode, err := fsys.ParseMode(r.Mode)
	if err != nil {
		return Grant{}, fault.New(fault.KindInvalidManifest, r.Path, err)
	}
	uid, gid := -1, -1
	if r.Owner != "" {
		if uid, gid, err = n.LookupUser(r.Owner); err != nil {
			return Grant{}, err
		}
	}

	g := Grant{Path: fsys.Clean(r.Path), Mode: fsys.FormatMode(mode), Owner: r.Owner}
	apply := func(name string, info os.FileInfo) error {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if err := n.fs.Chmod(name, mode); err != nil {
			return fmt.Errorf("chmod %s: %w", name, err)
		}
		if uid >= 0 {
			if err := n.fs.Chown(name, uid, gid); err != nil {
				return fmt.Errorf("chown %s: %w", name, err)
			}
		}
		g.Entries++
		return nil
	}

	info, err := fsys.Lstat(n.fs, g.Path)
	if err != nil {
		return g, fault.New(fault.KindRegionNotFound, g.Path, err)
	}
	if !r.Recursive || !info.IsDir() {
		return g, apply(g.Path, info)
	}
	err = walk(n.fs, g.Path, apply)
	return g, err
}

// walk visits root and everything beneath it in lexical order without
// following symlinks.
func walk(target afero.Fs, root string, fn func(string, os.FileInfo) error) error {
	return afero.Walk(target, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(p, info)
	})
}
