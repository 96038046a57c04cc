// SPDX-License-Identifier: MPL-2.0

// Package perm creates the runtime identity and grants access to the
// writable regions the service needs.
//
// Account databases are read from and written to the target filesystem,
// never the host's. Region grants are all-or-nothing with respect to
// existence: every region is checked before the first chmod.
package perm

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"github.com/moby/sys/user"
	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/pkg/manifest"
)

const (
	passwdPath = "/etc/passwd"
	groupPath  = "/etc/group"
	shadowPath = "/etc/shadow"

	homeMode os.FileMode = 0o750
)

type (
	// Normalizer manages accounts and permissions in a target filesystem.
	Normalizer struct {
		fs     afero.Fs
		logger *slog.Logger
	}

	// IdentityResult reports what EnsureIdentity changed.
	IdentityResult struct {
		User         string `json:"user"`
		CreatedUser  bool   `json:"created_user"`
		CreatedGroup bool   `json:"created_group"`
		CreatedHome  bool   `json:"created_home"`
	}
)

// New returns a Normalizer over target.
func New(target afero.Fs, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{fs: target, logger: logger}
}

// EnsureIdentity creates id's group, user and home directory when absent.
// An existing user or group with the same name and ids is accepted as is.
// A name bound to different ids, or an id bound to a different name, is an
// IdentityConflict. A home directory that already exists keeps its owner;
// only a home created here is handed to the identity.
func (n *Normalizer) EnsureIdentity(id manifest.Identity) (IdentityResult, error) {
	res := IdentityResult{User: id.User}
	group := groupName(id)
	if err := CheckHomeScope(id); err != nil {
		return res, err
	}

	users, err := n.readUsers()
	if err != nil {
		return res, err
	}
	groups, err := n.readGroups()
	if err != nil {
		return res, err
	}

	haveUser, err := matchUser(users, id)
	if err != nil {
		return res, err
	}
	haveGroup, err := matchGroup(groups, group, id.GID)
	if err != nil {
		return res, err
	}

	if !haveGroup {
		line := fmt.Sprintf("%s:x:%d:\n", group, id.GID)
		if err := n.appendLine(groupPath, line, 0o644); err != nil {
			return res, err
		}
		res.CreatedGroup = true
	}
	if !haveUser {
		line := fmt.Sprintf("%s:x:%d:%d::%s:%s\n", id.User, id.UID, id.GID, id.Home, id.ShellOrDefault())
		if err := n.appendLine(passwdPath, line, 0o644); err != nil {
			return res, err
		}
		if ok, err := fsys.Exists(n.fs, shadowPath); err != nil {
			return res, err
		} else if ok {
			if err := n.appendLine(shadowPath, id.User+":!::0:::::\n", 0o640); err != nil {
				return res, err
			}
		}
		res.CreatedUser = true
	}

	created, err := n.ensureHome(id)
	if err != nil {
		return res, err
	}
	res.CreatedHome = created

	n.logger.Info("runtime identity ready", "user", id.User, "uid", id.UID,
		"created_user", res.CreatedUser, "created_group", res.CreatedGroup)
	return res, nil
}

// CheckIdentity verifies that id exists with the declared ids and that its
// home directory is present.
func (n *Normalizer) CheckIdentity(id manifest.Identity) error {
	users, err := n.readUsers()
	if err != nil {
		return err
	}
	ok, err := matchUser(users, id)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Newf(fault.KindIdentityConflict, id.User, "user is missing from %s", passwdPath)
	}
	info, err := n.fs.Stat(id.Home)
	if err != nil || !info.IsDir() {
		return fault.Newf(fault.KindIdentityConflict, id.User, "home directory %s is missing", id.Home)
	}
	return nil
}

// LookupUser returns the uid and primary gid of name from the target's
// passwd database.
func (n *Normalizer) LookupUser(name string) (uid, gid int, err error) {
	users, err := n.readUsers()
	if err != nil {
		return 0, 0, err
	}
	for _, u := range users {
		if u.Name == name {
			return u.Uid, u.Gid, nil
		}
	}
	return 0, 0, fault.Newf(fault.KindIdentityConflict, name, "user is not defined in %s", passwdPath)
}

func matchUser(users []user.User, id manifest.Identity) (bool, error) {
	for _, u := range users {
		switch {
		case u.Name == id.User && u.Uid == id.UID && u.Gid == id.GID:
			return true, nil
		case u.Name == id.User:
			return false, fault.Newf(fault.KindIdentityConflict, id.User,
				"user exists with uid=%d gid=%d, want uid=%d gid=%d", u.Uid, u.Gid, id.UID, id.GID)
		case u.Uid == id.UID:
			return false, fault.Newf(fault.KindIdentityConflict, id.User,
				"uid %d already belongs to %q", id.UID, u.Name)
		}
	}
	return false, nil
}

func matchGroup(groups []user.Group, name string, gid int) (bool, error) {
	for _, g := range groups {
		switch {
		case g.Name == name && g.Gid == gid:
			return true, nil
		case g.Name == name:
			return false, fault.Newf(fault.KindIdentityConflict, name,
				"group exists with gid=%d, want gid=%d", g.Gid, gid)
		case g.Gid == gid:
			return false, fault.Newf(fault.KindIdentityConflict, name,
				"gid %d already belongs to group %q", gid, g.Name)
		}
	}
	return false, nil
}

func groupName(id manifest.Identity) string {
	if id.Group == "" {
		return id.User
	}
	return id.Group
}

func (n *Normalizer) ensureHome(id manifest.Identity) (bool, error) {
	home := fsys.Clean(id.Home)
	info, err := n.fs.Stat(home)
	switch {
	case err == nil && !info.IsDir():
		return false, fault.Newf(fault.KindIdentityConflict, id.User, "home %s exists and is not a directory", home)
	case err == nil:
		n.logger.Debug("home directory exists, ownership unchanged", "home", home)
		return false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("stat home %s: %w", home, err)
	}

	if err := n.fs.MkdirAll(home, homeMode); err != nil {
		return false, fmt.Errorf("create home %s: %w", home, err)
	}
	if err := n.fs.Chmod(home, homeMode); err != nil {
		return false, fmt.Errorf("chmod home %s: %w", home, err)
	}
	if err := n.fs.Chown(home, id.UID, id.GID); err != nil {
		return false, fmt.Errorf("chown home %s: %w", home, err)
	}
	return true, nil
}

func (n *Normalizer) readUsers() ([]user.User, error) {
	data, err := n.readDB(passwdPath)
	if err != nil {
		return nil, err
	}
	users, err := user.ParsePasswd(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", passwdPath, err)
	}
	return users, nil
}

func (n *Normalizer) readGroups() ([]user.Group, error) {
	data, err := n.readDB(groupPath)
	if err != nil {
		return nil, err
	}
	groups, err := user.ParseGroup(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", groupPath, err)
	}
	return groups, nil
}

// readDB returns the content of an account database; a missing file reads
// as empty.
func (n *Normalizer) readDB(name string) ([]byte, error) {
	data, err := afero.ReadFile(n.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// appendLine rewrites name atomically with line appended, keeping the
// existing mode or using perm for a new file.
func (n *Normalizer) appendLine(name, line string, perm os.FileMode) error {
	data, err := n.readDB(name)
	if err != nil {
		return err
	}
	if info, err := n.fs.Stat(name); err == nil {
		perm = fsys.ModeBits(info.Mode())
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	data = append(data, line...)
	if err := n.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(name), err)
	}
	if err := fsys.WriteFileAtomic(n.fs, name, data, perm); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	return nil
}
