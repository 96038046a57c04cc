// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"strings"

	"github.com/layerkit/layerkit/internal/fsys"
)

const (
	// KindPath is a filesystem path in the target root.
	KindPath ResourceKind = "path"
	// KindPackage is an installed package, "pkg:<manager>:<name>".
	KindPackage ResourceKind = "pkg"
	// KindIndex is a package manager's refreshed index.
	KindIndex ResourceKind = "index"
	// KindIdentity is a runtime account.
	KindIdentity ResourceKind = "identity"
)

type (
	// ResourceKind is the namespace of a Resource.
	ResourceKind string

	// Resource is something a step consumes or produces, written as
	// "<kind>:<key>".
	Resource string
)

// PathResource returns the resource for a target path.
func PathResource(p string) Resource {
	return Resource(string(KindPath) + ":" + fsys.Clean(p))
}

// PackageResource returns the resource for an installed package.
func PackageResource(manager, name string) Resource {
	return Resource(string(KindPackage) + ":" + manager + ":" + name)
}

// IndexResource returns the resource for a package manager's index.
func IndexResource(manager string) Resource {
	return Resource(string(KindIndex) + ":" + manager)
}

// IdentityResource returns the resource for a runtime account.
func IdentityResource(user string) Resource {
	return Resource(string(KindIdentity) + ":" + user)
}

// Kind returns the resource namespace.
func (r Resource) Kind() ResourceKind {
	k, _, _ := strings.Cut(string(r), ":")
	return ResourceKind(k)
}

// Key returns the part after the namespace.
func (r Resource) Key() string {
	_, k, _ := strings.Cut(string(r), ":")
	return k
}

func (r Resource) String() string { return string(r) }

// Satisfies reports whether output r makes input in available. A path
// output satisfies any path input at or beneath it; every other kind must
// match exactly.
func (r Resource) Satisfies(in Resource) bool {
	if r.Kind() == KindPath && in.Kind() == KindPath {
		return fsys.Within(in.Key(), r.Key())
	}
	return r == in
}

// Touches reports whether output r changes something input in depends on:
// either r satisfies in, or r writes beneath the path in names.
func (r Resource) Touches(in Resource) bool {
	if r.Satisfies(in) {
		return true
	}
	return r.Kind() == KindPath && in.Kind() == KindPath && fsys.Within(r.Key(), in.Key())
}
