// SPDX-License-Identifier: MPL-2.0

package manifest

type (
	// Manifest is a complete provisioning description.
	Manifest struct {
		// Vars holds CUE template variables. Other formats leave it empty.
		Vars map[string]string `json:"vars,omitempty" yaml:"vars,omitempty" toml:"vars,omitempty"`

		Name string `json:"name" yaml:"name" toml:"name"`
		// Base is the image the provisioning layer is built on.
		Base string `json:"base,omitempty" yaml:"base,omitempty" toml:"base,omitempty"`
		// Prefix is the mount path the service is published under.
		Prefix     string   `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
		Workdir    string   `json:"workdir,omitempty" yaml:"workdir,omitempty" toml:"workdir,omitempty"`
		Entrypoint []string `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty" toml:"entrypoint,omitempty"`

		Sources  []Source        `json:"sources,omitempty" yaml:"sources,omitempty" toml:"sources,omitempty"`
		System   []SystemPackage `json:"system,omitempty" yaml:"system,omitempty" toml:"system,omitempty"`
		Packages []Package       `json:"packages,omitempty" yaml:"packages,omitempty" toml:"packages,omitempty"`
		Rewrites []Rewrite       `json:"rewrites,omitempty" yaml:"rewrites,omitempty" toml:"rewrites,omitempty"`
		Identity *Identity       `json:"identity,omitempty" yaml:"identity,omitempty" toml:"identity,omitempty"`
		Regions  []Region        `json:"regions,omitempty" yaml:"regions,omitempty" toml:"regions,omitempty"`
	}

	// Source is an artifact staged into the target filesystem. Exactly one
	// of From (a host path relative to the source root) or URL is set.
	Source struct {
		Name string `json:"name" yaml:"name" toml:"name"`
		From string `json:"from,omitempty" yaml:"from,omitempty" toml:"from,omitempty"`
		URL  string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
		// SHA256 is the expected hex digest of the downloaded payload.
		SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty" toml:"sha256,omitempty"`
		// Extract unpacks a downloaded tar archive into To.
		Extract bool   `json:"extract,omitempty" yaml:"extract,omitempty" toml:"extract,omitempty"`
		To      string `json:"to" yaml:"to" toml:"to"`
		// Overwrite allows To to overlap an earlier source's destination.
		Overwrite bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty" toml:"overwrite,omitempty"`
	}

	// SystemPackage is an operating-system package.
	SystemPackage struct {
		Manager Manager `json:"manager" yaml:"manager" toml:"manager"`
		Name    string  `json:"name" yaml:"name" toml:"name"`
		Version string  `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		Class   Class   `json:"class" yaml:"class" toml:"class"`
	}

	// Package is a language-level package installed after every system
	// package.
	Package struct {
		Manager Manager `json:"manager" yaml:"manager" toml:"manager"`
		Name    string  `json:"name" yaml:"name" toml:"name"`
		Version string  `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		// Links names the system packages this package compiles against.
		Links []string `json:"links,omitempty" yaml:"links,omitempty" toml:"links,omitempty"`
		// Provides lists target paths the install places, such as an asset
		// directory later rewritten or granted.
		Provides []string  `json:"provides,omitempty" yaml:"provides,omitempty" toml:"provides,omitempty"`
		Override *Override `json:"override,omitempty" yaml:"override,omitempty" toml:"override,omitempty"`
	}

	// Override force-reinstalls a package from a staged source after the
	// registry install, and pins the version that must end up installed.
	Override struct {
		// Source names the Source holding the package tree or archive.
		Source  string `json:"source" yaml:"source" toml:"source"`
		Version string `json:"version" yaml:"version" toml:"version"`
	}

	// Rewrite replaces Token with Replacement in each target file.
	Rewrite struct {
		Token       string   `json:"token" yaml:"token" toml:"token"`
		Replacement string   `json:"replacement" yaml:"replacement" toml:"replacement"`
		Targets     []string `json:"targets" yaml:"targets" toml:"targets"`
	}

	// Identity is the non-privileged account the service runs as.
	Identity struct {
		User  string `json:"user" yaml:"user" toml:"user"`
		Group string `json:"group" yaml:"group" toml:"group"`
		UID   int    `json:"uid" yaml:"uid" toml:"uid"`
		GID   int    `json:"gid" yaml:"gid" toml:"gid"`
		Home  string `json:"home" yaml:"home" toml:"home"`
		Shell string `json:"shell,omitempty" yaml:"shell,omitempty" toml:"shell,omitempty"`
	}

	// Region is a path the running service must be able to write to.
	Region struct {
		Path string `json:"path" yaml:"path" toml:"path"`
		// Mode is an octal string, special bits included ("1777").
		Mode string `json:"mode" yaml:"mode" toml:"mode"`
		// Owner, when set, must name the identity user.
		Owner     string `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
		Recursive bool   `json:"recursive,omitempty" yaml:"recursive,omitempty" toml:"recursive,omitempty"`
	}
)

// IsRemote reports whether the source is downloaded rather than copied.
func (s Source) IsRemote() bool {
	return s.URL != ""
}

// ShellOrDefault returns the login shell, defaulting to /usr/sbin/nologin.
func (i Identity) ShellOrDefault() string {
	if i.Shell == "" {
		return "/usr/sbin/nologin"
	}
	return i.Shell
}

// SourceByName returns the source called name.
func (m *Manifest) SourceByName(name string) (Source, bool) {
	for _, s := range m.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// SystemByName returns the system package called name.
func (m *Manifest) SystemByName(name string) (SystemPackage, bool) {
	for _, p := range m.System {
		if p.Name == name {
			return p, true
		}
	}
	return SystemPackage{}, false
}
