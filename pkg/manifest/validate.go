// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/layerkit/layerkit/internal/fsys"
)

// ErrInvalid is matched by every ValidationErrors value.
var ErrInvalid = errors.New("invalid manifest")

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

type (
	// ValidationError is a single structural problem in a manifest.
	ValidationError struct {
		// Field is the JSON path of the offending value, e.g. "regions[1].mode".
		Field   string
		Message string
	}

	// ValidationErrors collects every problem found in one validation pass.
	ValidationErrors []ValidationError
)

func (e ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:", len(errs))
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Unwrap returns ErrInvalid so callers can match with errors.Is.
func (errs ValidationErrors) Unwrap() error { return ErrInvalid }

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) abs(field, p string) {
	switch {
	case p == "":
		v.add(field, "must not be empty")
	case !path.IsAbs(p):
		v.add(field, "must be an absolute path, got %q", p)
	case path.Clean(p) != p:
		v.add(field, "must be a clean path, got %q (want %q)", p, path.Clean(p))
	}
}

// Validate checks the manifest's structure and cross references and returns
// every problem found, or nil.
func (m *Manifest) Validate() error {
	v := &validator{}

	if !namePattern.MatchString(m.Name) {
		v.add("name", "must match %s, got %q", namePattern, m.Name)
	}
	if m.Prefix != "" && !strings.HasPrefix(m.Prefix, "/") {
		v.add("prefix", "must start with /, got %q", m.Prefix)
	}
	if m.Workdir != "" {
		v.abs("workdir", m.Workdir)
	}

	m.validateSources(v)
	m.validatePackages(v)
	m.validateRewrites(v)
	m.validateIdentity(v)
	m.validateRegions(v)

	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

func (m *Manifest) validateSources(v *validator) {
	seen := make(map[string]bool, len(m.Sources))
	for i, s := range m.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if !namePattern.MatchString(s.Name) {
			v.add(field+".name", "must match %s, got %q", namePattern, s.Name)
		} else if seen[s.Name] {
			v.add(field+".name", "duplicate source %q", s.Name)
		}
		seen[s.Name] = true

		switch {
		case s.From == "" && s.URL == "":
			v.add(field, "one of from or url is required")
		case s.From != "" && s.URL != "":
			v.add(field, "from and url are mutually exclusive")
		case s.URL != "" && !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://"):
			v.add(field+".url", "must be an http or https URL, got %q", s.URL)
		}
		if s.SHA256 != "" && !sha256Pattern.MatchString(s.SHA256) {
			v.add(field+".sha256", "must be 64 lowercase hex characters")
		}
		if s.SHA256 != "" && s.URL == "" {
			v.add(field+".sha256", "only applies to url sources")
		}
		if s.Extract && s.URL == "" {
			v.add(field+".extract", "only applies to url sources")
		}
		v.abs(field+".to", s.To)
	}
}

func (m *Manifest) validatePackages(v *validator) {
	system := make(map[string]bool, len(m.System))
	for i, p := range m.System {
		field := fmt.Sprintf("system[%d]", i)
		if ok, errs := p.Manager.IsValid(); !ok {
			v.add(field+".manager", "%v", errs[0])
		} else if !p.Manager.IsSystem() {
			v.add(field+".manager", "%q is not a system package manager", p.Manager)
		}
		if ok, errs := p.Class.IsValid(); !ok {
			v.add(field+".class", "%v", errs[0])
		}
		if p.Name == "" {
			v.add(field+".name", "must not be empty")
		} else if system[p.Name] {
			v.add(field+".name", "duplicate system package %q", p.Name)
		}
		system[p.Name] = true
	}

	seen := make(map[string]bool, len(m.Packages))
	for i, p := range m.Packages {
		field := fmt.Sprintf("packages[%d]", i)
		if ok, errs := p.Manager.IsValid(); !ok {
			v.add(field+".manager", "%v", errs[0])
		} else if p.Manager.IsSystem() {
			v.add(field+".manager", "%q is a system package manager; declare it under system", p.Manager)
		}
		if p.Name == "" {
			v.add(field+".name", "must not be empty")
		} else if seen[p.Name] {
			v.add(field+".name", "duplicate package %q", p.Name)
		}
		seen[p.Name] = true

		for j, l := range p.Links {
			if !system[l] {
				v.add(fmt.Sprintf("%s.links[%d]", field, j), "%q is not a declared system package", l)
			}
		}
		for j, pr := range p.Provides {
			v.abs(fmt.Sprintf("%s.provides[%d]", field, j), pr)
		}
		if o := p.Override; o != nil {
			if _, ok := m.SourceByName(o.Source); !ok {
				v.add(field+".override.source", "%q is not a declared source", o.Source)
			}
			if o.Version == "" {
				v.add(field+".override.version", "must not be empty")
			}
		}
	}
}

func (m *Manifest) validateRewrites(v *validator) {
	for i, r := range m.Rewrites {
		field := fmt.Sprintf("rewrites[%d]", i)
		if r.Token == "" {
			v.add(field+".token", "must not be empty")
		}
		if r.Token == r.Replacement {
			v.add(field+".replacement", "must differ from token")
		}
		if strings.ContainsAny(r.Token, "\r\n") {
			v.add(field+".token", "must not span lines")
		}
		if strings.ContainsAny(r.Replacement, "\r\n") {
			v.add(field+".replacement", "must not span lines")
		}
		if len(r.Targets) == 0 {
			v.add(field+".targets", "at least one target is required")
		}
		for j, t := range r.Targets {
			v.abs(fmt.Sprintf("%s.targets[%d]", field, j), t)
		}
	}
}

func (m *Manifest) validateIdentity(v *validator) {
	id := m.Identity
	if id == nil {
		return
	}
	if !namePattern.MatchString(id.User) {
		v.add("identity.user", "must match %s, got %q", namePattern, id.User)
	}
	if !namePattern.MatchString(id.Group) {
		v.add("identity.group", "must match %s, got %q", namePattern, id.Group)
	}
	if id.UID <= 0 {
		v.add("identity.uid", "must be a positive non-root id, got %d", id.UID)
	}
	if id.GID <= 0 {
		v.add("identity.gid", "must be a positive non-root id, got %d", id.GID)
	}
	v.abs("identity.home", id.Home)
}

func (m *Manifest) validateRegions(v *validator) {
	seen := make(map[string]bool, len(m.Regions))
	for i, r := range m.Regions {
		field := fmt.Sprintf("regions[%d]", i)
		v.abs(field+".path", r.Path)
		if seen[r.Path] {
			v.add(field+".path", "duplicate region %q", r.Path)
		}
		seen[r.Path] = true
		if _, err := fsys.ParseMode(r.Mode); err != nil {
			v.add(field+".mode", "%v", err)
		}
		if r.Owner != "" && (m.Identity == nil || r.Owner != m.Identity.User) {
			v.add(field+".owner", "%q is not the runtime identity", r.Owner)
		}
	}
}
