// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

type (
	// hclVariables is the first decoding pass: variable declarations only.
	hclVariables struct {
		Variables []*hclVariable `hcl:"variable,block"`
		Remain    hcl.Body       `hcl:",remain"`
	}

	hclVariable struct {
		Name    string  `hcl:"name,label"`
		Default *string `hcl:"default,optional"`
	}

	hclManifest struct {
		Name       string   `hcl:"name"`
		Base       string   `hcl:"base,optional"`
		Prefix     string   `hcl:"prefix,optional"`
		Workdir    string   `hcl:"workdir,optional"`
		Entrypoint []string `hcl:"entrypoint,optional"`

		Sources  []*hclSource  `hcl:"source,block"`
		System   []*hclSystem  `hcl:"system,block"`
		Packages []*hclPackage `hcl:"package,block"`
		Rewrites []*hclRewrite `hcl:"rewrite,block"`
		Identity *hclIdentity  `hcl:"identity,block"`
		Regions  []*hclRegion  `hcl:"region,block"`
	}

	hclSource struct {
		Name      string `hcl:"name,label"`
		From      string `hcl:"from,optional"`
		URL       string `hcl:"url,optional"`
		SHA256    string `hcl:"sha256,optional"`
		Extract   bool   `hcl:"extract,optional"`
		To        string `hcl:"to"`
		Overwrite bool   `hcl:"overwrite,optional"`
	}

	hclSystem struct {
		Manager string `hcl:"manager,label"`
		Name    string `hcl:"name,label"`
		Version string `hcl:"version,optional"`
		Class   string `hcl:"class"`
	}

	hclPackage struct {
		Manager  string       `hcl:"manager,label"`
		Name     string       `hcl:"name,label"`
		Version  string       `hcl:"version,optional"`
		Links    []string     `hcl:"links,optional"`
		Provides []string     `hcl:"provides,optional"`
		Override *hclOverride `hcl:"override,block"`
	}

	hclOverride struct {
		Source  string `hcl:"source"`
		Version string `hcl:"version"`
	}

	hclRewrite struct {
		Token       string   `hcl:"token"`
		Replacement string   `hcl:"replacement"`
		Targets     []string `hcl:"targets"`
	}

	hclIdentity struct {
		User  string `hcl:"user"`
		Group string `hcl:"group"`
		UID   int    `hcl:"uid"`
		GID   int    `hcl:"gid"`
		Home  string `hcl:"home"`
		Shell string `hcl:"shell,optional"`
	}

	hclRegion struct {
		Path      string `hcl:"path,label"`
		Mode      string `hcl:"mode"`
		Owner     string `hcl:"owner,optional"`
		Recursive bool   `hcl:"recursive,optional"`
	}
)

// parseHCL decodes an HCL manifest. Variable blocks declare defaults that
// vars override; every expression can read them as var.<name>.
func parseHCL(data []byte, filename string, vars map[string]string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var decl hclVariables
	if diags := gohcl.DecodeBody(file.Body, nil, &decl); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode variables in %s: %w", filename, diags)
	}

	values := make(map[string]cty.Value, len(decl.Variables)+len(vars))
	for _, v := range decl.Variables {
		if v.Default != nil {
			values[v.Name] = cty.StringVal(*v.Default)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		values[k] = cty.StringVal(vars[k])
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(values)},
	}

	var raw hclManifest
	if diags := gohcl.DecodeBody(decl.Remain, evalCtx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return raw.manifest(values), nil
}

func (h *hclManifest) manifest(values map[string]cty.Value) *Manifest {
	m := &Manifest{
		Name:       h.Name,
		Base:       h.Base,
		Prefix:     h.Prefix,
		Workdir:    h.Workdir,
		Entrypoint: h.Entrypoint,
	}
	if len(values) > 0 {
		m.Vars = make(map[string]string, len(values))
		for k, v := range values {
			m.Vars[k] = v.AsString()
		}
	}
	for _, s := range h.Sources {
		m.Sources = append(m.Sources, Source{
			Name: s.Name, From: s.From, URL: s.URL, SHA256: s.SHA256,
			Extract: s.Extract, To: s.To, Overwrite: s.Overwrite,
		})
	}
	for _, s := range h.System {
		m.System = append(m.System, SystemPackage{
			Manager: Manager(s.Manager), Name: s.Name, Version: s.Version, Class: Class(s.Class),
		})
	}
	for _, p := range h.Packages {
		pkg := Package{
			Manager: Manager(p.Manager), Name: p.Name, Version: p.Version,
			Links: p.Links, Provides: p.Provides,
		}
		if p.Override != nil {
			pkg.Override = &Override{Source: p.Override.Source, Version: p.Override.Version}
		}
		m.Packages = append(m.Packages, pkg)
	}
	for _, r := range h.Rewrites {
		m.Rewrites = append(m.Rewrites, Rewrite{Token: r.Token, Replacement: r.Replacement, Targets: r.Targets})
	}
	if id := h.Identity; id != nil {
		m.Identity = &Identity{
			User: id.User, Group: id.Group, UID: id.UID, GID: id.GID, Home: id.Home, Shell: id.Shell,
		}
	}
	for _, r := range h.Regions {
		m.Regions = append(m.Regions, Region{Path: r.Path, Mode: r.Mode, Owner: r.Owner, Recursive: r.Recursive})
	}
	return m
}
