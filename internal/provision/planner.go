// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fetch"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/internal/install"
	"github.com/layerkit/layerkit/internal/patch"
	"github.com/layerkit/layerkit/internal/perm"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/pkg/manifest"
)

// GrantStep is the name of the step granting every writable region.
const GrantStep = "grant:regions"

type (
	// Planner builds provisioning plans from manifests.
	Planner struct {
		downloader *fetch.Downloader
		python     string
		policy     pipeline.Policy
	}

	// PlannerOption configures a Planner.
	PlannerOption func(*Planner)

	// Build is a planned manifest: the ordered steps and the Dockerfile
	// instructions each step renders to.
	Build struct {
		Manifest *manifest.Manifest
		Plan     *pipeline.Plan
		layers   map[string][]string
	}

	// PackageDetail is the report detail of an install step.
	PackageDetail struct {
		Manager string `json:"manager"`
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	}

	// planBuilder accumulates steps in declaration order.
	planBuilder struct {
		p      *Planner
		m      *manifest.Manifest
		steps  []pipeline.Step
		layers map[string][]string
		cmds   *install.Installer
	}
)

// WithDownloader sets the downloader remote sources are fetched with.
func WithDownloader(d *fetch.Downloader) PlannerOption {
	return func(p *Planner) { p.downloader = d }
}

// WithPython sets the interpreter pip runs under.
func WithPython(python string) PlannerOption {
	return func(p *Planner) { p.python = python }
}

// WithPolicy sets the ordering policy. Default is pipeline.PolicyReorder.
func WithPolicy(policy pipeline.Policy) PlannerOption {
	return func(p *Planner) { p.policy = policy }
}

// NewPlanner creates a Planner.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{python: "python3", policy: pipeline.PolicyReorder}
	for _, opt := range opts {
		opt(p)
	}
	if p.downloader == nil {
		p.downloader = fetch.NewDownloader()
	}
	return p
}

// StageStep names the step staging source.
func StageStep(source string) string { return "stage:" + source }

// IndexStep names the step refreshing a manager's package index.
func IndexStep(mgr manifest.Manager) string { return "index:" + string(mgr) }

// InstallStep names the registry install of a package.
func InstallStep(mgr manifest.Manager, name string) string {
	return "install:" + string(mgr) + ":" + name
}

// OverrideStep names the local override of a pip package.
func OverrideStep(name string) string { return "override:pip:" + name }

// IdentityStep names the step creating the runtime identity.
func IdentityStep(user string) string { return "identity:" + user }

// RewriteStep names the i-th rewrite rule.
func RewriteStep(i int) string { return "rewrite:" + strconv.Itoa(i) }

// Plan validates m and builds its plan. Problems that need no filesystem
// (overlapping destinations, regions that are too broad, ordering under the
// strict policy, cycles) are reported here, before anything runs.
func (p *Planner) Plan(m *manifest.Manifest) (*Build, error) {
	if err := m.Validate(); err != nil {
		return nil, fault.New(fault.KindInvalidManifest, m.Name, err)
	}
	if err := fetch.CheckDestinations(m.Sources); err != nil {
		return nil, err
	}
	for _, r := range m.Regions {
		if err := perm.CheckScope(r); err != nil {
			return nil, err
		}
	}
	if m.Identity != nil {
		if err := perm.CheckHomeScope(*m.Identity); err != nil {
			return nil, err
		}
	}

	b := &planBuilder{
		p:      p,
		m:      m,
		layers: make(map[string][]string),
		cmds:   install.New(nil, install.WithPython(p.python)),
	}
	b.addSources()
	if err := b.addPackages(); err != nil {
		return nil, err
	}
	b.addIdentity()
	b.addRewrites()
	b.addRegions()

	plan, err := pipeline.NewPlan(b.steps, p.policy)
	if err != nil {
		return nil, err
	}
	return &Build{Manifest: m, Plan: plan, layers: b.layers}, nil
}

func (b *planBuilder) add(s pipeline.Step, layer ...string) {
	b.steps = append(b.steps, s)
	b.layers[s.Name] = layer
}

func (b *planBuilder) installer(env *pipeline.Env) *install.Installer {
	opts := []install.Option{install.WithPython(b.p.python)}
	if env.Logger != nil {
		opts = append(opts, install.WithLogger(env.Logger))
	}
	if env.DryRun {
		opts = append(opts, install.WithDryRun())
	}
	return install.New(env.Runner, opts...)
}

func (b *planBuilder) addSources() {
	downloader := b.p.downloader
	for i, src := range b.m.Sources {
		origin := src.From
		if src.IsRemote() {
			origin = src.URL
		}
		var after []string
		if src.Overwrite {
			for _, prev := range b.m.Sources[:i] {
				if fsys.Within(src.To, prev.To) || fsys.Within(prev.To, src.To) {
					after = append(after, StageStep(prev.Name))
				}
			}
		}
		b.add(pipeline.Step{
			Name:        StageStep(src.Name),
			Description: fmt.Sprintf("stage %s to %s", origin, src.To),
			Class:       pipeline.SafeToRepeat,
			Outputs:     []pipeline.Resource{pipeline.PathResource(src.To)},
			After:       after,
			Run: func(ctx context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
				res, err := fetch.NewStager(env.Sources, env.FS, downloader).Stage(ctx, src)
				if err != nil {
					return pipeline.Outcome{}, err
				}
				return pipeline.Outcome{
					Changed: res.Written > 0,
					Summary: fmt.Sprintf("%d files staged, %d written", res.Files, res.Written),
					Details: res,
				}, nil
			},
			Check: func(_ context.Context, env *pipeline.Env) error {
				ok, err := fsys.Exists(env.FS, src.To)
				if err != nil {
					return err
				}
				if !ok {
					return fault.Newf(fault.KindSourceNotFound, src.To, "destination missing after staging")
				}
				return nil
			},
		}, copyInstruction(src))
	}
}

func (b *planBuilder) addPackages() error {
	system := b.m.System
	needsIndex := slices.ContainsFunc(system, func(sp manifest.SystemPackage) bool {
		return sp.Manager == manifest.ManagerApt
	})
	if needsIndex {
		b.add(pipeline.Step{
			Name:        IndexStep(manifest.ManagerApt),
			Description: "refresh the apt package index",
			Class:       pipeline.SafeToRepeat,
			Outputs:     []pipeline.Resource{pipeline.IndexResource(string(manifest.ManagerApt))},
			Run: func(ctx context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
				if err := b.installer(env).Refresh(ctx, manifest.ManagerApt); err != nil {
					return pipeline.Outcome{}, err
				}
				return pipeline.Outcome{Changed: true, Summary: "apt index refreshed"}, nil
			},
		}, runInstruction(aptUpdate))
	}

	for _, sp := range system {
		var inputs []pipeline.Resource
		if sp.Manager == manifest.ManagerApt {
			inputs = append(inputs, pipeline.IndexResource(string(manifest.ManagerApt)))
		}
		for _, pre := range install.Prerequisites(system, sp.Class) {
			inputs = append(inputs, pipeline.PackageResource(string(pre.Manager), pre.Name))
		}
		cmds, err := b.cmds.Commands(sp.Manager, sp.Name, sp.Version)
		if err != nil {
			return err
		}
		b.add(b.installStep(sp.Manager, sp.Name, sp.Version, string(sp.Class), inputs, nil), runInstruction(cmds...))
	}

	prereqs := install.Prerequisites(system, manifest.ClassPackage)
	for _, pkg := range b.m.Packages {
		inputs := make([]pipeline.Resource, 0, len(prereqs)+len(pkg.Links))
		for _, pre := range prereqs {
			inputs = append(inputs, pipeline.PackageResource(string(pre.Manager), pre.Name))
		}
		for _, link := range pkg.Links {
			if sp, ok := b.m.SystemByName(link); ok {
				r := pipeline.PackageResource(string(sp.Manager), sp.Name)
				if !slices.Contains(inputs, r) {
					inputs = append(inputs, r)
				}
			}
		}
		provides := make([]pipeline.Resource, 0, len(pkg.Provides))
		for _, p := range pkg.Provides {
			provides = append(provides, pipeline.PathResource(p))
		}
		cmds, err := b.cmds.Commands(pkg.Manager, pkg.Name, pkg.Version)
		if err != nil {
			return err
		}
		b.add(b.installStep(pkg.Manager, pkg.Name, pkg.Version, string(manifest.ClassPackage), inputs, provides), runInstruction(cmds...))

		if pkg.Override != nil {
			b.addOverride(pkg, provides)
		}
	}
	return nil
}

func (b *planBuilder) installStep(mgr manifest.Manager, name, version, class string, inputs, provides []pipeline.Resource) pipeline.Step {
	outputs := append([]pipeline.Resource{pipeline.PackageResource(string(mgr), name)}, provides...)
	desc := fmt.Sprintf("install %s package %s (%s)", mgr, name, class)
	if version != "" {
		desc = fmt.Sprintf("install %s package %s %s (%s)", mgr, name, version, class)
	}
	return pipeline.Step{
		Name:        InstallStep(mgr, name),
		Description: desc,
		Class:       pipeline.SafeToRepeat,
		Inputs:      inputs,
		Outputs:     outputs,
		Run: func(ctx context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
			if err := b.installer(env).Install(ctx, mgr, name, version); err != nil {
				return pipeline.Outcome{}, err
			}
			if env.DryRun {
				// Nothing was installed; stand in for the declared paths so
				// later steps can be simulated.
				for _, p := range provides {
					if err := env.FS.MkdirAll(p.Key(), 0o755); err != nil {
						return pipeline.Outcome{}, err
					}
				}
			}
			return pipeline.Outcome{
				Changed: true,
				Summary: "installed " + install.Resource(mgr, name),
				Details: PackageDetail{Manager: string(mgr), Name: name, Version: version},
			}, nil
		},
		Check: func(ctx context.Context, env *pipeline.Env) error {
			return b.installer(env).Verify(ctx, mgr, name, version)
		},
	}
}

// addOverride adds the force-reinstall of pkg from its staged source. It
// waits for the registry install and for the stage step, and re-provides
// the package's paths so later steps see the overridden files.
func (b *planBuilder) addOverride(pkg manifest.Package, provides []pipeline.Resource) {
	o := *pkg.Override
	src, _ := b.m.SourceByName(o.Source)
	name := pkg.Name
	b.add(pipeline.Step{
		Name:        OverrideStep(name),
		Description: fmt.Sprintf("override pip package %s with %s from source %s", name, o.Version, src.Name),
		Class:       pipeline.SafeToRepeat,
		Inputs: []pipeline.Resource{
			pipeline.PackageResource(string(manifest.ManagerPip), name),
			pipeline.PathResource(src.To),
		},
		Outputs: provides,
		Run: func(ctx context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
			if err := b.installer(env).Override(ctx, name, src.To, o.Version); err != nil {
				return pipeline.Outcome{}, err
			}
			return pipeline.Outcome{
				Changed: true,
				Summary: fmt.Sprintf("overrode %s with %s", name, o.Version),
				Details: PackageDetail{Manager: string(manifest.ManagerPip), Name: name, Version: o.Version},
			}, nil
		},
		Check: func(ctx context.Context, env *pipeline.Env) error {
			return b.installer(env).Verify(ctx, manifest.ManagerPip, name, o.Version)
		},
	}, runInstruction(b.cmds.OverrideCommand(src.To)))
}

func (b *planBuilder) addIdentity() {
	if b.m.Identity == nil {
		return
	}
	id := *b.m.Identity
	b.add(pipeline.Step{
		Name:        IdentityStep(id.User),
		Description: fmt.Sprintf("create user %s (%d:%d) with home %s", id.User, id.UID, id.GID, id.Home),
		Class:       pipeline.MustRunOnce,
		Outputs: []pipeline.Resource{
			pipeline.IdentityResource(id.User),
			pipeline.PathResource(id.Home),
		},
		Run: func(_ context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
			res, err := perm.New(env.FS, env.Logger).EnsureIdentity(id)
			if err != nil {
				return pipeline.Outcome{}, err
			}
			changed := res.CreatedUser || res.CreatedGroup || res.CreatedHome
			summary := "identity " + id.User + " already present"
			if changed {
				summary = "created identity " + id.User
			}
			return pipeline.Outcome{Changed: changed, Summary: summary, Details: res}, nil
		},
		Check: func(_ context.Context, env *pipeline.Env) error {
			return perm.New(env.FS, env.Logger).CheckIdentity(id)
		},
	}, identityInstruction(id, b.alpine()))
}

func (b *planBuilder) addRewrites() {
	for i, rule := range b.m.Rewrites {
		inputs := make([]pipeline.Resource, 0, len(rule.Targets))
		for _, t := range rule.Targets {
			inputs = append(inputs, pipeline.PathResource(t))
		}
		b.add(pipeline.Step{
			Name:        RewriteStep(i),
			Description: fmt.Sprintf("rewrite %q to %q in %d file(s)", rule.Token, rule.Replacement, len(rule.Targets)),
			Class:       pipeline.SafeToRepeat,
			Inputs:      inputs,
			Run: func(_ context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
				results, err := patch.New(env.FS, env.Logger).Apply(rule)
				if err != nil {
					return pipeline.Outcome{}, err
				}
				total := 0
				for _, r := range results {
					total += r.Substitutions
				}
				return pipeline.Outcome{
					Changed: total > 0,
					Summary: fmt.Sprintf("%d substitution(s)", total),
					Details: results,
				}, nil
			},
			Check: func(_ context.Context, env *pipeline.Env) error {
				n, err := patch.New(env.FS, env.Logger).Pending(rule)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%d occurrence(s) of %q left unrewritten", n, rule.Token)
				}
				return nil
			},
			Unsatisfied: func(in pipeline.Resource) error {
				return fault.Newf(fault.KindRewriteTargetMissing, in.Key(),
					"no step places the target and the base filesystem lacks it")
			},
		}, "RUN "+rewriteScript(rule))
	}
}

func (b *planBuilder) addRegions() {
	regions := slices.Clone(b.m.Regions)
	if len(regions) == 0 {
		return
	}
	var inputs []pipeline.Resource
	for _, r := range regions {
		inputs = append(inputs, pipeline.PathResource(r.Path))
		if r.Owner != "" {
			id := pipeline.IdentityResource(r.Owner)
			if !slices.Contains(inputs, id) {
				inputs = append(inputs, id)
			}
		}
	}
	group := ""
	if b.m.Identity != nil {
		group = b.m.Identity.Group
	}
	// Rewrites replace files in place and restore the mode they read, so
	// the grant must not interleave with them.
	after := make([]string, len(b.m.Rewrites))
	for i := range b.m.Rewrites {
		after[i] = RewriteStep(i)
	}
	b.add(pipeline.Step{
		Name:        GrantStep,
		Description: fmt.Sprintf("grant access to %d writable region(s)", len(regions)),
		Class:       pipeline.SafeToRepeat,
		Inputs:      inputs,
		After:       after,
		Run: func(_ context.Context, env *pipeline.Env) (pipeline.Outcome, error) {
			grants, err := perm.New(env.FS, env.Logger).Grant(regions)
			if err != nil {
				return pipeline.Outcome{}, err
			}
			entries := 0
			for _, g := range grants {
				entries += g.Entries
			}
			return pipeline.Outcome{
				Changed: entries > 0,
				Summary: fmt.Sprintf("%d region(s), %d entries", len(grants), entries),
				Details: grants,
			}, nil
		},
		Check: func(_ context.Context, env *pipeline.Env) error {
			return perm.New(env.FS, env.Logger).Verify(regions)
		},
		Unsatisfied: func(in pipeline.Resource) error {
			if in.Kind() == pipeline.KindPath {
				return fault.Newf(fault.KindRegionNotFound, in.Key(),
					"no step creates the region and the base filesystem lacks it")
			}
			return fmt.Errorf("input %s is not produced by any step", in)
		},
	}, grantInstruction(regions, group))
}

// alpine reports whether the manifest targets an apk-based base, whose
// busybox account tools take different flags.
func (b *planBuilder) alpine() bool {
	if strings.Contains(b.m.Base, "alpine") {
		return true
	}
	return slices.ContainsFunc(b.m.System, func(sp manifest.SystemPackage) bool {
		return sp.Manager == manifest.ManagerApk
	})
}
