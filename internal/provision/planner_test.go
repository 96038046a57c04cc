// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/internal/logging"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/internal/shell"
	"github.com/layerkit/layerkit/internal/testutil"
	"github.com/layerkit/layerkit/pkg/manifest"
)

const barSite = "/usr/local/lib/python3.12/site-packages/bar"

func webappManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:       "webapp",
		Base:       "python:3.12-slim",
		Prefix:     "/notebook",
		Workdir:    "/srv/app",
		Entrypoint: []string{"gunicorn", "--bind", "0.0.0.0:8000", "server:app"},
		Sources: []manifest.Source{
			{Name: "client", From: "client/dist", To: "/srv/app/static"},
			{Name: "server", From: "server", To: "/srv/app/server"},
			{Name: "bar-src", From: "vendor/bar", To: "/opt/src/bar"},
		},
		System: []manifest.SystemPackage{
			{Manager: manifest.ManagerApt, Name: "gcc", Class: manifest.ClassToolchain},
			{Manager: manifest.ManagerApt, Name: "libfoo-dev", Class: manifest.ClassLibrary},
			{Manager: manifest.ManagerApt, Name: "python3-dev", Class: manifest.ClassRuntime},
		},
		Packages: []manifest.Package{
			{
				Manager:  manifest.ManagerPip,
				Name:     "bar",
				Version:  "1.1.0",
				Links:    []string{"libfoo-dev"},
				Provides: []string{barSite},
				Override: &manifest.Override{Source: "bar-src", Version: "1.2.0"},
			},
			{Manager: manifest.ManagerPip, Name: "gunicorn"},
		},
		Rewrites: []manifest.Rewrite{
			{Token: "/api/", Replacement: "/notebook/api/", Targets: []string{"/srv/app/static/index.html"}},
		},
		Identity: &manifest.Identity{User: "app", Group: "app", UID: 1000, GID: 1000, Home: "/home/app"},
		Regions: []manifest.Region{
			{Path: barSite, Mode: "0777", Recursive: true},
			{Path: "/tmp", Mode: "1777"},
			{Path: "/home/app", Mode: "0750", Owner: "app"},
		},
	}
}

func webappSources(t *testing.T) afero.Fs {
	t.Helper()
	fs := fsys.Mem()
	testutil.MustWriteFile(t, fs, "/client/dist/index.html", `<script src="/api/app.js"></script><a href="/api/docs">`, 0o644)
	testutil.MustWriteFile(t, fs, "/client/dist/app.css", "body{}", 0o644)
	testutil.MustWriteFile(t, fs, "/server/server.py", "app = None\n", 0o755)
	testutil.MustWriteFile(t, fs, "/vendor/bar/setup.py", "# bar\n", 0o644)
	return fs
}

func baseTarget(t *testing.T) *testutil.OwnerFs {
	t.Helper()
	fs := testutil.NewOwnerFs(fsys.Mem())
	testutil.MustWriteFile(t, fs, "/etc/passwd", "root:x:0:0:root:/root:/bin/bash\n", 0o644)
	testutil.MustWriteFile(t, fs, "/etc/group", "root:x:0:\n", 0o644)
	testutil.MustMkdirAll(t, fs, "/home", 0o755)
	testutil.MustMkdirAll(t, fs, "/tmp", 0o755)
	fs.Reset()
	return fs
}

type harness struct {
	target   *testutil.OwnerFs
	packages *testutil.Packages
	recorder *shell.Recorder
	env      *pipeline.Env
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	target := baseTarget(t)
	pk := testutil.NewPackages(target)
	pk.Registry["pip:bar"] = "1.1.0"
	pk.Sources["/opt/src/bar"] = "1.2.0"
	pk.Requires["pip:bar"] = []string{"apt:libfoo-dev"}
	pk.Provides["pip:bar"] = []string{barSite}
	rec := shell.NewRecorder(pk.Respond)
	return &harness{
		target:   target,
		packages: pk,
		recorder: rec,
		env: &pipeline.Env{
			FS:      target,
			Sources: webappSources(t),
			Root:    "/",
			Runner:  rec,
			Logger:  logging.Discard(),
		},
	}
}

func mustPlan(t *testing.T, m *manifest.Manifest, opts ...PlannerOption) *Build {
	t.Helper()
	b, err := NewPlanner(opts...).Plan(m)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return b
}

func assertBefore(t *testing.T, order []string, first, second string) {
	t.Helper()
	i, j := slices.Index(order, first), slices.Index(order, second)
	if i < 0 || j < 0 {
		t.Fatalf("order %v lacks %q or %q", order, first, second)
	}
	if i > j {
		t.Errorf("%s runs after %s in %v", first, second, order)
	}
}

func TestPlan_Webapp(t *testing.T) {
	t.Parallel()

	b := mustPlan(t, webappManifest())
	order := b.Plan.Order()

	for _, pair := range [][2]string{
		{IndexStep(manifest.ManagerApt), InstallStep(manifest.ManagerApt, "gcc")},
		{InstallStep(manifest.ManagerApt, "gcc"), InstallStep(manifest.ManagerApt, "libfoo-dev")},
		{InstallStep(manifest.ManagerApt, "libfoo-dev"), InstallStep(manifest.ManagerApt, "python3-dev")},
		{InstallStep(manifest.ManagerApt, "python3-dev"), InstallStep(manifest.ManagerPip, "bar")},
		{InstallStep(manifest.ManagerPip, "bar"), OverrideStep("bar")},
		{StageStep("bar-src"), OverrideStep("bar")},
		{OverrideStep("bar"), GrantStep},
		{IdentityStep("app"), GrantStep},
		{StageStep("client"), RewriteStep(0)},
	} {
		assertBefore(t, order, pair[0], pair[1])
	}
	if moves := b.Plan.Moves(); len(moves) != 0 {
		t.Errorf("Moves() = %v, want none for a well-ordered manifest", moves)
	}
	if len(order) != 13 {
		t.Errorf("got %d steps, want 13: %v", len(order), order)
	}

	s, ok := b.Plan.Step(IdentityStep("app"))
	if !ok || s.Class != pipeline.MustRunOnce {
		t.Errorf("identity step = %+v, want must-run-once", s)
	}
	if unbound := b.Plan.Unbound(GrantStep); !slices.Equal(unbound, []pipeline.Resource{pipeline.PathResource("/tmp")}) {
		t.Errorf("Unbound(grant) = %v, want only /tmp", unbound)
	}
}

func TestPlan_ScenarioA(t *testing.T) {
	t.Parallel()

	// The library is declared before the toolchain it is built with.
	m := webappManifest()
	m.System[0], m.System[1] = m.System[1], m.System[0]

	b := mustPlan(t, m)
	assertBefore(t, b.Plan.Order(), InstallStep(manifest.ManagerApt, "gcc"), InstallStep(manifest.ManagerApt, "libfoo-dev"))
	want := pipeline.Move{Step: InstallStep(manifest.ManagerApt, "gcc"), Before: InstallStep(manifest.ManagerApt, "libfoo-dev")}
	if !slices.Contains(b.Plan.Moves(), want) {
		t.Errorf("Moves() = %v, want %v", b.Plan.Moves(), want)
	}

	_, err := NewPlanner(WithPolicy(pipeline.PolicyStrict)).Plan(m)
	if !errors.Is(err, fault.ErrOrderViolation) {
		t.Fatalf("strict Plan() error = %v, want OrderViolation", err)
	}
}

func TestPlan_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*manifest.Manifest)
		want   error
	}{
		{
			name:   "region too broad",
			mutate: func(m *manifest.Manifest) { m.Regions = append(m.Regions, manifest.Region{Path: "/usr", Mode: "0777"}) },
			want:   fault.ErrRegionTooBroad,
		},
		{
			name: "overlapping destinations",
			mutate: func(m *manifest.Manifest) {
				m.Sources = append(m.Sources, manifest.Source{Name: "extra", From: "extra", To: "/srv/app/static/extra"})
			},
			want: fault.ErrInvalidManifest,
		},
		{
			name:   "home on a system directory",
			mutate: func(m *manifest.Manifest) { m.Identity.Home = "/var" },
			want:   fault.ErrRegionTooBroad,
		},
		{
			name:   "invalid manager",
			mutate: func(m *manifest.Manifest) { m.Packages[1].Manager = "gem" },
			want:   manifest.ErrInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := webappManifest()
			tt.mutate(m)
			if _, err := NewPlanner().Plan(m); !errors.Is(err, tt.want) {
				t.Errorf("Plan() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPlan_GrantFollowsRewrites(t *testing.T) {
	t.Parallel()

	m := webappManifest()
	m.Regions = append(m.Regions, manifest.Region{Path: "/srv/app", Mode: "0775", Owner: "app", Recursive: true})
	m.Rewrites = append(m.Rewrites, manifest.Rewrite{
		Token: "ws://", Replacement: "wss://", Targets: []string{"/srv/app/static/index.html"},
	})
	b := mustPlan(t, m)

	levels := b.Plan.Levels()
	levelOf := func(name string) int {
		for i, level := range levels {
			if slices.Contains(level, name) {
				return i
			}
		}
		t.Fatalf("step %s not in levels %v", name, levels)
		return -1
	}
	grant := levelOf(GrantStep)
	for i := range m.Rewrites {
		if rw := levelOf(RewriteStep(i)); rw >= grant {
			t.Errorf("%s at level %d, grant at level %d: they may run together", RewriteStep(i), rw, grant)
		}
	}
}

func TestPlan_OverwriteOrdersAfterEarlierSource(t *testing.T) {
	t.Parallel()

	m := webappManifest()
	m.Sources = append(m.Sources, manifest.Source{Name: "theme", From: "theme", To: "/srv/app/static/theme", Overwrite: true})
	b := mustPlan(t, m)
	if deps := b.Plan.Dependencies(StageStep("theme")); !slices.Contains(deps, StageStep("client")) {
		t.Errorf("Dependencies(stage:theme) = %v, want stage:client", deps)
	}
}

func TestBuild_Webapp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := mustPlan(t, webappManifest())
	res, err := pipeline.New(pipeline.WithRetry(pipeline.RetryPolicy{Attempts: 1})).Run(context.Background(), b.Plan, h.env)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status.State != pipeline.StateCompleted {
		t.Fatalf("state = %s", res.Status.State)
	}

	// (a) server entrypoint staged
	if got := testutil.MustMode(t, h.target, "/srv/app/server/server.py").Perm(); got != 0o755 {
		t.Errorf("server.py mode = %o, want 755", got)
	}
	// (b) override wins over the registry version; package dir world-writable
	if v := h.packages.Installed()["pip:bar"]; v != "1.2.0" {
		t.Errorf("pip:bar = %q, want override version 1.2.0", v)
	}
	if got := testutil.MustMode(t, h.target, barSite).Perm(); got != 0o777 {
		t.Errorf("bar dir mode = %o, want 777", got)
	}
	// (c) client asset rewritten for the mount prefix
	index := testutil.MustReadFile(t, h.target, "/srv/app/static/index.html")
	if want := `<script src="/notebook/api/app.js"></script><a href="/notebook/api/docs">`; index != want {
		t.Errorf("index.html = %q, want %q", index, want)
	}
	// (d) identity with home
	if passwd := testutil.MustReadFile(t, h.target, "/etc/passwd"); !strings.Contains(passwd, "app:x:1000:1000:") {
		t.Errorf("passwd lacks app:\n%s", passwd)
	}
	// (e) every region carries its bits
	if got := testutil.MustMode(t, h.target, "/tmp"); got.Perm() != 0o777 || got&os.ModeSticky == 0 {
		t.Errorf("/tmp mode = %v, want sticky 1777", got)
	}
	if owner, ok := h.target.Owner("/home/app"); !ok || owner.UID != 1000 {
		t.Errorf("/home/app owner = %+v, %v", owner, ok)
	}

	lines := h.recorder.Lines()
	if !slices.ContainsFunc(lines, func(l string) bool { return strings.Contains(l, "--force-reinstall") }) {
		t.Errorf("override command not issued: %v", lines)
	}
}

func TestBuild_RerunConverges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := mustPlan(t, webappManifest())
	orch := pipeline.New(pipeline.WithRetry(pipeline.RetryPolicy{Attempts: 1}))
	if _, err := orch.Run(context.Background(), b.Plan, h.env); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	first, err := fsys.TreeDigest(h.target, "/")
	if err != nil {
		t.Fatal(err)
	}

	res, err := orch.Run(context.Background(), b.Plan, h.env)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	for _, rec := range res.Steps {
		if rec.Name == IdentityStep("app") && rec.Changed {
			t.Errorf("identity recreated on rerun: %s", rec.Summary)
		}
	}
	second, err := fsys.TreeDigest(h.target, "/")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("rerun changed the target tree")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	var digests []fsys.Digest
	for range 2 {
		h := newHarness(t)
		b := mustPlan(t, webappManifest())
		if _, err := pipeline.New().Run(context.Background(), b.Plan, h.env); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		d, err := fsys.TreeDigest(h.target, "/")
		if err != nil {
			t.Fatal(err)
		}
		digests = append(digests, d)
	}
	if digests[0] != digests[1] {
		t.Errorf("digests differ: %s vs %s", digests[0], digests[1])
	}
}

func TestBuild_ScenarioB(t *testing.T) {
	t.Parallel()

	t.Run("target outside every provided path", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		m := webappManifest()
		m.Rewrites[0].Targets = []string{"/etc/webapp/settings.js"}
		res, err := pipeline.New().Run(context.Background(), mustPlan(t, m).Plan, h.env)
		if !errors.Is(err, fault.ErrRewriteTargetMissing) {
			t.Fatalf("Run() error = %v, want RewriteTargetMissing", err)
		}
		if res.Status.State != pipeline.StateFailed || res.Status.Step != RewriteStep(0) {
			t.Errorf("status = %+v, want Failed at %s", res.Status, RewriteStep(0))
		}
		if len(h.recorder.Commands()) != 0 {
			t.Errorf("commands ran before the failure was detected: %v", h.recorder.Lines())
		}
	})

	t.Run("provider did not place target", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		m := webappManifest()
		m.Rewrites[0].Targets = []string{"/srv/app/static/missing.html"}
		res, err := pipeline.New().Run(context.Background(), mustPlan(t, m).Plan, h.env)
		if !errors.Is(err, fault.ErrRewriteTargetMissing) {
			t.Fatalf("Run() error = %v, want RewriteTargetMissing", err)
		}
		if res.Status.Step != RewriteStep(0) {
			t.Errorf("failed step = %q", res.Status.Step)
		}
	})
}

func TestBuild_ScenarioC(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	m := webappManifest()
	m.Regions = append(m.Regions, manifest.Region{Path: "/srv/data", Mode: "0777"})
	res, err := pipeline.New().Run(context.Background(), mustPlan(t, m).Plan, h.env)
	if !errors.Is(err, fault.ErrRegionNotFound) {
		t.Fatalf("Run() error = %v, want RegionNotFound", err)
	}
	if res.Status.Step != GrantStep {
		t.Errorf("failed step = %q, want %s", res.Status.Step, GrantStep)
	}
	if chmods := h.target.Chmods(); len(chmods) != 0 {
		t.Errorf("permissions changed before the failure: %v", chmods)
	}
	if len(h.packages.Installed()) != 0 {
		t.Errorf("packages installed before the failure: %v", h.packages.Installed())
	}
}

func TestBuild_DryRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	base := h.target
	overlay := fsys.Overlay(base)
	rec := shell.NewRecorder(nil)
	env := *h.env
	env.FS = overlay
	env.Runner = rec
	env.DryRun = true

	m := webappManifest()
	res, err := pipeline.New(pipeline.WithoutLock()).Run(context.Background(), mustPlan(t, m).Plan, &env)
	if err != nil {
		t.Fatalf("dry Run() error = %v", err)
	}
	if res.Status.State != pipeline.StateCompleted {
		t.Fatalf("state = %s", res.Status.State)
	}
	if ok, _ := fsys.Exists(base, "/srv/app/static/index.html"); ok {
		t.Error("dry run wrote to the base filesystem")
	}
	if len(rec.Commands()) == 0 {
		t.Error("dry run recorded no commands")
	}
}
