// SPDX-License-Identifier: MPL-2.0

// Package install drives the system and language package managers.
//
// System packages go through apt or apk, language packages through pip. Every
// command runs via a shell.Runner and every failure is classified: output
// that points at the network or a lock is PackageUnavailable, anything else
// InstallFailed. A language package with an override is installed twice: once
// from the registry, then force-reinstalled from a staged local source whose
// installed version is verified afterwards.
package install

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/shell"
	"github.com/layerkit/layerkit/pkg/manifest"
)

const defaultPython = "python3"

type (
	// Installer runs package-manager commands.
	Installer struct {
		runner shell.Runner
		python string
		logger *slog.Logger
		dryRun bool
	}

	// Option configures an Installer.
	Option func(*Installer)
)

// WithPython sets the interpreter used to run pip. Default is python3.
func WithPython(python string) Option {
	return func(i *Installer) { i.python = python }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Installer) { i.logger = l }
}

// WithDryRun makes Override skip the installed-version query, whose
// output a recording runner cannot provide.
func WithDryRun() Option {
	return func(i *Installer) { i.dryRun = true }
}

// New creates an Installer running commands through runner.
func New(runner shell.Runner, opts ...Option) *Installer {
	i := &Installer{runner: runner, python: defaultPython, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Resource renders the fault resource for a package, e.g. "apt:libfoo-dev".
func Resource(mgr manifest.Manager, name string) string {
	return string(mgr) + ":" + name
}

// Refresh updates the package index where the manager keeps one. It is a
// no-op for apk (installs use --no-cache) and pip.
func (i *Installer) Refresh(ctx context.Context, mgr manifest.Manager) error {
	if mgr != manifest.ManagerApt {
		return nil
	}
	return i.run(ctx, Resource(mgr, "index"), []string{"apt-get", "update"})
}

// Install installs name from the manager's registry, pinned to version when
// set.
func (i *Installer) Install(ctx context.Context, mgr manifest.Manager, name, version string) error {
	args, err := i.installArgs(mgr, name, version)
	if err != nil {
		return err
	}
	return i.run(ctx, Resource(mgr, name), args)
}

// Override force-reinstalls a pip package from the staged source without
// touching its dependencies, then checks that version is what ended up
// installed.
func (i *Installer) Override(ctx context.Context, name, source, version string) error {
	resource := Resource(manifest.ManagerPip, name)
	if err := i.run(ctx, resource, i.OverrideCommand(source).Args); err != nil {
		return err
	}
	if i.dryRun {
		return nil
	}
	installed, err := i.Version(ctx, manifest.ManagerPip, name)
	if err != nil {
		return err
	}
	if installed != version {
		return fault.Newf(fault.KindInstallFailed, resource,
			"override from %s installed version %s, want %s", source, installed, version)
	}
	i.logger.Info("override installed", "package", name, "version", installed, "source", source)
	return nil
}

// Version returns the installed version of a package. A package that is
// not installed is an InstallFailed fault.
func (i *Installer) Version(ctx context.Context, mgr manifest.Manager, name string) (string, error) {
	resource := Resource(mgr, name)
	var args []string
	switch mgr {
	case manifest.ManagerApt:
		args = []string{"dpkg-query", "--show", "--showformat=${Version}", name}
	case manifest.ManagerApk:
		args = []string{"apk", "list", "--installed", name}
	case manifest.ManagerPip:
		args = []string{i.python, "-m", "pip", "show", name}
	default:
		return "", fault.New(fault.KindInvalidManifest, resource, &manifest.InvalidManagerError{Value: mgr})
	}

	res, err := i.runner.Run(ctx, shell.Command{Args: args})
	if err != nil {
		return "", Classify(resource, res, fmt.Errorf("query installed version: %w", err))
	}
	version := parseVersion(mgr, name, res.Stdout)
	if version == "" {
		return "", fault.Newf(fault.KindInstallFailed, resource, "not installed")
	}
	return version, nil
}

// Verify checks that name is installed and, when version is set, that the
// installed version matches it.
func (i *Installer) Verify(ctx context.Context, mgr manifest.Manager, name, version string) error {
	installed, err := i.Version(ctx, mgr, name)
	if err != nil {
		return err
	}
	if version != "" && !versionMatches(mgr, installed, version) {
		return fault.Newf(fault.KindInstallFailed, Resource(mgr, name),
			"installed version %s, want %s", installed, version)
	}
	return nil
}

// Commands returns the command lines Install would run, for plans and
// rendered Dockerfiles.
func (i *Installer) Commands(mgr manifest.Manager, name, version string) ([]shell.Command, error) {
	args, err := i.installArgs(mgr, name, version)
	if err != nil {
		return nil, err
	}
	return []shell.Command{{Args: args}}, nil
}

// OverrideCommand returns the pip invocation Override runs for source.
func (i *Installer) OverrideCommand(source string) shell.Command {
	return shell.Command{Args: []string{i.python, "-m", "pip", "install", "--no-cache-dir",
		"--upgrade", "--force-reinstall", "--no-deps", source}}
}

func (i *Installer) installArgs(mgr manifest.Manager, name, version string) ([]string, error) {
	switch mgr {
	case manifest.ManagerApt:
		spec := name
		if version != "" {
			spec += "=" + version
		}
		return []string{"apt-get", "install", "--yes", "--no-install-recommends", spec}, nil
	case manifest.ManagerApk:
		spec := name
		if version != "" {
			spec += "=" + version
		}
		return []string{"apk", "add", "--no-cache", spec}, nil
	case manifest.ManagerPip:
		spec := name
		if version != "" {
			spec += "==" + version
		}
		return []string{i.python, "-m", "pip", "install", "--no-cache-dir", spec}, nil
	default:
		return nil, fault.New(fault.KindInvalidManifest, Resource(mgr, name), &manifest.InvalidManagerError{Value: mgr})
	}
}

func (i *Installer) run(ctx context.Context, resource string, args []string) error {
	cmd := shell.Command{Args: args}
	i.logger.Debug("running package manager", "resource", resource, "command", cmd.String())
	res, err := i.runner.Run(ctx, cmd)
	return Classify(resource, res, err)
}

func parseVersion(mgr manifest.Manager, name, out string) string {
	switch mgr {
	case manifest.ManagerPip:
		sc := bufio.NewScanner(strings.NewReader(out))
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "Version:"); ok {
				return strings.TrimSpace(v)
			}
		}
		return ""
	case manifest.ManagerApk:
		// "name-1.2.3-r0 x86_64 {origin} (MIT) [installed]"
		field, _, _ := strings.Cut(strings.TrimSpace(out), " ")
		v, ok := strings.CutPrefix(field, name+"-")
		if !ok {
			return ""
		}
		return v
	default:
		return strings.TrimSpace(out)
	}
}

// versionMatches compares an installed version with a manifest pin. apt and
// apk pins may omit the distribution revision suffix.
func versionMatches(mgr manifest.Manager, installed, want string) bool {
	if installed == want {
		return true
	}
	switch mgr {
	case manifest.ManagerApt:
		return strings.HasPrefix(installed, want+"-")
	case manifest.ManagerApk:
		return strings.HasPrefix(installed, want+"-r")
	default:
		return false
	}
}

// Prerequisites returns the system packages that must be installed before a
// package of class: every system package of a lower tier. Language packages
// (ClassPackage) wait for every system package.
func Prerequisites(system []manifest.SystemPackage, class manifest.Class) []manifest.SystemPackage {
	var out []manifest.SystemPackage
	for _, p := range system {
		if p.Class.Rank() < class.Rank() {
			out = append(out, p)
		}
	}
	return out
}
