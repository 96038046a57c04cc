// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"fmt"
	"maps"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/shell"
)

type (
	// Packages is a scripted package database answering the apt, apk and
	// pip commands issued by the installer. Keys are "manager:name".
	Packages struct {
		mu sync.Mutex

		// Registry holds the version a registry install resolves to when
		// no pin is given. Missing entries install "1.0.0".
		Registry map[string]string
		// Sources maps a local override source path to the version it
		// installs.
		Sources map[string]string
		// Requires lists packages that must already be installed before a
		// key installs successfully, mimicking a native build that needs
		// headers from a system library.
		Requires map[string][]string
		// Provides lists paths created in FS when a key installs.
		Provides map[string][]string
		// Failures holds canned failing results per key, consumed one per
		// attempt. A key with an empty slice succeeds. Source installs
		// use "pip:name@source".
		Failures map[string][]shell.Result
		// FS receives provided paths. Nil disables file creation.
		FS afero.Fs

		installed map[string]string
		attempts  map[string]int
	}
)

// NewPackages returns an empty package database writing provided paths to fs.
func NewPackages(fs afero.Fs) *Packages {
	return &Packages{
		Registry:  make(map[string]string),
		Sources:   make(map[string]string),
		Requires:  make(map[string][]string),
		Provides:  make(map[string][]string),
		Failures:  make(map[string][]shell.Result),
		FS:        fs,
		installed: make(map[string]string),
		attempts:  make(map[string]int),
	}
}

// Transient returns a failing result whose output the installer classifies
// as PackageUnavailable.
func Transient() shell.Result {
	return shell.Result{ExitCode: 100, Stderr: "E: Failed to fetch http://deb.example/pool/x.deb  Temporary failure resolving 'deb.example'"}
}

// Broken returns a failing result the installer classifies as InstallFailed.
func Broken(msg string) shell.Result {
	return shell.Result{ExitCode: 1, Stderr: "error: " + msg}
}

// Installed returns a snapshot of installed packages and versions.
func (p *Packages) Installed() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.installed)
}

// Attempts returns how many install attempts key has received.
func (p *Packages) Attempts(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[key]
}

// Preinstall marks key as installed at version.
func (p *Packages) Preinstall(key, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installed[key] = version
}

// Respond implements shell.Responder.
func (p *Packages) Respond(cmd shell.Command) (shell.Result, error) {
	args := cmd.Args
	if len(args) > 0 && args[0] == "chroot" && len(args) > 2 {
		args = args[2:]
	}
	if len(args) >= 3 && args[1] == "-m" && args[2] == "pip" {
		return p.pip(args[3:])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case shell.Matches(args, "apt-get", "update"):
		if res, failed := p.fail("apt:index"); failed {
			return res, nil
		}
		return shell.Result{}, nil
	case shell.Matches(args, "apt-get", "install"):
		name, version, _ := strings.Cut(args[len(args)-1], "=")
		return p.install("apt:"+name, version, "1.0-1")
	case shell.Matches(args, "apk", "add"):
		name, version, _ := strings.Cut(args[len(args)-1], "=")
		return p.install("apk:"+name, version, "1.0.0-r0")
	case shell.Matches(args, "dpkg-query", "--show"):
		name := args[len(args)-1]
		v, ok := p.installed["apt:"+name]
		if !ok {
			return shell.Result{ExitCode: 1, Stderr: "dpkg-query: no packages found matching " + name}, nil
		}
		return shell.Result{Stdout: v}, nil
	case shell.Matches(args, "apk", "list", "--installed"):
		name := args[len(args)-1]
		v, ok := p.installed["apk:"+name]
		if !ok {
			return shell.Result{}, nil
		}
		return shell.Result{Stdout: fmt.Sprintf("%s-%s x86_64 {%s} (MIT) [installed]\n", name, v, name)}, nil
	}
	return shell.Result{ExitCode: 127, Stderr: args[0] + ": command not found"}, nil
}

func (p *Packages) pip(args []string) (shell.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(args) == 0 {
		return shell.Result{ExitCode: 2, Stderr: "ERROR: You must give at least one requirement"}, nil
	}
	last := args[len(args)-1]
	switch args[0] {
	case "show":
		v, ok := p.installed["pip:"+last]
		if !ok {
			return shell.Result{ExitCode: 1, Stderr: "WARNING: Package(s) not found: " + last}, nil
		}
		return shell.Result{Stdout: fmt.Sprintf("Name: %s\nVersion: %s\nSummary: test package\n", last, v)}, nil
	case "install":
		if shell.Contains(args, "--force-reinstall") {
			return p.installSource(last)
		}
		name, version, _ := strings.Cut(last, "==")
		return p.install("pip:"+name, version, "1.0.0")
	}
	return shell.Result{ExitCode: 2, Stderr: "ERROR: unknown command " + args[0]}, nil
}

// installSource installs a package from a local directory. The package name
// is the directory's base name.
func (p *Packages) installSource(src string) (shell.Result, error) {
	version, ok := p.Sources[src]
	if !ok {
		return shell.Result{ExitCode: 1, Stderr: fmt.Sprintf("ERROR: Directory '%s' is not installable.", src)}, nil
	}
	key := "pip:" + path.Base(src)
	if res, failed := p.fail(key + "@source"); failed {
		return res, nil
	}
	p.installed[key] = version
	return shell.Result{Stdout: "Successfully installed " + path.Base(src) + "-" + version}, nil
}

func (p *Packages) install(key, pin, fallback string) (shell.Result, error) {
	p.attempts[key]++
	if res, failed := p.fail(key); failed {
		return res, nil
	}
	for _, req := range p.Requires[key] {
		if _, ok := p.installed[req]; !ok {
			return shell.Result{ExitCode: 1, Stderr: fmt.Sprintf("fatal error: %s: headers not found", req)}, nil
		}
	}
	version := pin
	if version == "" {
		version = p.Registry[key]
	}
	if version == "" {
		version = fallback
	}
	p.installed[key] = version
	if p.FS != nil {
		for _, name := range p.Provides[key] {
			if err := p.FS.MkdirAll(name, 0o755); err != nil {
				return shell.Result{}, err
			}
		}
	}
	return shell.Result{Stdout: "installed " + key + " " + version}, nil
}

// fail pops the next canned failure for key. Callers hold p.mu.
func (p *Packages) fail(key string) (shell.Result, bool) {
	queue := p.Failures[key]
	if len(queue) == 0 {
		return shell.Result{}, false
	}
	p.Failures[key] = queue[1:]
	return queue[0], true
}
