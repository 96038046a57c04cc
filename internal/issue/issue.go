// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/layerkit/layerkit/internal/fault"
)

const (
	SourceNotFoundId Id = iota + 1
	PackageUnavailableId
	InstallFailedId
	RewriteTargetMissingId
	RegionNotFoundId
	IdentityConflictId
	RegionTooBroadId
	OrderViolationId
	DependencyCycleId
	InvalidManifestId
	EngineNotAvailableId
	BuildLockedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the remediation guide body.
	MarkdownMsg string

	// HttpLink is a documentation link appended to a rendered guide.
	HttpLink string

	// Issue is one remediation guide.
	Issue struct {
		id          Id
		name        string     // kind name or slug accepted by Lookup
		kind        fault.Kind // KindUnknown for issues outside the taxonomy
		mdMsg       MarkdownMsg
		suggestions []string // one-line hints attached to ActionableErrors
		extLinks    []HttpLink
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id }

// Name returns the name accepted by Lookup.
func (i *Issue) Name() string { return i.name }

// Kind returns the fault kind the issue documents.
func (i *Issue) Kind() fault.Kind { return i.kind }

// MarkdownMsg returns the raw guide.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Suggestions returns a copy of the one-line hints.
func (i *Issue) Suggestions() []string { return slices.Clone(i.suggestions) }

// ExtLinks returns a copy of the external links.
func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render renders the guide with glamour. An empty stylePath picks a style
// from the terminal background.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = renderMarkdown

	sourceNotFoundIssue = &Issue{
		id:   SourceNotFoundId,
		name: "SourceNotFound",
		kind: fault.KindSourceNotFound,
		mdMsg: `
# Source not found

A source listed under ` + "`sources`" + ` could not be staged. Local sources are
resolved against the source root (the manifest directory unless
` + "`--source-root`" + ` is given). Remote sources fail here when the server answers
with a 4xx status or the downloaded bytes do not match ` + "`sha256`" + `.

## Things you can try
- Check the ` + "`from`" + ` path relative to the source root
- Re-pin ` + "`sha256`" + ` after verifying the artifact you expect
~~~
$ layerkit plan layerkit.cue
~~~`,
		suggestions: []string{
			"Check the source path relative to --source-root",
			"Verify the sha256 pin of remote sources",
		},
	}

	packageUnavailableIssue = &Issue{
		id:   PackageUnavailableId,
		name: "PackageUnavailable",
		kind: fault.KindPackageUnavailable,
		mdMsg: `
# Package unavailable

A package index or remote artifact could not be reached. This class is
transient: safe-to-repeat steps were already retried with exponential backoff
before the build gave up.

## Things you can try
- Check DNS and proxy settings of the build host
- Raise ` + "`retry.attempts`" + ` or ` + "`retry.max_backoff`" + ` in the configuration
- Re-run the build; staged sources and installed packages are not redone`,
		suggestions: []string{
			"Check network access to the package mirrors",
			"Raise retry.attempts in the layerkit configuration",
		},
	}

	installFailedIssue = &Issue{
		id:   InstallFailedId,
		name: "InstallFailed",
		kind: fault.KindInstallFailed,
		mdMsg: `
# Install failed

A package manager ran and reported an error that retrying will not fix, or an
override left a different version installed than the one requested. The
target filesystem is partially provisioned; start the next build from a clean
base.

## Things you can try
- Check that every native package lists the system libraries it compiles
  against under ` + "`links`" + `
- Check that ` + "`override.version`" + ` matches the version the local source builds
- Re-run with ` + "`--verbose`" + ` to see the package manager output`,
		suggestions: []string{
			"List the system libraries a native package compiles against under links",
			"Check that override.version matches the local source",
		},
	}

	rewriteTargetMissingIssue = &Issue{
		id:   RewriteTargetMissingId,
		name: "RewriteTargetMissing",
		kind: fault.KindRewriteTargetMissing,
		mdMsg: `
# Rewrite target missing

A path rewrite names a target file that no earlier step placed. Targets must
lie under the destination of a source or under a path a package declares in
` + "`provides`" + `.

## Things you can try
- Add the installed asset to the package's ` + "`provides`" + ` list
- Check the target path for typos against the installed layout`,
		suggestions: []string{
			"Declare the asset under the providing package's provides list",
			"Check the rewrite target path for typos",
		},
	}

	regionNotFoundIssue = &Issue{
		id:   RegionNotFoundId,
		name: "RegionNotFound",
		kind: fault.KindRegionNotFound,
		mdMsg: `
# Writable region not found

A writable region does not exist in the base filesystem and no step creates
it. Every region is checked before any permission is changed, so nothing was
relaxed.

## Things you can try
- Stage an empty directory at the region path as a source
- Point the region at a path a package declares in ` + "`provides`" + ``,
		suggestions: []string{
			"Create the region with a source or a package provides entry",
		},
	}

	identityConflictIssue = &Issue{
		id:   IdentityConflictId,
		name: "IdentityConflict",
		kind: fault.KindIdentityConflict,
		mdMsg: `
# Identity conflict

The runtime identity collides with an account in the base image: the user or
group name exists with different ids, or the uid or gid belongs to another
name. layerkit never modifies existing accounts.

## Things you can try
- Pick a uid/gid not present in the base image's /etc/passwd and /etc/group
- Reuse the existing account by matching its ids exactly`,
		suggestions: []string{
			"Choose a uid/gid unused by the base image",
		},
	}

	regionTooBroadIssue = &Issue{
		id:   RegionTooBroadId,
		name: "RegionTooBroad",
		kind: fault.KindRegionTooBroad,
		mdMsg: `
# Writable region too broad

A writable region names the root directory or a top-level system directory
such as /usr or /etc. Relaxing permissions there would make the whole image
writable to the runtime identity.

## Things you can try
- Narrow the region to the directory the service actually writes`,
		suggestions: []string{
			"Narrow the region to the directory the service writes to",
		},
	}

	orderViolationIssue = &Issue{
		id:   OrderViolationId,
		name: "OrderViolation",
		kind: fault.KindOrderViolation,
		mdMsg: `
# Order violation

The strict ordering policy is active and the manifest lists a step before one
it depends on.

## Things you can try
- Move the dependency earlier in the manifest
- Drop ` + "`--strict-order`" + ` to let layerkit reorder and log every move
~~~
$ layerkit plan layerkit.cue
~~~`,
		suggestions: []string{
			"Reorder the manifest, or build without --strict-order",
		},
	}

	dependencyCycleIssue = &Issue{
		id:   DependencyCycleId,
		name: "DependencyCycle",
		kind: fault.KindDependencyCycle,
		mdMsg: `
# Dependency cycle

The step graph cannot be ordered because steps depend on each other in a loop.
The error lists the steps forming the cycle.

## Things you can try
- Remove one of the ` + "`links`" + ` or ` + "`provides`" + ` entries that closes the loop`,
		suggestions: []string{
			"Break the cycle listed in the error",
		},
	}

	invalidManifestIssue = &Issue{
		id:   InvalidManifestId,
		name: "InvalidManifest",
		kind: fault.KindInvalidManifest,
		mdMsg: `
# Invalid manifest

The manifest failed schema or semantic validation. Manifests may be written in
CUE, YAML, TOML, JSON/JSONC or HCL; the format is picked by file extension.

## Things you can try
- Run ` + "`layerkit plan`" + ` to see every validation error at once
- Check that each package uses a known manager: apt, apk or pip`,
		suggestions: []string{
			"Run 'layerkit plan' to list every validation error",
		},
	}

	engineNotAvailableIssue = &Issue{
		id:   EngineNotAvailableId,
		name: "engine-not-available",
		mdMsg: `
# Container engine not available

` + "`layerkit image`" + ` needs Docker or Podman to build the provisioned image.

## Things you can try
- Install Podman or Docker and make sure its daemon or socket is running
- Select the engine explicitly with ` + "`--engine`" + ` or ` + "`container_engine`" + ``,
		suggestions: []string{
			"Install podman or docker, or set container_engine",
		},
		extLinks: []HttpLink{
			"https://podman.io/docs/installation",
			"https://docs.docker.com/engine/install/",
		},
	}

	buildLockedIssue = &Issue{
		id:   BuildLockedId,
		name: "build-locked",
		mdMsg: `
# Target root is locked

Another build holds the lock file ` + "`/.layerkit.lock`" + ` in the target root. Two
builds must never provision the same root at once.

## Things you can try
- Wait for the other build to finish
- If no build is running, remove the stale lock file`,
		suggestions: []string{
			"Wait for the other build, or remove a stale /.layerkit.lock",
		},
	}

	issues = map[Id]*Issue{
		sourceNotFoundIssue.Id():       sourceNotFoundIssue,
		packageUnavailableIssue.Id():   packageUnavailableIssue,
		installFailedIssue.Id():        installFailedIssue,
		rewriteTargetMissingIssue.Id(): rewriteTargetMissingIssue,
		regionNotFoundIssue.Id():       regionNotFoundIssue,
		identityConflictIssue.Id():     identityConflictIssue,
		regionTooBroadIssue.Id():       regionTooBroadIssue,
		orderViolationIssue.Id():       orderViolationIssue,
		dependencyCycleIssue.Id():      dependencyCycleIssue,
		invalidManifestIssue.Id():      invalidManifestIssue,
		engineNotAvailableIssue.Id():   engineNotAvailableIssue,
		buildLockedIssue.Id():          buildLockedIssue,
	}
)

func renderMarkdown(md, stylePath string) (string, error) {
	style := glamour.WithAutoStyle()
	if stylePath != "" {
		style = glamour.WithStylePath(stylePath)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(80))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, id := range slices.Sorted(maps.Keys(issues)) {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the issue with the given id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// ForKind returns the issue documenting a fault kind, or nil.
func ForKind(k fault.Kind) *Issue {
	if k == fault.KindUnknown {
		return nil
	}
	for _, is := range issues {
		if is.kind == k {
			return is
		}
	}
	return nil
}

// Lookup finds an issue by kind name or slug, ignoring case.
func Lookup(name string) *Issue {
	for _, is := range Values() {
		if strings.EqualFold(is.name, name) {
			return is
		}
	}
	return nil
}
