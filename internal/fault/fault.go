// SPDX-License-Identifier: MPL-2.0

// Package fault defines the provisioning error taxonomy shared by every
// pipeline component. Components return *Error values carrying a Kind so the
// orchestrator can decide whether a failure may be retried and the CLI can
// map it to an exit code and remediation guide.
package fault

import (
	"errors"
	"fmt"
)

const (
	// KindUnknown is the zero Kind; it is never retryable.
	KindUnknown Kind = iota
	// KindSourceNotFound means a local source path to stage does not exist.
	KindSourceNotFound
	// KindPackageUnavailable means a remote fetch or registry lookup failed
	// for a reason that may go away on retry (network, registry outage).
	KindPackageUnavailable
	// KindInstallFailed means a package manager ran and failed; the target
	// filesystem must be assumed inconsistent.
	KindInstallFailed
	// KindRewriteTargetMissing means a rewrite rule targets an asset that
	// no earlier step placed.
	KindRewriteTargetMissing
	// KindRegionNotFound means a writable region does not exist when its
	// grant is requested.
	KindRegionNotFound
	// KindIdentityConflict means the runtime identity collides with an
	// existing, different account.
	KindIdentityConflict
	// KindRegionTooBroad means a writable region would relax a system-wide
	// directory.
	KindRegionTooBroad
	// KindOrderViolation means the manifest order contradicts a dependency
	// edge under the strict ordering policy.
	KindOrderViolation
	// KindDependencyCycle means the step graph cannot be ordered.
	KindDependencyCycle
	// KindInvalidManifest means the manifest failed schema or semantic
	// validation.
	KindInvalidManifest
)

var (
	// ErrSourceNotFound is the sentinel matched by KindSourceNotFound errors.
	ErrSourceNotFound = errors.New("source not found")
	// ErrPackageUnavailable is the sentinel matched by KindPackageUnavailable errors.
	ErrPackageUnavailable = errors.New("package unavailable")
	// ErrInstallFailed is the sentinel matched by KindInstallFailed errors.
	ErrInstallFailed = errors.New("install failed")
	// ErrRewriteTargetMissing is the sentinel matched by KindRewriteTargetMissing errors.
	ErrRewriteTargetMissing = errors.New("rewrite target missing")
	// ErrRegionNotFound is the sentinel matched by KindRegionNotFound errors.
	ErrRegionNotFound = errors.New("region not found")
	// ErrIdentityConflict is the sentinel matched by KindIdentityConflict errors.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrRegionTooBroad is the sentinel matched by KindRegionTooBroad errors.
	ErrRegionTooBroad = errors.New("region too broad")
	// ErrOrderViolation is the sentinel matched by KindOrderViolation errors.
	ErrOrderViolation = errors.New("order violation")
	// ErrDependencyCycle is the sentinel matched by KindDependencyCycle errors.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrInvalidManifest is the sentinel matched by KindInvalidManifest errors.
	ErrInvalidManifest = errors.New("invalid manifest")
)

type (
	// Kind classifies a provisioning failure.
	Kind int

	// Error is a classified provisioning failure. Resource names the path,
	// package or identity involved; Cause is the underlying error, if any.
	Error struct {
		Kind     Kind
		Resource string
		Cause    error
	}
)

var kindInfo = map[Kind]struct {
	name     string
	sentinel error
	exitCode int
}{
	KindSourceNotFound:       {"SourceNotFound", ErrSourceNotFound, 10},
	KindPackageUnavailable:   {"PackageUnavailable", ErrPackageUnavailable, 11},
	KindInstallFailed:        {"InstallFailed", ErrInstallFailed, 12},
	KindRewriteTargetMissing: {"RewriteTargetMissing", ErrRewriteTargetMissing, 13},
	KindRegionNotFound:       {"RegionNotFound", ErrRegionNotFound, 14},
	KindIdentityConflict:     {"IdentityConflict", ErrIdentityConflict, 15},
	KindRegionTooBroad:       {"RegionTooBroad", ErrRegionTooBroad, 14},
	KindOrderViolation:       {"OrderViolation", ErrOrderViolation, 16},
	KindDependencyCycle:      {"DependencyCycle", ErrDependencyCycle, 16},
	KindInvalidManifest:      {"InvalidManifest", ErrInvalidManifest, 2},
}

// New returns a classified error for resource.
func New(kind Kind, resource string, cause error) *Error {
	return &Error{Kind: kind, Resource: resource, Cause: cause}
}

// Newf returns a classified error whose cause is built from a format string.
func Newf(kind Kind, resource, format string, args ...any) *Error {
	return &Error{Kind: kind, Resource: resource, Cause: fmt.Errorf(format, args...)}
}

// String returns the taxonomy name of the kind, e.g. "RegionNotFound".
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return "Unknown"
}

// Retryable reports whether failures of this kind are transient.
// Only PackageUnavailable qualifies; every other class is fatal.
func (k Kind) Retryable() bool {
	return k == KindPackageUnavailable
}

// ExitCode returns the process exit code reported for this kind.
func (k Kind) ExitCode() int {
	if info, ok := kindInfo[k]; ok {
		return info.exitCode
	}
	return 1
}

// Sentinel returns the Err* value that errors of this kind match with errors.Is.
func (k Kind) Sentinel() error {
	return kindInfo[k].sentinel
}

// Kinds returns every named kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindSourceNotFound,
		KindPackageUnavailable,
		KindInstallFailed,
		KindRewriteTargetMissing,
		KindRegionNotFound,
		KindIdentityConflict,
		KindRegionTooBroad,
		KindOrderViolation,
		KindDependencyCycle,
		KindInvalidManifest,
	}
}

// ParseKind resolves a taxonomy name (case-sensitive) to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, true
		}
	}
	return KindUnknown, false
}

func (e *Error) Error() string {
	msg := e.Kind.Sentinel()
	text := "provisioning error"
	if msg != nil {
		text = msg.Error()
	}
	if e.Resource != "" {
		text += " " + e.Resource
	}
	if e.Cause != nil {
		text += ": " + e.Cause.Error()
	}
	return text
}

// Unwrap exposes both the kind sentinel and the cause so errors.Is matches
// either.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
