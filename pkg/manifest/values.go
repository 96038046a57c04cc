// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
)

const (
	// ManagerApt installs Debian packages with apt-get.
	ManagerApt Manager = "apt"
	// ManagerApk installs Alpine packages with apk.
	ManagerApk Manager = "apk"
	// ManagerPip installs Python packages with pip.
	ManagerPip Manager = "pip"

	// ClassToolchain is a compiler or build tool.
	ClassToolchain Class = "toolchain"
	// ClassLibrary is a native library or its headers.
	ClassLibrary Class = "library"
	// ClassRuntime is a language runtime or interpreter.
	ClassRuntime Class = "runtime"
	// ClassPackage is a language-level package. It is implied for Package
	// entries and never written in manifests.
	ClassPackage Class = "package"
)

var (
	// ErrInvalidManager is returned when a Manager value is not recognized.
	ErrInvalidManager = errors.New("invalid package manager")
	// ErrInvalidClass is returned when a Class value is not recognized.
	ErrInvalidClass = errors.New("invalid package class")
)

type (
	// Manager names a package manager.
	Manager string

	// Class orders system packages: toolchains, then libraries, then
	// runtimes, then language packages.
	Class string

	// InvalidManagerError is returned when a Manager is not one of the defined managers.
	InvalidManagerError struct {
		Value Manager
	}

	// InvalidClassError is returned when a Class is not one of the defined classes.
	InvalidClassError struct {
		Value Class
	}
)

func (e *InvalidManagerError) Error() string {
	return fmt.Sprintf("invalid package manager %q (valid: apt, apk, pip)", string(e.Value))
}

// Unwrap returns ErrInvalidManager for errors.Is() compatibility.
func (e *InvalidManagerError) Unwrap() error { return ErrInvalidManager }

func (e *InvalidClassError) Error() string {
	return fmt.Sprintf("invalid package class %q (valid: toolchain, library, runtime)", string(e.Value))
}

// Unwrap returns ErrInvalidClass for errors.Is() compatibility.
func (e *InvalidClassError) Unwrap() error { return ErrInvalidClass }

// IsValid returns whether the Manager is one of the defined managers.
func (m Manager) IsValid() (bool, []error) {
	switch m {
	case ManagerApt, ManagerApk, ManagerPip:
		return true, nil
	default:
		return false, []error{&InvalidManagerError{Value: m}}
	}
}

// IsSystem reports whether the manager installs operating-system packages.
func (m Manager) IsSystem() bool {
	return m == ManagerApt || m == ManagerApk
}

// String returns the manager name.
func (m Manager) String() string { return string(m) }

// IsValid returns whether the Class may be declared on a system package.
func (c Class) IsValid() (bool, []error) {
	switch c {
	case ClassToolchain, ClassLibrary, ClassRuntime:
		return true, nil
	default:
		return false, []error{&InvalidClassError{Value: c}}
	}
}

// Rank returns the install tier of the class; lower tiers install first.
func (c Class) Rank() int {
	switch c {
	case ClassToolchain:
		return 0
	case ClassLibrary:
		return 1
	case ClassRuntime:
		return 2
	default:
		return 3
	}
}

// String returns the class name.
func (c Class) String() string { return string(c) }
