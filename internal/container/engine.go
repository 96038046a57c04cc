// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// EngineTypePodman selects the podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the docker CLI.
	EngineTypeDocker EngineType = "docker"
	// EngineTypeAuto picks whichever engine is available, podman first.
	EngineTypeAuto EngineType = "auto"
)

var (
	// ErrInvalidEngineType is returned when an engine name is not recognized.
	ErrInvalidEngineType = errors.New("invalid container engine type")

	// ErrNoEngine is the sentinel wrapped by EngineNotAvailableError.
	ErrNoEngine = errors.New("container engine not available")
)

type (
	// Engine is what the image builder needs from a container engine:
	// a cache lookup by tag and a build.
	Engine interface {
		Name() string
		Available() bool
		Build(ctx context.Context, opts BuildOptions) error
		ImageExists(ctx context.Context, image string) (bool, error)
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory
		ContextDir string
		// Dockerfile is the path to the Dockerfile (relative to ContextDir)
		Dockerfile string
		// Tag is the image tag
		Tag string
		// BuildArgs are build-time variables
		BuildArgs map[string]string
		// Labels are attached to the resulting image
		Labels map[string]string
		// NoCache disables the build cache
		NoCache bool
		// Stdout is where to write build output
		Stdout io.Writer
		// Stderr is where to write build errors
		Stderr io.Writer
	}

	// EngineType identifies the container engine type.
	EngineType string

	// EngineNotAvailableError is returned when no usable engine binary is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// IsValid returns whether the EngineType is one of the defined engines.
// The zero value is valid and means EngineTypeAuto.
func (t EngineType) IsValid() (bool, []error) {
	switch t {
	case EngineTypePodman, EngineTypeDocker, EngineTypeAuto, "":
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q (valid: docker, podman, auto)", ErrInvalidEngineType, string(t))}
	}
}

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngine for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngine }

// NewEngine creates a container engine based on preference, falling back to
// the other engine when the preferred one is not available.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	switch preferredType {
	case EngineTypePodman:
		if engine := NewPodmanEngine(opts...); engine.Available() {
			return engine, nil
		}
		if engine := NewDockerEngine(opts...); engine.Available() {
			return engine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		if engine := NewDockerEngine(opts...); engine.Available() {
			return engine, nil
		}
		if engine := NewPodmanEngine(opts...); engine.Available() {
			return engine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	case EngineTypeAuto, "":
		return AutoDetectEngine(opts...)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEngineType, preferredType)
	}
}

// AutoDetectEngine tries to find an available container engine.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	// Podman first: it is the common choice on rootless build hosts.
	if podman := NewPodmanEngine(opts...); podman.Available() {
		return podman, nil
	}
	if docker := NewDockerEngine(opts...); docker.Available() {
		return docker, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (podman or docker) is available on this system",
	}
}
