// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
)

// PodmanEngine builds with the podman CLI. Podman runs daemonless, so a
// working client is enough.
type PodmanEngine struct {
	*BaseCLIEngine
}

var _ Engine = (*PodmanEngine)(nil)

// NewPodmanEngine resolves podman from PATH unless WithBinaryPath says otherwise.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	return &PodmanEngine{BaseCLIEngine: newCLIEngine(EngineTypePodman, opts)}
}

func (e *PodmanEngine) Name() string { return string(EngineTypePodman) }

func (e *PodmanEngine) Available() bool {
	return e.responds("version", "--format", "{{.Client.Version}}")
}

// ImageExists uses "podman image exists", which exits 1 only for a
// missing image.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "exists", image)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		return false, err
	}
}
