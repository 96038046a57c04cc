// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"strings"
)

// DockerEngine builds with the docker CLI. A client whose daemon does not
// answer counts as unavailable, since every build goes through the daemon.
type DockerEngine struct {
	*BaseCLIEngine
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine resolves docker from PATH unless WithBinaryPath says otherwise.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	return &DockerEngine{BaseCLIEngine: newCLIEngine(EngineTypeDocker, opts)}
}

func (e *DockerEngine) Name() string { return string(EngineTypeDocker) }

// Available asks the daemon for its version.
func (e *DockerEngine) Available() bool {
	return e.responds("version", "--format", "{{.Server.Version}}")
}

// ImageExists lists image ids for the reference. An empty listing is
// absence; a failing listing is the daemon's fault and is returned.
func (e *DockerEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	out, err := e.RunCommandWithOutput(ctx, "image", "ls", "--quiet", image)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
