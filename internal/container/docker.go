// SPDX-License-Identifier: MPL-2.0

package container

// DockerEngine drives the docker CLI.
type DockerEngine struct {
	*cliEngine
}

// NewDockerEngine creates a Docker engine; the binary is resolved from PATH.
func NewDockerEngine(opts ...Option) *DockerEngine {
	return &DockerEngine{cliEngine: newCLIEngine(EngineTypeDocker, opts...)}
}
