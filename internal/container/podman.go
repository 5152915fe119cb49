// SPDX-License-Identifier: MPL-2.0

package container

import (
	"os"
	"slices"
	"strings"
)

// selinuxEnforcePath is replaced in tests.
var selinuxEnforcePath = "/sys/fs/selinux/enforce"

// PodmanEngine drives the podman CLI. Rootless runs keep the host user ID so
// files written to the mounted project stay owned by the invoking user, and
// mounts get the shared SELinux label when SELinux is enforcing.
type PodmanEngine struct {
	*cliEngine
}

// NewPodmanEngine creates a Podman engine; the binary is resolved from PATH.
func NewPodmanEngine(opts ...Option) *PodmanEngine {
	e := newCLIEngine(EngineTypePodman, opts...)
	e.volumeFormatter = addSELinuxLabel
	e.startArgsTransformer = keepUserNamespace
	e.versionFormat = "{{.Version}}"
	return &PodmanEngine{cliEngine: e}
}

func isSELinuxEnforcing() bool {
	data, err := os.ReadFile(selinuxEnforcePath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// addSELinuxLabel appends :z to host:container mounts that carry no SELinux label.
func addSELinuxLabel(volume string) string {
	if !isSELinuxEnforcing() {
		return volume
	}
	parts := strings.Split(volume, ":")
	switch {
	case len(parts) < 2:
		return volume
	case len(parts) == 2:
		return volume + ":z"
	}
	for opt := range strings.SplitSeq(parts[len(parts)-1], ",") {
		if opt == "z" || opt == "Z" {
			return volume
		}
	}
	return volume + ",z"
}

// keepUserNamespace inserts --userns=keep-id after "run" unless a userns
// flag is already present.
func keepUserNamespace(args []string) []string {
	if len(args) == 0 || args[0] != "run" {
		return args
	}
	if slices.ContainsFunc(args, func(a string) bool { return strings.HasPrefix(a, "--userns") }) {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, "run", "--userns=keep-id")
	return append(out, args[1:]...)
}
