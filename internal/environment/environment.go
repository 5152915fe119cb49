// SPDX-License-Identifier: MPL-2.0

// Package environment provisions and manages isolated execution environments.
//
// An Environment is keyed by the unit's environment key and bound to one
// runtime identifier. The Manager creates it lazily on first Acquire, hands
// the same Environment to every holder of that key during a run, serializes
// installs into it and poisons it after a failed install. Backends decide
// what an environment is: a virtualenv, a long-lived container or the host.
package environment

import (
	"context"
	"maps"
	"path/filepath"

	"github.com/invowk/runmatrix/internal/platform"
	"github.com/invowk/runmatrix/internal/process"
)

const (
	// BackendVirtualenv creates one virtualenv per environment key.
	BackendVirtualenv BackendType = "virtualenv"
	// BackendContainer runs steps in one container per environment key.
	BackendContainer BackendType = "container"
	// BackendNone runs steps directly on the host.
	BackendNone BackendType = "none"

	// EnvPipCacheDir is exported when a shared download cache is configured.
	EnvPipCacheDir = "PIP_CACHE_DIR"
)

// DefaultInstaller is the installer command; install arguments are appended.
var DefaultInstaller = []string{"python", "-m", "pip", "install"}

type (
	// BackendType names an environment backend.
	BackendType string

	// Environment is a provisioned execution context.
	Environment struct {
		Key     string
		Runtime string
		// Root is the host directory owned by the environment; installs lock Root+".lock".
		Root string
		// BinDir is prepended to PATH for native backends.
		BinDir string
		// Vars are contributed to every command run in the environment.
		Vars map[string]string
		// Handle is the backend handle, e.g. a container ID.
		Handle      string
		Interpreter string
		// Reused is set when an environment from an earlier invocation was kept.
		Reused bool
		// Reuse keeps the environment for later invocations.
		Reuse   bool
		Backend BackendType
	}

	// Request asks the Manager for an environment.
	Request struct {
		Key     string
		Runtime string
		Reuse   bool
	}

	// Backend creates environments and scopes commands to them.
	Backend interface {
		Type() BackendType
		// Provision creates (or reuses, when req.Reuse allows) an environment rooted at root.
		Provision(ctx context.Context, req Request, root string) (*Environment, error)
		// Command rewrites c so that it runs inside env.
		Command(env *Environment, c process.Command) process.Command
		// Teardown releases backend resources. On-disk state may stay for reuse.
		Teardown(ctx context.Context, env *Environment) error
	}
)

// String returns the backend name.
func (t BackendType) String() string { return string(t) }

// withVars returns c with env.Vars layered under the command's own overrides.
func withVars(env *Environment, c process.Command) process.Command {
	merged := maps.Clone(env.Vars)
	if merged == nil {
		merged = make(map[string]string, len(c.Env))
	}
	maps.Copy(merged, c.Env)
	c.Env = merged
	return c
}

// rootFor maps an environment key to a directory under the env dir.
func rootFor(base, key string) string {
	return filepath.Join(base, platform.SafeDirName(key))
}
