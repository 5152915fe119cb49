// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"context"
	"fmt"
	"os"

	"github.com/invowk/runmatrix/internal/process"
)

// HostBackend runs commands directly on the host. Installs go to whatever
// interpreter the host PATH resolves.
type HostBackend struct{}

// NewHostBackend creates the "none" backend.
func NewHostBackend() *HostBackend { return &HostBackend{} }

// Type returns BackendNone.
func (*HostBackend) Type() BackendType { return BackendNone }

// Provision creates the environment's scratch root and nothing else.
func (*HostBackend) Provision(_ context.Context, req Request, root string) (*Environment, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Err: fmt.Errorf("create %s: %w", root, err)}
	}
	return &Environment{
		Key:     req.Key,
		Runtime: req.Runtime,
		Root:    root,
		Vars:    map[string]string{},
		Reuse:   req.Reuse,
		Backend: BackendNone,
	}, nil
}

// Command passes c through with the environment variables applied.
func (*HostBackend) Command(env *Environment, c process.Command) process.Command {
	return withVars(env, c)
}

// Teardown is a no-op.
func (*HostBackend) Teardown(context.Context, *Environment) error { return nil }
