// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"context"
	"slices"
	"sync"

	"github.com/invowk/runmatrix/internal/container"
	"github.com/invowk/runmatrix/internal/process"
)

type (
	// recordingRunner records commands and answers with canned results.
	recordingRunner struct {
		mu       sync.Mutex
		commands []process.Command
		result   func(process.Command) (*process.Result, error)
	}

	countingBackend struct {
		HostBackend
		mu         sync.Mutex
		provisions int
		teardowns  int
		err        error
		// kind overrides the backend type of provisioned environments.
		kind BackendType
	}

	fakeEngine struct {
		mu      sync.Mutex
		started []container.StartOptions
		removed []string
		startErr error
	}
)

func (r *recordingRunner) Run(_ context.Context, c process.Command) (*process.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
	if r.result != nil {
		return r.result(c)
	}
	return &process.Result{}, nil
}

func (r *recordingRunner) Commands() []process.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commands)
}

func (b *countingBackend) Provision(ctx context.Context, req Request, root string) (*Environment, error) {
	b.mu.Lock()
	b.provisions++
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	env, err := b.HostBackend.Provision(ctx, req, root)
	if err == nil && b.kind != "" {
		env.Backend = b.kind
	}
	return env, err
}

func (b *countingBackend) Teardown(context.Context, *Environment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardowns++
	return nil
}

func (b *countingBackend) counts() (provisions, teardowns int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.provisions, b.teardowns
}

func (*fakeEngine) Name() string                   { return "docker" }
func (*fakeEngine) BinaryPath() string             { return "/usr/bin/docker" }
func (*fakeEngine) Available(context.Context) bool { return true }

func (e *fakeEngine) Start(_ context.Context, opts container.StartOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return "", e.startErr
	}
	e.started = append(e.started, opts)
	return "cid-1", nil
}

func (*fakeEngine) ExecArgs(id string, command []string, opts container.ExecOptions) []string {
	args := []string{"exec"}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	args = append(args, id)
	return append(args, command...)
}

func (e *fakeEngine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, id)
	return nil
}
