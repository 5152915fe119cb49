// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

type (
	// ExecCommandFunc creates the exec.Cmd for an engine invocation.
	// Tests replace it to avoid a real engine.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Option configures a cliEngine.
	Option func(*cliEngine)

	// cliEngine holds what Docker and Podman share: argument builders and
	// command execution through the engine binary.
	cliEngine struct {
		name        EngineType
		binaryPath  string
		execCommand ExecCommandFunc
		// volumeFormatter adjusts mount specs (Podman adds SELinux labels).
		volumeFormatter func(string) string
		// startArgsTransformer edits the final run arguments (Podman adds --userns).
		startArgsTransformer func([]string) []string
		// versionFormat is the Go template passed to "version --format".
		versionFormat string
	}
)

// WithExecCommand sets the command factory used to invoke the engine.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(e *cliEngine) { e.execCommand = fn }
}

// WithBinaryPath overrides the engine binary lookup.
func WithBinaryPath(path string) Option {
	return func(e *cliEngine) { e.binaryPath = path }
}

func newCLIEngine(name EngineType, opts ...Option) *cliEngine {
	path, _ := exec.LookPath(string(name))
	e := &cliEngine{
		name:                 name,
		binaryPath:           path,
		execCommand:          exec.CommandContext,
		volumeFormatter:      func(v string) string { return v },
		startArgsTransformer: func(args []string) []string { return args },
		versionFormat:        "{{.Server.Version}}",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name.
func (e *cliEngine) Name() string { return string(e.name) }

// BinaryPath returns the engine binary path.
func (e *cliEngine) BinaryPath() string { return e.binaryPath }

// Available runs "<engine> version" and reports whether it succeeded.
func (e *cliEngine) Available(ctx context.Context) bool {
	if e.binaryPath == "" {
		return false
	}
	return e.execCommand(ctx, e.binaryPath, "version", "--format", e.versionFormat).Run() == nil
}

// StartArgs builds the arguments of a detached container that idles until removed.
//
// Generated command: <binary> run -d --rm [options] <image> sleep infinity
func (e *cliEngine) StartArgs(opts StartOptions) []string {
	args := []string{"run", "-d", "--rm"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}
	args = append(args, opts.Image, "sleep", "infinity")
	return e.startArgsTransformer(args)
}

// ExecArgs builds the arguments that run command in a running container.
//
// Generated command: <binary> exec [-w dir] [-e K=V...] <container> <command...>
func (e *cliEngine) ExecArgs(containerID string, command []string, opts ExecOptions) []string {
	args := []string{"exec"}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	args = append(args, containerID)
	return append(args, command...)
}

// Start launches the container and returns the ID printed by the engine.
func (e *cliEngine) Start(ctx context.Context, opts StartOptions) (string, error) {
	if e.binaryPath == "" {
		return "", &EngineNotAvailableError{Engine: e.name, Reason: "binary not found in PATH"}
	}
	cmd := e.execCommand(ctx, e.binaryPath, e.StartArgs(opts)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s run %s: %w: %s", e.name, opts.Image, err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", fmt.Errorf("%s run %s: engine returned no container ID", e.name, opts.Image)
	}
	return id, nil
}

// Remove force-removes the container.
func (e *cliEngine) Remove(ctx context.Context, containerID string) error {
	if e.binaryPath == "" {
		return &EngineNotAvailableError{Engine: e.name, Reason: "binary not found in PATH"}
	}
	out, err := e.execCommand(ctx, e.binaryPath, "rm", "-f", containerID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s rm %s: %w: %s", e.name, containerID, err, strings.TrimSpace(string(out)))
	}
	return nil
}
