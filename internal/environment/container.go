// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/invowk/runmatrix/internal/container"
	"github.com/invowk/runmatrix/internal/placeholder"
	"github.com/invowk/runmatrix/internal/platform"
	"github.com/invowk/runmatrix/internal/process"
)

const (
	// DefaultContainerWorkdir is where the project directory is mounted.
	DefaultContainerWorkdir = "/workspace"

	labelManaged = "io.runmatrix.managed"
	labelEnvKey  = "io.runmatrix.env"
)

type (
	// ContainerConfig configures the container backend.
	ContainerConfig struct {
		// ImageTemplate renders a runtime into an image, e.g. "python:${runtime}".
		ImageTemplate string
		// DefaultImage is used when the runtime is empty.
		DefaultImage string
		// Images maps runtime identifiers to images explicitly.
		Images map[string]string
		// Workdir is the mount point of ProjectDir inside the container.
		Workdir string
		// ProjectDir is the host directory bind-mounted into the container.
		ProjectDir string
		// Stderr receives image pull progress.
		Stderr io.Writer
	}

	// ContainerBackend runs each environment in one long-lived container.
	ContainerBackend struct {
		cfg    ContainerConfig
		engine container.Engine
		logger *slog.Logger
	}
)

// NewContainerBackend creates a container backend on top of engine.
func NewContainerBackend(engine container.Engine, cfg ContainerConfig, logger *slog.Logger) *ContainerBackend {
	if cfg.ImageTemplate == "" {
		cfg.ImageTemplate = "python:${runtime}"
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "python:3"
	}
	if cfg.Workdir == "" {
		cfg.Workdir = DefaultContainerWorkdir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerBackend{cfg: cfg, engine: engine, logger: logger}
}

// Type returns BackendContainer.
func (*ContainerBackend) Type() BackendType { return BackendContainer }

// Image returns the image used for runtime.
func (b *ContainerBackend) Image(runtime string) (string, error) {
	if runtime == "" {
		return b.cfg.DefaultImage, nil
	}
	if img, ok := b.cfg.Images[runtime]; ok {
		return img, nil
	}
	return placeholder.Expand(b.cfg.ImageTemplate, map[string]string{"runtime": runtime})
}

// Provision starts a container for the environment. Containers never
// outlive the run, so Reuse only affects the host-side root.
func (b *ContainerBackend) Provision(ctx context.Context, req Request, root string) (*Environment, error) {
	image, err := b.Image(req.Runtime)
	if err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "invalid image template", Err: err}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Err: err}
	}

	name := containerName(req.Key)
	opts := container.StartOptions{
		Image:   image,
		Name:    name,
		WorkDir: b.cfg.Workdir,
		Labels:  map[string]string{labelManaged: "true", labelEnvKey: req.Key},
		Stderr:  b.cfg.Stderr,
	}
	if b.cfg.ProjectDir != "" {
		opts.Volumes = []string{b.cfg.ProjectDir + ":" + b.cfg.Workdir}
	}

	b.logger.Debug("starting container", "key", req.Key, "image", image, "engine", b.engine.Name())
	id, err := b.engine.Start(ctx, opts)
	if err != nil {
		return nil, &ProvisioningError{
			Key:     req.Key,
			Runtime: req.Runtime,
			Reason:  fmt.Sprintf("cannot start %s container from %s", b.engine.Name(), image),
			Err:     err,
		}
	}

	return &Environment{
		Key:         req.Key,
		Runtime:     req.Runtime,
		Root:        root,
		Vars:        map[string]string{},
		Handle:      id,
		Interpreter: image,
		Reuse:       req.Reuse,
		Backend:     BackendContainer,
	}, nil
}

// Command turns c into an engine exec invocation. The host working
// directory is mapped into the mount when it lies under the project dir.
func (b *ContainerBackend) Command(env *Environment, c process.Command) process.Command {
	c = withVars(env, c)
	execArgs := b.engine.ExecArgs(env.Handle, append([]string{c.Program}, c.Args...), container.ExecOptions{
		WorkDir: b.containerDir(c.Dir),
		Env:     c.Env,
	})
	return process.Command{
		Program:   b.engine.BinaryPath(),
		Args:      execArgs,
		Stdout:    c.Stdout,
		Stderr:    c.Stderr,
		TailLines: c.TailLines,
	}
}

// Teardown removes the container.
func (b *ContainerBackend) Teardown(ctx context.Context, env *Environment) error {
	if env.Handle == "" {
		return nil
	}
	b.logger.Debug("removing container", "key", env.Key, "id", env.Handle)
	return b.engine.Remove(ctx, env.Handle)
}

func (b *ContainerBackend) containerDir(hostDir string) string {
	if hostDir == "" || b.cfg.ProjectDir == "" {
		return ""
	}
	rel, err := filepath.Rel(b.cfg.ProjectDir, hostDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return path.Join(b.cfg.Workdir, filepath.ToSlash(rel))
}

func containerName(key string) string {
	return "runmatrix-" + platform.SafeDirName(key) + "-" + uuid.NewString()[:8]
}
