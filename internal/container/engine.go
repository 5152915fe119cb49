// SPDX-License-Identifier: MPL-2.0

// Package container drives Docker or Podman through their CLIs for the
// container environment backend.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")
	// ErrInvalidEngineType is the sentinel wrapped by InvalidEngineTypeError.
	ErrInvalidEngineType = errors.New("invalid container engine type")
)

type (
	// EngineType identifies the container engine.
	EngineType string

	// InvalidEngineTypeError is returned for engine names other than docker or podman.
	InvalidEngineTypeError struct {
		Value EngineType
	}

	// EngineNotAvailableError is returned when neither the preferred engine
	// nor its fallback can be used.
	EngineNotAvailableError struct {
		Engine EngineType
		Reason string
	}

	// Engine is the subset of container operations the environment backend needs.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// BinaryPath returns the resolved engine binary, empty when missing.
		BinaryPath() string
		// Available reports whether the engine responds.
		Available(ctx context.Context) bool
		// Start launches a detached, long-lived container and returns its ID.
		Start(ctx context.Context, opts StartOptions) (string, error)
		// ExecArgs returns the CLI arguments that run command inside a container.
		ExecArgs(containerID string, command []string, opts ExecOptions) []string
		// Remove force-removes a container.
		Remove(ctx context.Context, containerID string) error
	}

	// StartOptions configures a long-lived container.
	StartOptions struct {
		Image string
		Name  string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Volumes are "host:container[:options]" mounts.
		Volumes []string
		Env     map[string]string
		Labels  map[string]string
		// Stderr receives pull progress and engine diagnostics.
		Stderr io.Writer
	}

	// ExecOptions configures one exec invocation.
	ExecOptions struct {
		WorkDir string
		Env     map[string]string
	}
)

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidEngineType.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine %q is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// Validate returns an *InvalidEngineTypeError for unknown engines.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return &InvalidEngineTypeError{Value: t}
	}
}

// String returns the engine name.
func (t EngineType) String() string { return string(t) }

// NewEngine returns the preferred engine, falling back to the other one when
// the preferred engine does not respond.
func NewEngine(ctx context.Context, preferred EngineType, opts ...Option) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}

	candidates := []Engine{NewDockerEngine(opts...), NewPodmanEngine(opts...)}
	if preferred == EngineTypePodman {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}
	for _, e := range candidates {
		if e.Available(ctx) {
			return e, nil
		}
	}

	fallback := EngineTypePodman
	if preferred == EngineTypePodman {
		fallback = EngineTypeDocker
	}
	return nil, &EngineNotAvailableError{
		Engine: preferred,
		Reason: fmt.Sprintf("%s is not installed or not responding, and the %s fallback is not available either", preferred, fallback),
	}
}
