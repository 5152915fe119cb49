// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"time"

	"github.com/invowk/runmatrix/internal/placeholder"
	"github.com/invowk/runmatrix/internal/process"
)

// markerFile records how a virtualenv was created so later invocations can
// decide whether it may be reused.
const markerFile = ".runmatrix-env.json"

// DefaultCreateCommand creates a virtualenv with the stdlib venv module.
var DefaultCreateCommand = []string{"${interpreter}", "-m", "venv", "${env_dir}"}

type (
	// VirtualenvConfig maps runtime identifiers to interpreters.
	VirtualenvConfig struct {
		// InterpreterTemplate renders a runtime into a program name, e.g. "python${runtime}".
		InterpreterTemplate string
		// DefaultInterpreter is used when the runtime is empty.
		DefaultInterpreter string
		// Interpreters maps runtime identifiers to programs explicitly (e.g. pypy -> pypy3).
		Interpreters map[string]string
		// CreateCommand creates the environment; ${interpreter}, ${env_dir}
		// and ${runtime} are available.
		CreateCommand []string
	}

	// VirtualenvBackend provisions one virtualenv per environment key.
	VirtualenvBackend struct {
		cfg      VirtualenvConfig
		runner   process.Runner
		lookPath func(string) (string, error)
		logger   *slog.Logger
	}

	// VirtualenvOption configures a VirtualenvBackend.
	VirtualenvOption func(*VirtualenvBackend)

	envMarker struct {
		Runtime     string    `json:"runtime"`
		Interpreter string    `json:"interpreter"`
		CreatedAt   time.Time `json:"created_at"`
	}
)

// WithLookPath replaces interpreter discovery on the host PATH.
func WithLookPath(fn func(string) (string, error)) VirtualenvOption {
	return func(b *VirtualenvBackend) { b.lookPath = fn }
}

// WithVirtualenvLogger sets the backend logger.
func WithVirtualenvLogger(l *slog.Logger) VirtualenvOption {
	return func(b *VirtualenvBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewVirtualenvBackend creates the virtualenv backend.
func NewVirtualenvBackend(runner process.Runner, cfg VirtualenvConfig, opts ...VirtualenvOption) *VirtualenvBackend {
	if cfg.InterpreterTemplate == "" {
		cfg.InterpreterTemplate = "python${runtime}"
	}
	if cfg.DefaultInterpreter == "" {
		cfg.DefaultInterpreter = "python3"
	}
	if len(cfg.CreateCommand) == 0 {
		cfg.CreateCommand = DefaultCreateCommand
	}
	b := &VirtualenvBackend{
		cfg:      cfg,
		runner:   runner,
		lookPath: exec.LookPath,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Type returns BackendVirtualenv.
func (*VirtualenvBackend) Type() BackendType { return BackendVirtualenv }

// ResolveInterpreter finds the host interpreter for runtime. Resolution
// order: explicit mapping, rendered template, the identifier itself.
func (b *VirtualenvBackend) ResolveInterpreter(runtime string) (string, error) {
	var candidates []string
	switch {
	case runtime == "":
		candidates = []string{b.cfg.DefaultInterpreter}
	default:
		if mapped, ok := b.cfg.Interpreters[runtime]; ok {
			candidates = append(candidates, mapped)
		}
		rendered, err := placeholder.Expand(b.cfg.InterpreterTemplate, map[string]string{"runtime": runtime})
		if err != nil {
			return "", err
		}
		candidates = append(candidates, rendered, runtime)
	}

	var tried []string
	for _, c := range candidates {
		if slices.Contains(tried, c) {
			continue
		}
		tried = append(tried, c)
		if path, err := b.lookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no interpreter found on PATH (tried %v)", tried)
}

// Provision creates the virtualenv, or keeps an existing one when reuse is
// requested and it was built for the same runtime and interpreter.
func (b *VirtualenvBackend) Provision(ctx context.Context, req Request, root string) (*Environment, error) {
	interp, err := b.ResolveInterpreter(req.Runtime)
	if err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "runtime not available", Err: err}
	}

	env := &Environment{
		Key:         req.Key,
		Runtime:     req.Runtime,
		Root:        root,
		BinDir:      binDir(root),
		Interpreter: interp,
		Reuse:       req.Reuse,
		Backend:     BackendVirtualenv,
		Vars:        map[string]string{"VIRTUAL_ENV": root},
	}

	if req.Reuse && b.reusable(root, req.Runtime, interp) {
		b.logger.Debug("reusing virtualenv", "key", req.Key, "root", root)
		env.Reused = true
		return env, nil
	}

	if err := os.RemoveAll(root); err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "cannot remove stale environment", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Err: err}
	}

	vars := map[string]string{"interpreter": interp, "env_dir": root, "runtime": req.Runtime}
	argv, err := placeholder.ExpandAll(b.cfg.CreateCommand, vars)
	if err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "invalid create command", Err: err}
	}

	b.logger.Debug("creating virtualenv", "key", req.Key, "interpreter", interp, "root", root)
	res, err := b.runner.Run(ctx, process.Command{Program: argv[0], Args: argv[1:]})
	if err != nil {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "cannot run create command", Err: err}
	}
	if res.Canceled {
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Reason: "canceled", Err: ctx.Err()}
	}
	if !res.ExitCode.IsSuccess() {
		return nil, &ProvisioningError{
			Key:     req.Key,
			Runtime: req.Runtime,
			Reason:  fmt.Sprintf("create command exited with code %d", res.ExitCode),
			Output:  res.Output,
		}
	}

	if err := writeMarker(root, envMarker{Runtime: req.Runtime, Interpreter: interp, CreatedAt: time.Now().UTC()}); err != nil {
		b.logger.Warn("cannot record virtualenv marker", "root", root, "error", err)
	}
	return env, nil
}

// Command prepends the virtualenv bin dir to PATH and sets VIRTUAL_ENV.
func (*VirtualenvBackend) Command(env *Environment, c process.Command) process.Command {
	c = withVars(env, c)
	if env.BinDir != "" {
		c.PathPrepend = append([]string{env.BinDir}, c.PathPrepend...)
	}
	return c
}

// Teardown keeps the virtualenv on disk for reuse and external caching.
func (*VirtualenvBackend) Teardown(context.Context, *Environment) error { return nil }

func (b *VirtualenvBackend) reusable(root, runtime, interp string) bool {
	data, err := os.ReadFile(filepath.Join(root, markerFile))
	if err != nil {
		return false
	}
	var m envMarker
	if err := json.Unmarshal(data, &m); err != nil {
		b.logger.Debug("ignoring unreadable virtualenv marker", "root", root, "error", err)
		return false
	}
	if m.Runtime != runtime || m.Interpreter != interp {
		return false
	}
	_, err = os.Stat(binDir(root))
	return err == nil
}

func writeMarker(root string, m envMarker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, markerFile), data, 0o644)
}

func binDir(root string) string {
	if goruntime.GOOS == "windows" {
		return filepath.Join(root, "Scripts")
	}
	return filepath.Join(root, "bin")
}
