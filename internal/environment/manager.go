// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/invowk/runmatrix/internal/process"
)

// DefaultRootDir is the environment directory relative to the project.
const DefaultRootDir = ".runmatrix"

// errNotProvisioned is returned for environments the manager did not hand out.
var errNotProvisioned = errors.New("environment was not acquired from this manager")

type (
	// Manager owns the environments of one run. It is safe for concurrent use.
	Manager struct {
		backend   Backend
		runner    process.Runner
		root      string
		installer []string
		cacheDir  string
		logger    *slog.Logger

		mu    sync.Mutex
		slots map[string]*slot
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)

	// InstallOptions scope a single install invocation.
	InstallOptions struct {
		Dir    string
		Env    map[string]string
		Stdout io.Writer
		Stderr io.Writer
	}

	slot struct {
		// mu serializes provisioning of the key.
		mu sync.Mutex
		// installMu serializes installs into the environment within this process.
		installMu sync.Mutex
		env       *Environment
		refs      int
		poisoned  error
	}
)

// WithRoot sets the directory environments are created under.
func WithRoot(dir string) ManagerOption {
	return func(m *Manager) { m.root = dir }
}

// WithInstaller replaces the installer command prefix.
func WithInstaller(argv []string) ManagerOption {
	return func(m *Manager) {
		if len(argv) > 0 {
			m.installer = slices.Clone(argv)
		}
	}
}

// WithCacheDir exports a shared download cache to every environment.
func WithCacheDir(dir string) ManagerOption {
	return func(m *Manager) { m.cacheDir = dir }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager on top of backend. Installs and step
// commands are executed with runner.
func NewManager(backend Backend, runner process.Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:   backend,
		runner:    runner,
		root:      DefaultRootDir,
		installer: slices.Clone(DefaultInstaller),
		logger:    slog.Default(),
		slots:     make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the manager's backend.
func (m *Manager) Backend() Backend { return m.backend }

// Acquire returns the environment for req.Key, provisioning it on first use.
// Every successful Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, req Request) (*Environment, error) {
	s := m.slotFor(req.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned != nil {
		return nil, &PoisonedError{Key: req.Key, Cause: s.poisoned}
	}
	if s.env != nil {
		if s.env.Runtime != req.Runtime {
			return nil, &ProvisioningError{
				Key:     req.Key,
				Runtime: req.Runtime,
				Reason:  fmt.Sprintf("environment already bound to runtime %q", s.env.Runtime),
			}
		}
		s.refs++
		return s.env, nil
	}

	env, err := m.backend.Provision(ctx, req, rootFor(m.root, req.Key))
	if err != nil {
		var pe *ProvisioningError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProvisioningError{Key: req.Key, Runtime: req.Runtime, Err: err}
	}
	if m.cacheDir != "" {
		if env.Vars == nil {
			env.Vars = make(map[string]string, 1)
		}
		env.Vars[EnvPipCacheDir] = m.cacheDir
	}

	m.logger.Debug("environment ready",
		"key", env.Key, "runtime", env.Runtime, "backend", env.Backend.String(), "reused", env.Reused)
	s.env = env
	s.refs = 1
	return env, nil
}

// Install runs the installer with args inside env. Concurrent installs into
// the same environment are serialized, across processes too when the
// platform supports file locks. A failed install poisons the environment
// for the rest of the run; a canceled one does not.
func (m *Manager) Install(ctx context.Context, env *Environment, args []string, opts InstallOptions) (*process.Result, error) {
	s, err := m.owned(env)
	if err != nil {
		return nil, err
	}

	s.installMu.Lock()
	defer s.installMu.Unlock()

	if cause := m.poisonedCause(s); cause != nil {
		return nil, &PoisonedError{Key: env.Key, Cause: cause}
	}

	lock, err := acquireFileLock(filepath.Clean(env.Root) + ".lock")
	if err != nil {
		return nil, &InstallError{Key: env.Key, Args: args, Err: fmt.Errorf("lock environment: %w", err)}
	}
	defer lock.Release()

	argv := append(slices.Clone(m.installer), args...)
	cmd := m.backend.Command(env, process.Command{
		Program: argv[0],
		Args:    argv[1:],
		Dir:     opts.Dir,
		Env:     opts.Env,
		Stdout:  opts.Stdout,
		Stderr:  opts.Stderr,
	})

	m.logger.Debug("installing", "key", env.Key, "args", args)
	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		ierr := &InstallError{Key: env.Key, Args: args, Err: err}
		if ctx.Err() == nil {
			m.poison(s, ierr)
		}
		return nil, ierr
	}
	if res.Canceled {
		return res, &InstallError{Key: env.Key, Args: args, ExitCode: res.ExitCode, Output: res.Output, Err: context.Cause(ctx)}
	}
	if !res.ExitCode.IsSuccess() {
		ierr := &InstallError{Key: env.Key, Args: args, ExitCode: res.ExitCode, Output: res.Output}
		m.poison(s, ierr)
		return res, ierr
	}
	return res, nil
}

// Run executes c inside env. Poisoned environments run nothing.
func (m *Manager) Run(ctx context.Context, env *Environment, c process.Command) (*process.Result, error) {
	s, err := m.owned(env)
	if err != nil {
		return nil, err
	}
	if cause := m.poisonedCause(s); cause != nil {
		return nil, &PoisonedError{Key: env.Key, Cause: cause}
	}
	return m.runner.Run(ctx, m.backend.Command(env, c))
}

// Poisoned reports whether the environment for key failed an install in this run.
func (m *Manager) Poisoned(key string) bool {
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	return ok && m.poisonedCause(s) != nil
}

// Release drops one reference to env. The last release removes a container
// environment; other environments stay provisioned until Close so later
// units with the same key reuse them.
func (m *Manager) Release(ctx context.Context, env *Environment) error {
	s, err := m.owned(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs > 0 {
		s.refs--
	}
	if s.refs > 0 || s.env == nil || s.env.Backend != BackendContainer {
		return nil
	}
	toTear := s.env
	s.env = nil
	return m.backend.Teardown(ctx, toTear)
}

// Close tears down every environment still held. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range slots {
		s.mu.Lock()
		env := s.env
		s.env = nil
		s.refs = 0
		s.mu.Unlock()
		if env == nil {
			continue
		}
		if err := m.backend.Teardown(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("teardown %q: %w", env.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) slotFor(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{}
		m.slots[key] = s
	}
	return s
}

func (m *Manager) owned(env *Environment) (*slot, error) {
	if env == nil {
		return nil, errNotProvisioned
	}
	m.mu.Lock()
	s, ok := m.slots[env.Key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", env.Key, errNotProvisioned)
	}
	return s, nil
}

func (m *Manager) poison(s *slot, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned == nil {
		s.poisoned = cause
	}
}

func (m *Manager) poisonedCause(s *slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}
