// SPDX-License-Identifier: MPL-2.0

// Package matrix expands session specs into concrete runnable units.
//
// A session with K runtimes expands to K units in declaration order; a
// session without runtimes expands to one unit on the default runtime.
// Expansion is pure: it renders placeholders, inlines nested includes and
// computes per-step environments without touching the host.
package matrix

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"

	"github.com/invowk/runmatrix/internal/placeholder"
	"github.com/invowk/runmatrix/internal/session"
)

type (
	// Registry is the read side of session.Registry.
	Registry interface {
		Lookup(name string) (*session.Spec, error)
		Names() []string
		Aggregate() *session.Aggregate
	}

	// Options carries caller overrides applied during expansion.
	Options struct {
		// DefaultRuntime is used by sessions that declare no runtimes.
		DefaultRuntime string
		// Runtimes filters parameterized sessions to the listed identifiers.
		Runtimes []string
		// Posargs replace the default posargs of steps that take them.
		Posargs []string
		// Params override every placeholder scope.
		Params map[string]string
		// Env overrides every step environment.
		Env map[string]string
		// ReuseExisting forces Reuse on every unit.
		ReuseExisting bool
		// BaseDir resolves relative step directories and env files.
		BaseDir string
		// LoadEnvFile reads a dotenv file. Defaults to godotenv.Read.
		LoadEnvFile func(path string) (map[string]string, error)
	}

	// expansion carries per-unit state while steps are flattened.
	expansion struct {
		reg   Registry
		opts  Options
		unit  *Unit
		stack []string
	}
)

// UnitID returns the identifier of the unit for session on runtime.
func UnitID(sessionName, runtime string, parameterized bool) string {
	if !parameterized {
		return sessionName
	}
	return sessionName + "-" + runtime
}

// Expand renders spec into one unit per runtime.
func Expand(reg Registry, spec *session.Spec, opts Options) ([]Unit, error) {
	runtimes := spec.Runtimes
	parameterized := len(runtimes) > 0
	if parameterized && len(opts.Runtimes) > 0 {
		runtimes = slices.DeleteFunc(slices.Clone(runtimes), func(rt string) bool {
			return !slices.Contains(opts.Runtimes, rt)
		})
	}
	if !parameterized {
		runtimes = []string{opts.DefaultRuntime}
	}

	units := make([]Unit, 0, len(runtimes))
	for _, rt := range runtimes {
		u, err := expandUnit(reg, spec, rt, parameterized, opts)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, nil
}

func expandUnit(reg Registry, spec *session.Spec, runtime string, parameterized bool, opts Options) (*Unit, error) {
	id := UnitID(spec.Name, runtime, parameterized)
	envKey := id
	if spec.SharedEnv != "" {
		envKey = UnitID(spec.SharedEnv, runtime, runtime != "")
	}

	u := &Unit{
		ID:          id,
		Session:     spec.Name,
		Description: spec.Description,
		Runtime:     runtime,
		EnvKey:      envKey,
		Reuse:       spec.Reuse || opts.ReuseExisting,
		Vars: map[string]string{
			"session": spec.Name,
			"runtime": runtime,
			"unit":    id,
		},
	}

	x := &expansion{reg: reg, opts: opts, unit: u}
	base := map[string]string{
		EnvSession: spec.Name,
		EnvUnit:    id,
		EnvRuntime: runtime,
	}
	if err := x.inline(spec, nil, u.Vars, base); err != nil {
		return nil, err
	}
	u.Vars = x.scope(u.Vars, spec.Params, nil)
	return u, nil
}

// scope layers placeholder maps: outer < session params < include params < caller params.
func (x *expansion) scope(outer, sessionParams, includeParams map[string]string) map[string]string {
	vars := maps.Clone(outer)
	if vars == nil {
		vars = make(map[string]string)
	}
	maps.Copy(vars, sessionParams)
	maps.Copy(vars, includeParams)
	maps.Copy(vars, x.opts.Params)
	return vars
}

// inline appends the rendered steps of spec to the unit, recursing into includes.
func (x *expansion) inline(spec *session.Spec, includeParams, outerVars, outerEnv map[string]string) error {
	if slices.Contains(x.stack, spec.Name) {
		return x.fail(spec.Name, -1, fmt.Errorf("include cycle through %q", spec.Name))
	}
	x.stack = append(x.stack, spec.Name)
	defer func() { x.stack = x.stack[:len(x.stack)-1] }()

	vars := x.scope(outerVars, spec.Params, includeParams)

	env, err := x.sessionEnv(spec, vars, outerEnv)
	if err != nil {
		return err
	}

	if err := x.addArtifacts(spec, vars); err != nil {
		return err
	}

	for i, st := range spec.Steps {
		if st.Kind == session.StepSession {
			inc, err := x.reg.Lookup(st.Session)
			if err != nil {
				return x.fail(spec.Name, i, err)
			}
			params, err := placeholder.ExpandMap(st.Params, vars)
			if err != nil {
				return x.fail(spec.Name, i, err)
			}
			if err := x.inline(inc, params, vars, env); err != nil {
				return err
			}
			continue
		}

		rs, err := x.render(spec.Name, st, vars, env)
		if err != nil {
			return x.fail(spec.Name, i, err)
		}
		rs.Index = len(x.unit.Steps)
		x.unit.Steps = append(x.unit.Steps, rs)
	}
	return nil
}

// sessionEnv builds the environment shared by a session's steps:
// outer (includer) < env_files < session env.
func (x *expansion) sessionEnv(spec *session.Spec, vars, outer map[string]string) (map[string]string, error) {
	env := maps.Clone(outer)
	if env == nil {
		env = make(map[string]string)
	}

	for _, f := range spec.EnvFiles {
		path, err := placeholder.Expand(f, vars)
		if err != nil {
			return nil, x.fail(spec.Name, -1, err)
		}
		if !filepath.IsAbs(path) && x.opts.BaseDir != "" {
			path = filepath.Join(x.opts.BaseDir, path)
		}
		loaded, err := x.loadEnvFile(path)
		if err != nil {
			return nil, x.fail(spec.Name, -1, fmt.Errorf("load env file %s: %w", path, err))
		}
		maps.Copy(env, loaded)
	}

	sessionVars, err := placeholder.ExpandMap(spec.Env, vars)
	if err != nil {
		return nil, x.fail(spec.Name, -1, err)
	}
	maps.Copy(env, sessionVars)
	return env, nil
}

func (x *expansion) addArtifacts(spec *session.Spec, vars map[string]string) error {
	patterns, err := placeholder.ExpandAll(spec.Artifacts, vars)
	if err != nil {
		return x.fail(spec.Name, -1, err)
	}
	for _, p := range patterns {
		if !slices.Contains(x.unit.Artifacts, p) {
			x.unit.Artifacts = append(x.unit.Artifacts, p)
		}
	}
	return nil
}

func (x *expansion) render(origin string, st session.Step, vars, sessionEnv map[string]string) (ResolvedStep, error) {
	rs := ResolvedStep{
		Kind:         st.Kind,
		SuccessCodes: slices.Clone(st.SuccessCodes),
		Origin:       origin,
	}

	args, err := placeholder.ExpandAll(st.Args, vars)
	if err != nil {
		return rs, err
	}
	if st.TakesPosargs {
		trailing := x.opts.Posargs
		if len(trailing) == 0 {
			if trailing, err = placeholder.ExpandAll(st.Posargs, vars); err != nil {
				return rs, err
			}
		}
		args = append(args, trailing...)
	}
	rs.Args = args

	if rs.Message, err = placeholder.Expand(st.Message, vars); err != nil {
		return rs, err
	}

	dir, err := placeholder.Expand(st.Dir, vars)
	if err != nil {
		return rs, err
	}
	rs.Dir = x.resolveDir(dir)

	stepEnv, err := placeholder.ExpandMap(st.Env, vars)
	if err != nil {
		return rs, err
	}
	env := maps.Clone(sessionEnv)
	maps.Copy(env, stepEnv)
	maps.Copy(env, x.opts.Env)
	rs.Env = env

	return rs, nil
}

func (x *expansion) resolveDir(dir string) string {
	switch {
	case dir == "":
		return x.opts.BaseDir
	case filepath.IsAbs(dir) || x.opts.BaseDir == "":
		return filepath.Clean(dir)
	default:
		return filepath.Join(x.opts.BaseDir, dir)
	}
}

func (x *expansion) loadEnvFile(path string) (map[string]string, error) {
	if x.opts.LoadEnvFile != nil {
		return x.opts.LoadEnvFile(path)
	}
	return godotenv.Read(path)
}

func (x *expansion) fail(sessionName string, step int, err error) error {
	var already *ExpansionError
	if errors.As(err, &already) {
		return err
	}
	return &ExpansionError{Unit: x.unit.ID, Session: sessionName, Step: step, Err: err}
}
