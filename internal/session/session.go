// SPDX-License-Identifier: MPL-2.0

// Package session defines session definitions and the registry that holds them.
package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

const (
	// StepInstall installs a dependency set into the unit's environment.
	StepInstall StepKind = "install"
	// StepRun runs a program inside the unit's environment.
	StepRun StepKind = "run"
	// StepLog prints a message to the unit's output.
	StepLog StepKind = "log"
	// StepRemove deletes a path relative to the step directory.
	StepRemove StepKind = "remove"
	// StepSession includes another session's steps in place.
	StepSession StepKind = "session"
)

// ErrInvalidStepKind is the sentinel wrapped by InvalidStepKindError.
var ErrInvalidStepKind = errors.New("invalid step kind")

type (
	// StepKind identifies what a step does.
	StepKind string

	// InvalidStepKindError is returned when a StepKind is not one of the known kinds.
	InvalidStepKindError struct {
		Value StepKind
	}

	// Step is one entry of a session's ordered step list.
	Step struct {
		Kind StepKind
		// Args is the fixed portion: installer arguments for install, program
		// and its fixed arguments for run, paths for remove.
		Args []string
		// Posargs is the default variable trailing portion, replaced by
		// caller-supplied positional arguments when TakesPosargs is set.
		Posargs      []string
		TakesPosargs bool
		Env          map[string]string
		// Dir overrides the working directory, relative to the sessions file.
		Dir string
		// SuccessCodes lists accepted exit codes; empty means [0].
		SuccessCodes []int
		// Message is printed by log steps.
		Message string
		// Session and Params configure a nested include.
		Session string
		Params  map[string]string
	}

	// Spec is an immutable session definition.
	Spec struct {
		Name        string
		Description string
		// Runtimes is the matrix dimension. Empty means one unit on the default runtime.
		Runtimes []string
		Steps    []Step
		// Params are placeholder defaults such as extras.
		Params map[string]string
		// Artifacts are glob templates of files each unit leaves behind.
		Artifacts []string
		EnvFiles  []string
		Env       map[string]string
		// Reuse keeps the environment on disk between invocations.
		Reuse bool
		// SharedEnv names an environment shared by every session that sets the same value.
		SharedEnv string
	}

	// Aggregate describes the merge steps run once after all units finish.
	Aggregate struct {
		Runtime string
		Steps   []Step
		Env     map[string]string
	}
)

// Error implements the error interface.
func (e *InvalidStepKindError) Error() string {
	return fmt.Sprintf("invalid step kind %q (valid: install, run, log, remove, session)", e.Value)
}

// Unwrap returns ErrInvalidStepKind.
func (e *InvalidStepKindError) Unwrap() error { return ErrInvalidStepKind }

// Validate returns an *InvalidStepKindError for unknown kinds.
func (k StepKind) Validate() error {
	switch k {
	case StepInstall, StepRun, StepLog, StepRemove, StepSession:
		return nil
	default:
		return &InvalidStepKindError{Value: k}
	}
}

// String returns the kind name.
func (k StepKind) String() string { return string(k) }

// Includes returns the names of sessions included by s, in step order.
func (s *Spec) Includes() []string {
	var names []string
	for _, st := range s.Steps {
		if st.Kind == StepSession {
			names = append(names, st.Session)
		}
	}
	return names
}

// Clone returns a deep copy of the step.
func (st Step) Clone() Step {
	out := st
	out.Args = slices.Clone(st.Args)
	out.Posargs = slices.Clone(st.Posargs)
	out.Env = maps.Clone(st.Env)
	out.SuccessCodes = slices.Clone(st.SuccessCodes)
	out.Params = maps.Clone(st.Params)
	return out
}

// Clone returns a deep copy of s.
func (s *Spec) Clone() *Spec {
	out := *s
	out.Runtimes = slices.Clone(s.Runtimes)
	out.Steps = cloneSteps(s.Steps)
	out.Params = maps.Clone(s.Params)
	out.Artifacts = slices.Clone(s.Artifacts)
	out.EnvFiles = slices.Clone(s.EnvFiles)
	out.Env = maps.Clone(s.Env)
	return &out
}

// Clone returns a deep copy of the aggregate block.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	out := *a
	out.Steps = cloneSteps(a.Steps)
	out.Env = maps.Clone(a.Env)
	return &out
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, st := range steps {
		out[i] = st.Clone()
	}
	return out
}
